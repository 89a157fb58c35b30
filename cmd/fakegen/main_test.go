package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWritesTopicFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	text := fmt.Sprintf("source:\n  path: %[1]s/source\ntarget:\n  path: %[1]s/target\nworker:\n  tempDir: %[1]s\n", dir)
	require.NoError(t, os.WriteFile(cfg, []byte(text), 0o644))

	err := newApp().Run([]string{"fakegen", "-c", cfg, "--topic", "battery", "--partitions", "2", "--files", "2", "--records", "3"})
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "source", "battery", "partition=*", "*.avro"))
	require.NoError(t, err)
	assert.Len(t, files, 4)
	assert.FileExists(t, filepath.Join(dir, "source", "battery", "partition=1", "battery+1+0000000003+0000000005.avro"))
}
