package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))
	return configPath
}

func TestConfigLoading(t *testing.T) {
	configPath := writeConfig(t, `
source:
  type: s3
  path: topics
  s3:
    bucket: raw-bucket
    region: eu-west-1
    endpoint: http://localhost:9000
    accessKey: key
    secretKey: secret
    pathStyle: true
target:
  type: azure
  path: output
  azure:
    container: restructured
    connectionString: UseDevelopmentStorage=true
worker:
  numThreads: 4
  cacheSize: 50
  maxAttempts: 3
format:
  type: json
  compression: gzip
  deduplication:
    enabled: true
    distinctFields: [key.userId, value.time]
topics:
  exclude: [connect_configs]
offsets:
  backend: badger
lock:
  backend: badger
  ttl: 30m
cleaner:
  enabled: true
  age: 48h
notify:
  enabled: true
  brokers: [localhost:9092]
  topic: restructure_events
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.Source.Type)
	assert.Equal(t, "raw-bucket", cfg.Source.S3.Bucket)
	assert.True(t, cfg.Source.S3.PathStyle)
	assert.Equal(t, "restructured", cfg.Target.Azure.Container)
	assert.Equal(t, 4, cfg.Worker.NumThreads)
	assert.Equal(t, 50, cfg.Worker.CacheSize)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, "json", cfg.Format.Type)
	assert.Equal(t, []string{"key.userId", "value.time"}, cfg.Format.Deduplication.DistinctFields)
	assert.Equal(t, []string{"connect_configs"}, cfg.Topics.Exclude)
	assert.Equal(t, "badger", cfg.Offsets.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, 48*time.Hour, cfg.Cleaner.Age)
	assert.True(t, cfg.Notify.Enabled)

	// untouched keys keep their defaults
	assert.Equal(t, int64(500_000), cfg.Worker.CacheOffsetsSize)
	assert.Equal(t, time.Second, cfg.Offsets.Debounce)
	assert.Equal(t, "observation-key", cfg.Paths.Factory)
}

func TestConfigDefaultsOnEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, Default().Worker, cfg.Worker)
	assert.Equal(t, "csv", cfg.Format.Type)
	assert.Equal(t, "file", cfg.Lock.Backend)
}

func TestConfigErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "not found")

	_, err = Load(writeConfig(t, "worker: [not, a, map]"))
	assert.ErrorContains(t, err, "parse config file")

	tests := map[string]string{
		"threads":   "worker:\n  numThreads: 0\n",
		"cache":     "worker:\n  cacheSize: 0\n",
		"attempts":  "worker:\n  maxAttempts: 0\n",
		"s3 bucket": "target:\n  type: s3\n",
		"azure":     "source:\n  type: azure\n",
		"notify":    "notify:\n  enabled: true\n",
		"lock ttl":  "lock:\n  ttl: 0s\n",
		"offsets":   "offsets:\n  backend: redis\n",
		"lock":      "lock:\n  backend: csv\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}
