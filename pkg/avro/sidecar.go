package avro

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SidecarName is the name of the schema file written next to the output of
// a topic.
func SidecarName(topic string) string {
	return "schema-" + topic + ".json"
}

// Sidecar renders the writer schema of rec as indented JSON. The schema text
// stored in the container is kept as written, with its field order, docs and
// defaults; records without one fall back to the parsed schema.
func Sidecar(rec Record) ([]byte, error) {
	text := rec.SchemaJSON
	if len(text) == 0 {
		if rec.Schema == nil {
			return nil, fmt.Errorf("record has no schema")
		}
		text = []byte(rec.Schema.String())
	}
	if !json.Valid(text) {
		return nil, fmt.Errorf("render schema: invalid JSON")
	}
	var buf bytes.Buffer
	if err := stdjson.Indent(&buf, bytes.TrimSpace(text), "", "  "); err != nil {
		return nil, fmt.Errorf("render schema: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
