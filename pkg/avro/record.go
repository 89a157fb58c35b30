// Package avro reads Avro object container files (OCF) as written by the
// storage sink connectors and turns their records into plain Go values.
package avro

import (
	havro "github.com/hamba/avro/v2"
)

// Record is one decoded OCF record. Data holds nested map[string]any values
// with union wrappers removed. SchemaJSON is the schema text of the
// container header, shared by all records of a file.
type Record struct {
	Schema     *havro.RecordSchema
	SchemaJSON []byte
	Data       map[string]any
}

// Get walks nested records along path. The bool is false when any element
// of path is missing or not a record.
func (r Record) Get(path ...string) (any, bool) {
	var cur any = r.Data
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path when it is a non-empty string.
func (r Record) String(path ...string) (string, bool) {
	v, ok := r.Get(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
