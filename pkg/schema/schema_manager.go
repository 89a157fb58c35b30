package schema

import (
	"strings"
	"sync"

	havro "github.com/hamba/avro/v2"
)

const (
	timestampTypeName = "timestamp"
	nullTypeName      = "null"
	intTypeName       = "int"
	longTypeName      = "long"
	stringTypeName    = "string"
	boolTypeName      = "bool"
	floatTypeName     = "float"
	doubleTypeName    = "double"
	bytesTypeName     = "bytes"
	dateTypeName      = "date"
	timeTypeName      = "time"
	decimalTypeName   = "decimal"
	uuidTypeName      = "uuid"
	jsonTypeName      = "json"

	// recursive record types are cut off below this depth and written as a
	// single JSON column
	maxDepth = 16
)

// TableSchema is the flattened column layout of one Avro record schema.
type TableSchema struct {
	Types      map[string]string
	FieldOrder []string
}

// Manager caches layouts by schema fingerprint. Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	schemas map[[32]byte]TableSchema
}

func NewSchemaManager() *Manager {
	return &Manager{
		schemas: make(map[[32]byte]TableSchema),
	}
}

// Layout returns the flattened layout of s, computing it on first use.
func (sm *Manager) Layout(s havro.Schema) TableSchema {
	fp := s.Fingerprint()

	sm.mu.RLock()
	ts, ok := sm.schemas[fp]
	sm.mu.RUnlock()
	if ok {
		return ts
	}

	ts = FromAvro(s)
	sm.mu.Lock()
	sm.schemas[fp] = ts
	sm.mu.Unlock()
	return ts
}

// Len reports the number of cached layouts.
func (sm *Manager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.schemas)
}

// IsSchemaDifferent checks if two TableSchemas differ in structure.
func (sm *Manager) IsSchemaDifferent(old, newSchema TableSchema) bool {
	if len(newSchema.FieldOrder) != len(old.FieldOrder) {
		return true
	}
	for i, name := range newSchema.FieldOrder {
		if old.FieldOrder[i] != name || old.Types[name] != newSchema.Types[name] {
			return true
		}
	}
	return false
}

// FromAvro derives the flattened layout of s. Nested record fields become
// dot separated columns; a ["null", T] union takes the layout of T.
func FromAvro(s havro.Schema) TableSchema {
	ts := TableSchema{Types: make(map[string]string)}
	walk(s, "", nil, 0, func(name, typ string, _ any) {
		ts.FieldOrder = append(ts.FieldOrder, name)
		ts.Types[name] = typ
	})
	return ts
}

// Flatten returns the values of v in the column order of FromAvro(s),
// formatted for text output. Absent values are empty strings.
func Flatten(s havro.Schema, v any) []string {
	var out []string
	walk(s, "", v, 0, func(_, _ string, val any) {
		out = append(out, FormatValue(val))
	})
	return out
}

func walk(s havro.Schema, prefix string, v any, depth int, visit func(name, typ string, v any)) {
	if depth > maxDepth {
		visit(prefix, jsonTypeName, v)
		return
	}

	switch sc := s.(type) {
	case *havro.RefSchema:
		walk(sc.Schema(), prefix, v, depth+1, visit)
	case *havro.RecordSchema:
		m, _ := v.(map[string]any)
		for _, f := range sc.Fields() {
			var fv any
			if m != nil {
				fv = m[f.Name()]
			}
			walk(f.Type(), join(prefix, f.Name()), fv, depth+1, visit)
		}
	case *havro.UnionSchema:
		if branch := NullableBranch(sc); branch != nil {
			walk(branch, prefix, v, depth, visit)
			return
		}
		visit(prefix, stringTypeName, v)
	default:
		visit(prefix, columnType(s), v)
	}
}

// NullableBranch returns T for a ["null", T] union, or nil when the union
// has more than one non-null branch.
func NullableBranch(u *havro.UnionSchema) havro.Schema {
	var branch havro.Schema
	for _, t := range u.Types() {
		if t.Type() == havro.Null {
			continue
		}
		if branch != nil {
			return nil
		}
		branch = t
	}
	return branch
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	var b strings.Builder
	b.Grow(len(prefix) + 1 + len(name))
	b.WriteString(prefix)
	b.WriteByte('.')
	b.WriteString(name)
	return b.String()
}
