package avro

import (
	havro "github.com/hamba/avro/v2"
)

const maxDepth = 32

// normalizeRecord removes the {"branch": value} wrappers that the generic
// decoder puts around non-nullable union values, in place.
func normalizeRecord(s *havro.RecordSchema, m map[string]any, depth int) {
	for _, f := range s.Fields() {
		if v, ok := m[f.Name()]; ok {
			m[f.Name()] = normalize(f.Type(), v, depth+1)
		}
	}
}

func normalize(s havro.Schema, v any, depth int) any {
	if v == nil || depth > maxDepth {
		return v
	}

	switch sc := s.(type) {
	case *havro.RefSchema:
		return normalize(sc.Schema(), v, depth+1)
	case *havro.RecordSchema:
		if m, ok := v.(map[string]any); ok {
			normalizeRecord(sc, m, depth)
		}
		return v
	case *havro.ArraySchema:
		if items, ok := v.([]any); ok {
			for i := range items {
				items[i] = normalize(sc.Items(), items[i], depth+1)
			}
		}
		return v
	case *havro.MapSchema:
		if m, ok := v.(map[string]any); ok {
			for k, mv := range m {
				m[k] = normalize(sc.Values(), mv, depth+1)
			}
		}
		return v
	case *havro.UnionSchema:
		return unwrapUnion(sc, v, depth)
	default:
		return v
	}
}

func unwrapUnion(u *havro.UnionSchema, v any, depth int) any {
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		for name, inner := range m {
			for _, branch := range u.Types() {
				if branchName(branch) == name {
					return normalize(branch, inner, depth+1)
				}
			}
		}
	}
	// already unwrapped, as for ["null", T]
	for _, branch := range u.Types() {
		if branch.Type() != havro.Null {
			return normalize(branch, v, depth+1)
		}
	}
	return v
}

// branchName is the key the decoder uses for a union branch: the full name
// of named types, otherwise the type optionally suffixed by its logical type.
func branchName(s havro.Schema) string {
	if ref, ok := s.(*havro.RefSchema); ok {
		s = ref.Schema()
	}
	if named, ok := s.(havro.NamedSchema); ok {
		return named.FullName()
	}
	name := string(s.Type())
	if lt, ok := s.(havro.LogicalTypeSchema); ok {
		if l := lt.Logical(); l != nil {
			name += "." + string(l.Type())
		}
	}
	return name
}
