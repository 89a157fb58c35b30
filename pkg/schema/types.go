package schema

import (
	havro "github.com/hamba/avro/v2"
)

// columnType translates a leaf Avro schema into a column type keyword.
func columnType(s havro.Schema) string {
	switch s.(type) {
	case *havro.ArraySchema, *havro.MapSchema:
		return jsonTypeName
	case *havro.EnumSchema:
		return stringTypeName // store enum symbol text
	}

	if lt := logicalType(s); lt != "" {
		return mapLogicalOrPrimitive(lt)
	}
	return mapLogicalOrPrimitive(string(s.Type()))
}

func mapLogicalOrPrimitive(t string) string {
	switch t {
	// Primitives
	case stringTypeName:
		return stringTypeName
	case "boolean":
		return boolTypeName
	case intTypeName:
		return intTypeName
	case longTypeName:
		return longTypeName
	case floatTypeName:
		return floatTypeName
	case doubleTypeName:
		return doubleTypeName
	case bytesTypeName, "fixed":
		return bytesTypeName
	case nullTypeName:
		return nullTypeName

	// Logical types
	case decimalTypeName:
		return decimalTypeName
	case uuidTypeName:
		return uuidTypeName
	case dateTypeName:
		return dateTypeName
	case "time-millis", "time-micros":
		return timeTypeName
	case "timestamp-millis", "timestamp-micros", "local-timestamp-millis", "local-timestamp-micros":
		return timestampTypeName
	default:
		return stringTypeName
	}
}

func logicalType(s havro.Schema) string {
	if ls, ok := s.(havro.LogicalTypeSchema); ok {
		if l := ls.Logical(); l != nil {
			return string(l.Type())
		}
	}
	return ""
}
