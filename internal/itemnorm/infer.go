package itemnorm

import (
	"encoding/json"
	"time"

	"github.com/ChuLiYu/beaver-normalize/pkg/schema"
)

// inferColumnType maps one decoded JSON value to the narrowest column type
// that represents it. Values decoded via a json.Decoder with UseNumber()
// come through as json.Number, bool, string, map[string]interface{}, or
// []interface{}; nil values carry no type information and are skipped by
// the caller.
func inferColumnType(v interface{}) (schema.ColumnType, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case bool:
		return schema.Bool, true
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return schema.BigInt, true
		}
		return schema.Double, true
	case string:
		if looksLikeTimestamp(val) {
			return schema.Timestamp, true
		}
		return schema.Text, true
	case map[string]interface{}, []interface{}:
		return schema.JSON, true
	default:
		return schema.Text, true
	}
}

// looksLikeTimestamp reports whether a string parses as RFC3339, the one
// unambiguous textual timestamp encoding worth special-casing without a
// user-supplied format hint.
func looksLikeTimestamp(s string) bool {
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// widenInto folds one observed value's type into an accumulating partial
// column map, widening on repeat columns and raising a coercion conflict
// the same way the authoritative Schema would.
func widenInto(columns map[string]schema.Column, name string, v interface{}) error {
	t, ok := inferColumnType(v)
	if !ok {
		return nil
	}
	existing, ok := columns[name]
	if !ok {
		columns[name] = schema.Column{Name: name, Type: t}
		return nil
	}
	widened, err := schema.Widen(existing.Type, t)
	if err != nil {
		return &schema.ColumnCoercionConflict{
			Table:    "",
			Column:   name,
			Existing: existing.Type,
			Incoming: t,
		}
	}
	columns[name] = schema.Column{Name: name, Type: widened}
	return nil
}
