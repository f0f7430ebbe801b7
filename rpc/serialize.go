package rpc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"time"
)

// Serialize converts a method's Go result value into the canonical,
// transport-agnostic shape (spec.md §4.5 "canonical serialization"): bytes
// become a base64-marker string, times become RFC3339, URLs and other
// fmt.Stringer values become their string form, and everything else
// round-trips through JSON so structs
// become maps and slices/maps are deep-converted the same way every
// transport would encode them.
func Serialize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case []byte:
		return encodeBytes(t), nil
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	case url.URL:
		return t.String(), nil
	case *url.URL:
		if t == nil {
			return nil, nil
		}
		return t.String(), nil
	case fmt.Stringer:
		return t.String(), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, nil
		}
		return Serialize(rv.Elem().Interface())
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return encodeBytes(rv.Bytes()), nil
	}

	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: result not serializable: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(buf, &generic); err != nil {
		return nil, fmt.Errorf("rpc: result not serializable: %w", err)
	}
	return generic, nil
}
