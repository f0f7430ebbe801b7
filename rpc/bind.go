package rpc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// base64Marker prefixes every []byte value in canonical RPC wire
// representation (spec.md §4.5 "canonical serialization", §8 scenario 6:
// "a byte argument round-trips through its base64 marker unchanged").
const base64Marker = "data:application/octet-stream;base64,"

// bindPositional maps a positional argument list onto the method's
// declared parameters, in struct-field order, then binds it exactly like a
// keyword call (spec.md §4.5: "positional and keyword calling conventions
// bind through the same path").
func (m *Method) bindPositional(args []interface{}) (reflect.Value, *Error) {
	if len(args) > len(m.params) {
		return reflect.Value{}, NewInvalidArguments(fmt.Sprintf("%s: too many positional arguments: got %d, want at most %d", m.Name, len(args), len(m.params)))
	}
	kwargs := make(map[string]interface{}, len(args))
	for i, v := range args {
		kwargs[m.params[i].Name] = v
	}
	return m.bindKwargs(kwargs)
}

// bindKwargs builds an ArgsStruct value for the method's callable from raw
// keyword arguments. It is total over the declared parameter set (spec.md
// §8 "argument binding is total"): every required parameter absent from
// kwargs is InvalidArguments, every present value that cannot coerce to its
// declared Go type is InvalidArguments, and the result otherwise always
// binds.
func (m *Method) bindKwargs(kwargs map[string]interface{}) (reflect.Value, *Error) {
	argsPtr := reflect.New(m.argsType)
	args := argsPtr.Elem()

	seen := make(map[string]bool, len(kwargs))
	var missing []string
	for _, p := range m.params {
		raw, present := kwargs[p.Name]
		seen[p.Name] = true
		if !present {
			if p.Required {
				missing = append(missing, p.Name)
				continue
			}
			if p.Default == nil {
				continue
			}
			raw = p.Default
		}
		field := args.Field(p.FieldIndex)
		if err := coerceInto(field, raw); err != nil {
			return reflect.Value{}, NewInvalidArguments(fmt.Sprintf("%s: argument %q: %v", m.Name, p.Name, err))
		}
	}
	if len(missing) > 0 {
		return reflect.Value{}, NewInvalidArguments(fmt.Sprintf("Missing %d required argument(s): %s", len(missing), strings.Join(missing, ", ")))
	}
	for name := range kwargs {
		if !seen[name] {
			return reflect.Value{}, NewInvalidArguments("Got an unexpected argument: " + name)
		}
	}

	if err := m.validate.Struct(args.Interface()); err != nil {
		return reflect.Value{}, NewInvalidArguments(fmt.Sprintf("%s: %v", m.Name, err))
	}
	return args, nil
}

// coerceInto assigns raw into field, special-casing []byte (the base64
// marker round trip) and otherwise round-tripping through JSON so any
// JSON-decoded shape (map, slice, number, string) lands on field's declared
// Go type the same way a wire-format decode would.
func coerceInto(field reflect.Value, raw interface{}) error {
	if field.Type() == reflect.TypeOf([]byte(nil)) {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected a base64 byte string, got %T", raw)
		}
		b, err := decodeBytes(s)
		if err != nil {
			return err
		}
		field.SetBytes(b)
		return nil
	}

	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("not serializable: %w", err)
	}
	target := reflect.New(field.Type())
	if err := json.Unmarshal(buf, target.Interface()); err != nil {
		return fmt.Errorf("cannot coerce %T to %s: %w", raw, field.Type(), err)
	}
	field.Set(target.Elem())
	return nil
}

func decodeBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, base64Marker)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 byte string: %w", err)
	}
	return b, nil
}

func encodeBytes(b []byte) string {
	return base64Marker + base64.StdEncoding.EncodeToString(b)
}
