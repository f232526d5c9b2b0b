package sandbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// bindArgs converts an input record into entry point arguments.
//
//   - a map whose keys are exactly the parameter names binds by name
//   - a list binds by position (a single slice parameter takes the whole list)
//   - anything else binds to a single parameter
func bindArgs(t reflect.Type, names []string, input any) ([]reflect.Value, error) {
	n := t.NumIn()

	var raw []any
	switch v := input.(type) {
	case nil:
		if n != 0 {
			return nil, fmt.Errorf("entry point takes %d arguments but input is empty", n)
		}
		return nil, nil
	case map[string]any:
		if bound, ok := byName(v, names); ok {
			raw = bound
		} else if n == 1 {
			raw = []any{v}
		} else {
			return nil, fmt.Errorf("input keys %v do not match parameters %v", sortedKeys(v), names)
		}
	case []any:
		switch {
		case n == 1 && isSequence(t.In(0)):
			raw = []any{v}
		case len(v) == n:
			raw = v
		default:
			return nil, fmt.Errorf("entry point takes %d arguments, input has %d", n, len(v))
		}
	default:
		if n != 1 {
			return nil, fmt.Errorf("entry point takes %d arguments, input is a single value", n)
		}
		raw = []any{v}
	}

	args := make([]reflect.Value, n)
	for i := range raw {
		arg, err := convert(raw[i], t.In(i))
		if err != nil {
			label := fmt.Sprintf("#%d", i)
			if i < len(names) && names[i] != "" {
				label = names[i]
			}
			return nil, fmt.Errorf("argument %s: %w", label, err)
		}
		args[i] = arg
	}
	return args, nil
}

func byName(m map[string]any, names []string) ([]any, bool) {
	if len(m) != len(names) {
		return nil, false
	}
	out := make([]any, len(names))
	for i, name := range names {
		v, ok := m[name]
		if !ok || name == "" {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func isSequence(t reflect.Type) bool {
	return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// convert coerces a decoded value into t through its JSON form.
func convert(v any, t reflect.Type) (reflect.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot use %s as %s", strings.TrimSpace(string(data)), t)
	}
	return ptr.Elem(), nil
}

type invocation struct {
	value any
	has   bool
	err   error
}

// invoke calls the entry point. A trailing non-nil error result becomes err;
// several remaining results are returned as a list.
func invoke(fn reflect.Value, args []reflect.Value) invocation {
	t := fn.Type()
	var out []reflect.Value
	if t.IsVariadic() {
		out = fn.CallSlice(args)
	} else {
		out = fn.Call(args)
	}

	if n := len(out); n > 0 && t.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			return invocation{err: fmt.Errorf("entry point returned error: %v", e.Interface())}
		}
		out = out[:n-1]
	}

	switch len(out) {
	case 0:
		return invocation{}
	case 1:
		return invocation{value: out[0].Interface(), has: true}
	}
	values := make([]any, len(out))
	for i, v := range out {
		values[i] = v.Interface()
	}
	return invocation{value: values, has: true}
}

// normalize maps a value onto its JSON data model, keeping numbers exact.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
