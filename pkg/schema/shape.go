package schema

import "fmt"

// ApplyDefaults returns a copy of data with the declared defaults filled
// in where a member is missing. Present values are never replaced.
// Nested objects whose members have defaults are created when absent.
func ApplyDefaults(data any, f *Field) (any, error) {
	data, err := root(data, f)
	if err != nil {
		return nil, err
	}
	return defaults(data, f), nil
}

// Structure returns a copy of data holding only the declared members.
// Missing objects that gain members and missing arrays are created empty.
func Structure(data any, f *Field) (any, error) {
	data, err := root(data, f)
	if err != nil {
		return nil, err
	}
	return structure(data, f)
}

// Conform applies defaults, drops undeclared members and validates the
// result.
func Conform(data any, f *Field, v *Validator) (any, Report, error) {
	data, err := ApplyDefaults(data, f)
	if err != nil {
		return nil, Report{}, err
	}
	if data, err = Structure(data, f); err != nil {
		return nil, Report{}, err
	}
	return data, v.Validate(data, f), nil
}

func root(data any, f *Field) (any, error) {
	switch f.Type {
	case TypeArray:
		if data == nil {
			return []any{}, nil
		}
		if _, ok := data.([]any); !ok {
			return nil, fmt.Errorf("schema type is ARRAY but data is %T", data)
		}
	case TypeObject:
		if data == nil {
			return map[string]any{}, nil
		}
		if _, ok := data.(map[string]any); !ok {
			return nil, fmt.Errorf("schema type is OBJECT but data is %T", data)
		}
	}
	return data, nil
}

func defaults(data any, f *Field) any {
	switch f.Type {
	case TypeObject:
		src, ok := data.(map[string]any)
		if !ok && data != nil {
			return data
		}
		obj := make(map[string]any, len(src)+len(f.Fields))
		for k, v := range src {
			obj[k] = clone(v)
		}
		for name, child := range f.Fields {
			value, ok := obj[name]
			switch {
			case ok && (child.Type == TypeObject || child.Type == TypeArray):
				obj[name] = defaults(value, child)
			case ok:
			case child.Default != nil:
				obj[name] = clone(child.Default)
			case child.Type == TypeObject && len(child.Fields) > 0:
				if nested := defaults(nil, child).(map[string]any); len(nested) > 0 {
					obj[name] = nested
				}
			}
		}
		return obj
	case TypeArray:
		arr, ok := data.([]any)
		if !ok {
			return data
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			if f.Items != nil {
				out[i] = defaults(item, f.Items)
			} else {
				out[i] = clone(item)
			}
		}
		return out
	}
	return data
}

func structure(data any, f *Field) (any, error) {
	switch f.Type {
	case TypeObject:
		obj, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", data)
		}
		if f.Fields == nil {
			return clone(obj), nil
		}
		out := make(map[string]any, len(f.Fields))
		for name, child := range f.Fields {
			value, ok := obj[name]
			nested := (child.Type == TypeObject && child.Fields != nil) || (child.Type == TypeArray && child.Items != nil)
			switch {
			case ok && nested:
				// Members of the wrong shape are dropped.
				if sv, err := structure(value, child); err == nil {
					out[name] = sv
				}
			case ok:
				out[name] = clone(value)
			case child.Type == TypeObject && child.Fields != nil:
				sv, _ := structure(map[string]any{}, child)
				if m := sv.(map[string]any); len(m) > 0 {
					out[name] = m
				}
			case child.Type == TypeArray && child.Items != nil:
				out[name] = []any{}
			}
		}
		return out, nil
	case TypeArray:
		arr, ok := data.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", data)
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = clone(item)
			if f.Items == nil {
				continue
			}
			if sv, err := structure(item, f.Items); err == nil {
				out[i] = sv
			}
		}
		return out, nil
	}
	return data, nil
}

func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = clone(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = clone(e)
		}
		return s
	}
	return v
}
