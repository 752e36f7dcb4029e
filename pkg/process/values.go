package process

import (
	"math"
	"reflect"
)

// coerce returns v as a value assignable to t. Numbers are converted between
// numeric kinds when no precision is lost, so values decoded from JSON or
// exported from a script runtime can feed typed Go bodies.
func coerce(v any, t reflect.Type) (any, bool) {
	if t == nil || v == nil {
		return v, true
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return v, true
	}
	if !isNumber(rv.Kind()) || !isNumber(t.Kind()) {
		return nil, false
	}
	if isFloat(rv.Kind()) && !isFloat(t.Kind()) {
		f := rv.Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, false
		}
	}
	return rv.Convert(t).Interface(), true
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// stringMap returns v as a map[string]any when v is any map with string
// keys.
func stringMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return copyMap(m), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	for iter := rv.MapRange(); iter.Next(); {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
