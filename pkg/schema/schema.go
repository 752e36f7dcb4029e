// Package schema checks and shapes decoded JSON values against a declared
// field layout.
//
// Values are the generic forms encoding/json produces: map[string]any,
// []any, string, float64, bool and nil. Integer kinds are accepted
// wherever a NUMBER is expected.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSchema is wrapped by every definition error.
var ErrInvalidSchema = errors.New("invalid schema")

// Type is the declared type of a field.
type Type string

const (
	TypeString   Type = "STRING"
	TypeNumber   Type = "NUMBER"
	TypeBoolean  Type = "BOOLEAN"
	TypeObject   Type = "OBJECT"
	TypeArray    Type = "ARRAY"
	TypeDate     Type = "DATE"
	TypeDateTime Type = "DATETIME"
	TypeByte     Type = "BYTE"
	TypeAny      Type = "ANY"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray,
		TypeDate, TypeDateTime, TypeByte, TypeAny:
		return true
	}
	return false
}

// Field describes one value. The root of a schema is a Field too.
type Field struct {
	Type        Type              `json:"type"`
	Required    bool              `json:"required,omitempty"`
	Default     any               `json:"default,omitempty"`
	Description string            `json:"description,omitempty"`
	Rules       *Rules            `json:"validation,omitempty"`
	Fields      map[string]*Field `json:"properties,omitempty"`
	Items       *Field            `json:"items,omitempty"`
}

// Rules are the optional constraints of a field. Length rules apply to
// STRING and BYTE fields, the latter counting decoded bytes.
type Rules struct {
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Format    string   `json:"format,omitempty"`
	Enum      []string `json:"enum,omitempty"`

	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	MinItems    *int `json:"minItems,omitempty"`
	MaxItems    *int `json:"maxItems,omitempty"`
	UniqueItems bool `json:"uniqueItems,omitempty"`
}

// Parse decodes a JSON definition and checks it.
func Parse(data []byte) (*Field, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty definition", ErrInvalidSchema)
	}
	var f Field
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if err := f.check("root"); err != nil {
		return nil, err
	}
	return &f, nil
}

// FromValue converts a decoded definition, such as a process input, to a
// checked Field.
func FromValue(v any) (*Field, error) {
	switch d := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: no definition", ErrInvalidSchema)
	case *Field:
		if err := d.check("root"); err != nil {
			return nil, err
		}
		return d, nil
	case []byte:
		return Parse(d)
	case string:
		return Parse([]byte(d))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return Parse(data)
}

func (f *Field) check(path string) error {
	if f.Type == "" {
		return fmt.Errorf("%w: %s has no type", ErrInvalidSchema, path)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("%w: %s has unknown type %s", ErrInvalidSchema, path, f.Type)
	}
	for name, child := range f.Fields {
		if child == nil {
			return fmt.Errorf("%w: %s.%s is empty", ErrInvalidSchema, path, name)
		}
		if err := child.check(path + "." + name); err != nil {
			return err
		}
	}
	if f.Items != nil {
		if err := f.Items.check(path + "[]"); err != nil {
			return err
		}
	}
	if f.Rules != nil {
		return f.Rules.check(f.Type, path)
	}
	return nil
}

func (r *Rules) check(t Type, path string) error {
	misuse := func(rules string) error {
		return fmt.Errorf("%w: %s uses %s rules on type %s", ErrInvalidSchema, path, rules, t)
	}
	if t != TypeString && t != TypeByte && (r.MinLength != nil || r.MaxLength != nil) {
		return misuse("length")
	}
	if t != TypeString && (r.Pattern != "" || r.Format != "" || len(r.Enum) > 0) {
		return misuse("string")
	}
	if t != TypeNumber && (r.Minimum != nil || r.Maximum != nil) {
		return misuse("number")
	}
	if t != TypeArray && (r.MinItems != nil || r.MaxItems != nil || r.UniqueItems) {
		return misuse("array")
	}
	return nil
}
