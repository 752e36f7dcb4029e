package schema

import (
	"errors"
	"fmt"

	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
)

// FactoryID is the factory the schema processes are registered in.
const FactoryID = "schema"

// ErrValidationFailed is returned by a strict schema.conform run whose
// result does not validate.
var ErrValidationFailed = errors.New("validation failed")

// Processes returns the schema processes. Each takes the value as "data"
// and its definition, a JSON object or string, as "schema".
//
//	schema.validate        data, schema            -> valid, issues
//	schema.apply_defaults  data, schema            -> data
//	schema.structure       data, schema            -> data
//	schema.conform         data, schema, strict=true -> data, valid, issues
func Processes(v *Validator) ([]*process.Process, error) {
	if v == nil {
		v = NewValidator()
	}
	builders := []*process.Builder{
		schemaProcess("validate", "Checks data against a schema").
			Output("valid", process.TypeOf[bool]()).
			Output("issues", process.TypeOf[[]Issue]()).
			Func(func(data, def any) (map[string]any, error) {
				f, err := FromValue(def)
				if err != nil {
					return nil, err
				}
				r := v.Validate(data, f)
				return map[string]any{"valid": r.Valid, "issues": issues(r)}, nil
			}),
		schemaProcess("apply_defaults", "Fills missing members with their declared defaults").
			Output("data", nil).
			Func(transform(ApplyDefaults)),
		schemaProcess("structure", "Drops members the schema does not declare").
			Output("data", nil).
			Func(transform(Structure)),
		schemaProcess("conform", "Applies defaults, drops undeclared members and validates").
			OptionalInput("strict", true).
			Output("data", nil).
			Output("valid", process.TypeOf[bool]()).
			Output("issues", process.TypeOf[[]Issue]()).
			Func(func(data, def any, strict bool) (map[string]any, error) {
				f, err := FromValue(def)
				if err != nil {
					return nil, err
				}
				out, r, err := Conform(data, f, v)
				if err != nil {
					return nil, err
				}
				if strict && !r.Valid {
					return nil, fmt.Errorf("%w: %d issues, first %s", ErrValidationFailed, len(r.Issues), r.Issues[0])
				}
				return map[string]any{"data": out, "valid": r.Valid, "issues": issues(r)}, nil
			}),
	}

	ps := make([]*process.Process, 0, len(builders))
	for _, b := range builders {
		p, err := b.Build()
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// Register adds the schema processes to f.
func Register(f *registry.Factory, v *Validator) error {
	ps, err := Processes(v)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if err := f.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func schemaProcess(name, description string) *process.Builder {
	return process.New(name).
		ID("schema."+name).
		Description(description).
		Keywords("schema", "validation").
		Input("data", nil).
		Input("schema", nil)
}

// transform adapts a shaping function to a single "data" output. The
// result is wrapped so an object value is not read as a result map.
func transform(fn func(any, *Field) (any, error)) func(any, any) (map[string]any, error) {
	return func(data, def any) (map[string]any, error) {
		f, err := FromValue(def)
		if err != nil {
			return nil, err
		}
		out, err := fn(data, f)
		if err != nil {
			return nil, err
		}
		return map[string]any{"data": out}, nil
	}
}

func issues(r Report) []Issue {
	if r.Issues == nil {
		return []Issue{}
	}
	return r.Issues
}
