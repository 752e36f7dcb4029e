package script

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
)

// Manifest declares a script process in JSON.
//
//	{
//	  "id": "add-one",
//	  "title": "addOne",
//	  "keywords": ["math"],
//	  "inputs": [{"name": "n", "type": "integer"}],
//	  "outputs": [{"name": "r", "type": "integer"}],
//	  "script": "return n + 1;"
//	}
type Manifest struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Version       string     `json:"version,omitempty"`
	Keywords      []string   `json:"keywords,omitempty"`
	Inputs        []SlotSpec `json:"inputs,omitempty"`
	Outputs       []SlotSpec `json:"outputs,omitempty"`
	Script        string     `json:"script"`
	Timeout       string     `json:"timeout,omitempty"`
	SecurityLevel string     `json:"security_level,omitempty"`
}

// SlotSpec declares an input or output. An input with a default is
// optional.
type SlotSpec struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Default any    `json:"default,omitempty"`
}

var slotTypes = map[string]reflect.Type{
	"":        nil,
	"any":     nil,
	"string":  process.TypeOf[string](),
	"number":  process.TypeOf[float64](),
	"integer": process.TypeOf[int64](),
	"boolean": process.TypeOf[bool](),
	"object":  process.TypeOf[map[string]any](),
	"array":   process.TypeOf[[]any](),
}

// Build turns the manifest into a process. base supplies the logger and
// the defaults for timeout and security level.
func (m *Manifest) Build(base Config) (*process.Process, error) {
	if m.Title == "" {
		return nil, NewConfigError("manifest has no title")
	}

	cfg := base
	if m.SecurityLevel != "" {
		cfg.SecurityLevel = m.SecurityLevel
	}
	if m.Timeout != "" {
		d, err := time.ParseDuration(m.Timeout)
		if err != nil {
			return nil, NewConfigError(fmt.Sprintf("%s: invalid timeout %q: %v", m.Title, m.Timeout, err))
		}
		cfg.Timeout = d
	}

	params := make([]string, 0, len(m.Inputs))
	for _, in := range m.Inputs {
		params = append(params, in.Name)
	}
	body, err := New(m.Title, m.Script, params, cfg)
	if err != nil {
		return nil, err
	}

	b := process.New(m.Title).
		ID(m.ID).
		Description(m.Description).
		Version(m.Version).
		Keywords(m.Keywords...).
		Body(body).
		Logger(cfg.Logger)

	for _, in := range m.Inputs {
		typ, ok := slotTypes[in.Type]
		if !ok {
			return nil, NewConfigError(fmt.Sprintf("%s: input %s has unknown type %q", m.Title, in.Name, in.Type))
		}
		if in.Default != nil {
			b.OptionalInput(in.Name, defaultOf(in.Default, typ))
			continue
		}
		b.Input(in.Name, typ)
	}
	for _, out := range m.Outputs {
		typ, ok := slotTypes[out.Type]
		if !ok {
			return nil, NewConfigError(fmt.Sprintf("%s: output %s has unknown type %q", m.Title, out.Name, out.Type))
		}
		b.Output(out.Name, typ)
	}
	return b.Build()
}

// defaultOf converts a decoded JSON default to the declared type so the
// optional input is typed accordingly.
func defaultOf(v any, typ reflect.Type) any {
	if typ == nil {
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Type().ConvertibleTo(typ) && rv.Kind() != reflect.String {
		return rv.Convert(typ).Interface()
	}
	return v
}

// Parse decodes a single manifest.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, NewConfigError(fmt.Sprintf("invalid manifest: %v", err))
	}
	return &m, nil
}

// LoadDir builds every *.json manifest in dir, in file name order, and
// registers the processes in f. Loading stops at the first invalid
// manifest.
func LoadDir(dir string, f *registry.Factory, base Config) ([]*process.Process, error) {
	base.ApplyDefaults()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read script directory: %w", err)
	}

	var loaded []*process.Process
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("failed to read %s: %w", path, err)
		}
		m, err := Parse(data)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		p, err := m.Build(base)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		if err := f.Register(p); err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		base.Logger.Info("Loaded script process",
			zap.String("file", e.Name()),
			zap.String("process_id", p.Identifier()),
			zap.String("title", p.Title()))
		loaded = append(loaded, p)
	}
	return loaded, nil
}
