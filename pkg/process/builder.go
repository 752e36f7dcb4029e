package process

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"go.uber.org/zap"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
)

// Builder collects the declaration of a process. Slots keep the order in
// which they are declared; that order is the positional order of the body
// arguments.
//
// Example:
//
//	addOne, err := process.New("addOne").
//	    Input("n", process.TypeOf[int]()).
//	    Output("r", process.TypeOf[int]()).
//	    Func(func(n int) int { return n + 1 }).
//	    Build()
type Builder struct {
	id          string
	title       string
	description string
	version     string
	keywords    []string
	inputs      []*Input
	outputs     []*Output
	body        Body
	err         error
	logger      *zap.Logger
}

// New starts the declaration of a process with the given title.
func New(title string) *Builder {
	return &Builder{title: title}
}

// ID sets the identifier. A random identifier is generated when unset.
func (b *Builder) ID(id string) *Builder {
	b.id = id
	return b
}

func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

func (b *Builder) Version(version string) *Builder {
	b.version = version
	return b
}

func (b *Builder) Keywords(keywords ...string) *Builder {
	b.keywords = append(b.keywords, keywords...)
	return b
}

// Input declares a required input. A nil type accepts any value.
func (b *Builder) Input(name string, typ reflect.Type) *Builder {
	b.inputs = append(b.inputs, &Input{name: name, typ: typ})
	return b
}

// OptionalInput declares an input that takes def when no value is provided.
// The input type is the dynamic type of def, or any when def is nil.
func (b *Builder) OptionalInput(name string, def any) *Builder {
	var typ reflect.Type
	if def != nil {
		typ = reflect.TypeOf(def)
	}
	b.inputs = append(b.inputs, &Input{name: name, typ: typ, optional: true, defaultValue: def})
	return b
}

// Output declares an output. A nil type accepts any value.
func (b *Builder) Output(name string, typ reflect.Type) *Builder {
	b.outputs = append(b.outputs, &Output{name: name, typ: typ})
	return b
}

// Body sets the executable body.
func (b *Builder) Body(body Body) *Builder {
	b.body = body
	return b
}

// Func sets a Go function as the body. See Func for accepted signatures.
func (b *Builder) Func(fn any) *Builder {
	body, err := Func(fn)
	if err != nil {
		b.err = err
		return b
	}
	b.body = body
	return b
}

// Logger sets the logger used by the process. Defaults to a no-op logger.
func (b *Builder) Logger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the declaration and returns the process. The body arity
// must equal the number of declared inputs.
func (b *Builder) Build() (*Process, error) {
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := b.validate(); err != nil {
		logger.Error("Invalid process declaration",
			zap.String("process", b.title),
			zap.Error(err))
		return nil, err
	}

	id := b.id
	if id == "" {
		id = uuid.NewString()
	}
	p := &Process{
		id:          id,
		title:       b.title,
		description: b.description,
		version:     b.version,
		keywords:    append([]string(nil), b.keywords...),
		body:        b.body,
		results:     make(map[string]any),
		logger:      logger,
	}
	for _, in := range b.inputs {
		c := *in
		c.owner = p
		p.inputs = append(p.inputs, &c)
	}
	for _, out := range b.outputs {
		c := *out
		c.owner = p
		p.outputs = append(p.outputs, &c)
	}
	return p, nil
}

func (b *Builder) validate() error {
	if b.err != nil {
		return b.err
	}
	if b.body == nil {
		return dmerrors.Construction(fmt.Sprintf("process %s has no body", b.title), dmerrors.ErrInvalidBody)
	}

	seen := make(map[string]bool, len(b.inputs))
	for _, in := range b.inputs {
		if seen[in.name] {
			return dmerrors.Construction(fmt.Sprintf("process %s: input %q", b.title, in.name), dmerrors.ErrDuplicateSlot)
		}
		seen[in.name] = true
	}
	seen = make(map[string]bool, len(b.outputs))
	for _, out := range b.outputs {
		if seen[out.name] {
			return dmerrors.Construction(fmt.Sprintf("process %s: output %q", b.title, out.name), dmerrors.ErrDuplicateSlot)
		}
		seen[out.name] = true
	}

	if n := b.body.Arity(); n != len(b.inputs) {
		return dmerrors.Construction(
			fmt.Sprintf("process %s: body takes %d arguments, %d inputs declared", b.title, n, len(b.inputs)),
			dmerrors.ErrArityMismatch)
	}
	return nil
}
