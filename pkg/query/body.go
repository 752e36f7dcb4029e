package query

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/wehubfusion/datamanager/pkg/process"
)

// statement is a rendered statement whose Param arguments are bound per call.
type statement struct {
	sql    string
	args   []any
	params []string
}

func render(q squirrel.Sqlizer) (*statement, error) {
	if q == nil {
		return nil, fmt.Errorf("nil statement")
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building sql: %w", err)
	}

	st := &statement{sql: sql, args: args}
	seen := make(map[string]bool)
	for _, a := range args {
		if p, ok := a.(Param); ok && !seen[string(p)] {
			seen[string(p)] = true
			st.params = append(st.params, string(p))
		}
	}
	return st, nil
}

// bind replaces Param arguments with the values given in params order.
func (st *statement) bind(values []any) ([]any, error) {
	if len(values) != len(st.params) {
		return nil, fmt.Errorf("statement takes %d parameters, got %d", len(st.params), len(values))
	}
	byName := make(map[string]any, len(st.params))
	for i, name := range st.params {
		byName[name] = values[i]
	}
	args := make([]any, len(st.args))
	for i, a := range st.args {
		if p, ok := a.(Param); ok {
			args[i] = byName[string(p)]
			continue
		}
		args[i] = a
	}
	return args, nil
}

// queryBody runs a statement and returns its rows.
type queryBody struct {
	db DB
	st *statement
}

func (b *queryBody) Arity() int { return len(b.st.params) }

func (b *queryBody) Call(ctx context.Context, values []any) (any, error) {
	args, err := b.st.bind(values)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.Query(ctx, b.st.sql, args...)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	if result == nil {
		result = []map[string]any{}
	}
	return result, nil
}

// execBody runs a statement and returns the number of affected rows.
type execBody struct {
	db DB
	st *statement
}

func (b *execBody) Arity() int { return len(b.st.params) }

func (b *execBody) Call(ctx context.Context, values []any) (any, error) {
	args, err := b.st.bind(values)
	if err != nil {
		return nil, err
	}
	tag, err := b.db.Exec(ctx, b.st.sql, args...)
	if err != nil {
		return nil, fmt.Errorf("running statement: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Option adjusts the process declaration.
type Option func(*process.Builder)

// WithID sets the process identifier.
func WithID(id string) Option {
	return func(b *process.Builder) { b.ID(id) }
}

// WithDescription sets the process description.
func WithDescription(description string) Option {
	return func(b *process.Builder) { b.Description(description) }
}

// WithKeywords adds keywords. "sql" is always present.
func WithKeywords(keywords ...string) Option {
	return func(b *process.Builder) { b.Keywords(keywords...) }
}

// NewProcess builds a process that runs q and returns its rows as
// []map[string]any under RowsOutput.
func NewProcess(title string, db DB, q squirrel.Sqlizer, opts ...Option) (*process.Process, error) {
	st, err := render(q)
	if err != nil {
		return nil, err
	}
	return declare(title, st, &queryBody{db: db, st: st}, RowsOutput, opts)
}

// NewExecProcess builds a process that runs q and returns the number of
// affected rows under AffectedOutput.
func NewExecProcess(title string, db DB, q squirrel.Sqlizer, opts ...Option) (*process.Process, error) {
	st, err := render(q)
	if err != nil {
		return nil, err
	}
	return declare(title, st, &execBody{db: db, st: st}, AffectedOutput, opts)
}

func declare(title string, st *statement, body process.Body, output string, opts []Option) (*process.Process, error) {
	b := process.New(title).Keywords("sql").Body(body)
	for _, name := range st.params {
		b.Input(name, nil)
	}
	b.Output(output, nil)
	for _, opt := range opts {
		opt(b)
	}
	return b.Build()
}
