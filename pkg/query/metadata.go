package query

import (
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
)

// Identifiers of the metadata processes.
const (
	TablesProcessID  = "sql.tables"
	ColumnsProcessID = "sql.columns"
)

// TablesProcess lists the base tables of a schema, taken from input
// "schema", by name.
func TablesProcess(db DB) (*process.Process, error) {
	q := Select("table_name").
		From("information_schema.tables").
		Where(squirrel.Eq{"table_schema": Param("schema")}).
		Where(squirrel.Eq{"table_type": "BASE TABLE"}).
		OrderBy("table_name")
	return NewProcess("tables", db, q,
		WithID(TablesProcessID),
		WithDescription("Lists the tables of a schema"),
		WithKeywords("metadata"))
}

// ColumnsProcess lists the columns of table in schema in declaration order.
func ColumnsProcess(db DB) (*process.Process, error) {
	q := Select("column_name", "data_type", "is_nullable").
		From("information_schema.columns").
		Where(squirrel.Eq{"table_schema": Param("schema")}).
		Where(squirrel.Eq{"table_name": Param("table")}).
		OrderBy("ordinal_position")
	return NewProcess("columns", db, q,
		WithID(ColumnsProcessID),
		WithDescription("Lists the columns of a table"),
		WithKeywords("metadata"))
}

// RegisterMetadata registers the metadata processes in f.
func RegisterMetadata(f *registry.Factory, db DB) error {
	for _, build := range []func(DB) (*process.Process, error){TablesProcess, ColumnsProcess} {
		p, err := build(db)
		if err != nil {
			return err
		}
		if err := f.Register(p); err != nil {
			return fmt.Errorf("registering %s: %w", p.Identifier(), err)
		}
	}
	return nil
}
