package query

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/datamanager/pkg/registry"
)

func TestRegisterMetadata(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := registry.NewFactory("db", nil)
	require.NoError(t, RegisterMetadata(f, mock))
	assert.True(t, f.Has(TablesProcessID))
	assert.True(t, f.Has(ColumnsProcessID))
	assert.Len(t, f.FindByKeyword("metadata"), 2)

	columns, err := f.Process(ColumnsProcessID)
	require.NoError(t, err)
	names := []string{}
	for _, in := range columns.Inputs() {
		names = append(names, in.Name())
	}
	assert.Equal(t, []string{"schema", "table"}, names)
}

func TestTablesProcess_Execute(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p, err := TablesProcess(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT table_name FROM information_schema.tables WHERE table_schema = \\$1 AND table_type = \\$2 ORDER BY table_name").
		WithArgs("public", "BASE TABLE").
		WillReturnRows(mock.NewRows([]string{"table_name"}).AddRow("parcels").AddRow("roads"))

	require.NoError(t, p.Execute(context.Background(), map[string]any{"schema": "public"}))
	rows, ok := p.Result(RowsOutput)
	require.True(t, ok)
	assert.Equal(t, []map[string]any{{"table_name": "parcels"}, {"table_name": "roads"}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
