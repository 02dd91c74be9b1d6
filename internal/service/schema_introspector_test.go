package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/repository"
)

func newMockIntrospector(t *testing.T, dialect repository.Dialect) (*SchemaIntrospector, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	acquirer := &fakeAcquirer{
		db: db,
		connection: &repository.DatabaseConnection{
			ID:      1,
			Name:    "target",
			Dialect: dialect,
		},
	}

	return NewSchemaIntrospector(acquirer, zap.NewNop()), mock
}

func TestDiscover_MySQL(t *testing.T) {
	introspector, mock := newMockIntrospector(t, repository.DialectMySQL)

	mock.ExpectQuery("SELECT DATABASE").
		WillReturnRows(sqlmock.NewRows([]string{"database"}).AddRow("shop"))

	mock.ExpectQuery("information_schema.tables").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "table_rows"}).
			AddRow("customers", int64(5000)).
			AddRow("orders", int64(1000000)))

	mock.ExpectQuery("information_schema.columns").
		WithArgs("customers").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "is_nullable", "column_key"}).
			AddRow("id", "bigint", "NO", "PRI").
			AddRow("email", "varchar(255)", "YES", "UNI"))

	mock.ExpectQuery("information_schema.columns").
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "is_nullable", "column_key"}).
			AddRow("id", "bigint", "NO", "PRI").
			AddRow("amount", "decimal(10,2)", "NO", ""))

	snapshot, err := introspector.Discover(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), snapshot.ConnectionID)
	assert.Equal(t, "shop", snapshot.DatabaseName)
	require.Len(t, snapshot.Tables, 2)

	customers := snapshot.Tables[0]
	assert.Equal(t, "customers", customers.Name)
	assert.Equal(t, int64(5000), customers.EstimatedRows)
	require.Len(t, customers.Columns, 2)
	assert.True(t, customers.Columns[0].IsPrimaryKey)
	assert.True(t, customers.Columns[1].IsUnique)
	assert.False(t, customers.Columns[1].IsPrimaryKey)
	assert.True(t, customers.Columns[1].Nullable)

	orders := snapshot.Tables[1]
	assert.Equal(t, int64(1000000), orders.EstimatedRows)
	assert.Equal(t, "decimal(10,2)", orders.Columns[1].DeclaredType)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiscover_SQLite(t *testing.T) {
	introspector, mock := newMockIntrospector(t, repository.DialectSQLite)

	mock.ExpectQuery("sqlite_master").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("inventory"))

	mock.ExpectQuery("PRAGMA table_info").
		WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow(0, "id", "INTEGER", 1, nil, 1).
			AddRow(1, "sku", "TEXT", 0, nil, 0))

	snapshot, err := introspector.Discover(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "main", snapshot.DatabaseName)
	require.Len(t, snapshot.Tables, 1)

	table := snapshot.Tables[0]
	// SQLite没有行数统计，约定为-1
	assert.Equal(t, int64(-1), table.EstimatedRows)
	require.Len(t, table.Columns, 2)
	assert.True(t, table.Columns[0].IsPrimaryKey)
	assert.False(t, table.Columns[0].Nullable)
	assert.True(t, table.Columns[1].Nullable)
}

func TestDiscover_UnsupportedDialect(t *testing.T) {
	introspector, _ := newMockIntrospector(t, repository.Dialect("oracle"))

	_, err := introspector.Discover(context.Background(), 1)
	require.Error(t, err)

	var introspectionErr *IntrospectionError
	require.ErrorAs(t, err, &introspectionErr)
	assert.Equal(t, "oracle", introspectionErr.Dialect)
}

func TestDiscover_AcquireFailure(t *testing.T) {
	acquirer := &fakeAcquirer{err: errors.New("dial tcp: connection refused")}
	introspector := NewSchemaIntrospector(acquirer, zap.NewNop())

	_, err := introspector.Discover(context.Background(), 7)
	require.Error(t, err)

	var introspectionErr *IntrospectionError
	require.ErrorAs(t, err, &introspectionErr)
	assert.Equal(t, int64(7), introspectionErr.ConnectionID)
}

func TestDiscover_DuplicateTableRejected(t *testing.T) {
	introspector, mock := newMockIntrospector(t, repository.DialectSQLite)

	mock.ExpectQuery("sqlite_master").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("t").AddRow("T"))
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("PRAGMA table_info").
			WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
				AddRow(0, "id", "INTEGER", 1, nil, 1))
	}

	_, err := introspector.Discover(context.Background(), 1)
	var introspectionErr *IntrospectionError
	require.ErrorAs(t, err, &introspectionErr)
}

func TestComposePostgresType(t *testing.T) {
	tests := []struct {
		name     string
		dataType string
		udtName  string
		charLen  sql.NullInt64
		numPrec  sql.NullInt64
		numScale sql.NullInt64
		expected string
	}{
		{"带长度的varchar", "character varying", "varchar", sql.NullInt64{Int64: 255, Valid: true}, sql.NullInt64{}, sql.NullInt64{}, "varchar(255)"},
		{"无长度的varchar", "character varying", "varchar", sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, "varchar"},
		{"int8", "bigint", "int8", sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, "bigint"},
		{"带精度的numeric", "numeric", "numeric", sql.NullInt64{}, sql.NullInt64{Int64: 10, Valid: true}, sql.NullInt64{Int64: 2, Valid: true}, "numeric(10,2)"},
		{"jsonb", "jsonb", "jsonb", sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, "jsonb"},
		{"未知类型回退data_type", "USER-DEFINED", "custom_enum", sql.NullInt64{}, sql.NullInt64{}, sql.NullInt64{}, "USER-DEFINED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, composePostgresType(tt.dataType, tt.udtName, tt.charLen, tt.numPrec, tt.numScale))
		})
	}
}
