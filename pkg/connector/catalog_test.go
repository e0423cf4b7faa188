package connector

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockCatalog(t *testing.T) (*Catalog, sqlmock.Sqlmock) {
	t.Helper()
	c, mock := newMockConnector(t)
	return c.Catalog(), mock
}

func TestCatalogTables(t *testing.T) {
	q, mock := newMockCatalog(t)
	ddl := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(sqlTables).
		WithArgs("HR").
		WillReturnRows(sqlmock.NewRows([]string{"OBJECT_NAME", "OBJECT_TYPE", "LAST_DDL_TIME", "COMMENTS"}).
			AddRow("EMPLOYEES", "TABLE", ddl, "People").
			AddRow("EMP_V", "VIEW", ddl, nil).
			AddRow("EMP_MV", "MATERIALIZED VIEW", ddl, nil))

	rows, err := q.Tables(context.Background(), "HR")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, TableRow{Name: "EMPLOYEES", Kind: "TABLE", LastDDL: ddl, Comment: "People"}, rows[0])
	assert.Equal(t, "VIEW", rows[1].Kind)
	assert.Equal(t, "MATERIALIZED VIEW", rows[2].Kind)
}

func TestCatalogTableColumns(t *testing.T) {
	q, mock := newMockCatalog(t)

	mock.ExpectQuery(sqlColumnsOne).
		WithArgs("HR", "EMPLOYEES").
		WillReturnRows(sqlmock.NewRows([]string{
			"TABLE_NAME", "COLUMN_NAME", "COLUMN_ID", "DATA_TYPE", "DATA_LENGTH",
			"DATA_PRECISION", "DATA_SCALE", "CHAR_USED", "NULLABLE", "DATA_DEFAULT", "COMMENTS",
		}).
			AddRow("EMPLOYEES", "EMP_ID", int64(1), "NUMBER", int64(22), int64(10), int64(0), nil, "N", nil, nil).
			AddRow("EMPLOYEES", "FIRST_NAME", int64(2), "VARCHAR2", int64(50), nil, nil, "B", "Y", "'unknown' ", nil))

	cols, err := q.TableColumns(context.Background(), "HR", "EMPLOYEES")
	require.NoError(t, err)
	require.Len(t, cols, 2)

	assert.Equal(t, "EMP_ID", cols[0].Name)
	assert.False(t, cols[0].Nullable)
	require.NotNil(t, cols[0].Precision)
	assert.Equal(t, int64(10), *cols[0].Precision)

	assert.True(t, cols[1].Nullable)
	assert.Equal(t, "'unknown'", cols[1].Default, "defaults are trimmed")
}

func TestCatalogConstraintsNarrowed(t *testing.T) {
	q, mock := newMockCatalog(t)

	mock.ExpectQuery(sqlConstraintsOne).
		WithArgs("HR", "EMPLOYEES").
		WillReturnRows(sqlmock.NewRows([]string{
			"CONSTRAINT_NAME", "TABLE_NAME", "CONSTRAINT_TYPE", "R_OWNER",
			"R_CONSTRAINT_NAME", "DELETE_RULE", "DEFERRABLE", "STATUS", "SEARCH_CONDITION",
		}).
			AddRow("FK_DEPT", "EMPLOYEES", "R", "HR", "PK_DEPT", "SET NULL", "DEFERRABLE", "ENABLED", nil).
			AddRow("CK_NAME", "EMPLOYEES", "C", nil, nil, nil, "NOT DEFERRABLE", "DISABLED", "first_name IS NOT NULL"))

	rows, err := q.Constraints(context.Background(), "HR", "EMPLOYEES")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "R", rows[0].Type)
	assert.Equal(t, "SET NULL", rows[0].DeleteRule)
	assert.True(t, rows[0].Deferrable)
	assert.True(t, rows[0].Enabled)

	assert.Equal(t, "C", rows[1].Type)
	assert.False(t, rows[1].Deferrable)
	assert.False(t, rows[1].Enabled)
	assert.Equal(t, "first_name IS NOT NULL", rows[1].Condition)
}

func TestCatalogObjectsQueryShape(t *testing.T) {
	// squirrel renders positional colon binds; match on a prefix of the
	// rendered SQL rather than the exact text.
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewWithDB(db, Config{TargetSchema: "HR", AcquireTimeout: time.Second}, nil)
	c.lastProbe.Store(time.Now().UnixNano())

	mock.ExpectQuery("SELECT object_name, object_type, status, last_ddl_time FROM all_objects").
		WithArgs("HR", "PAY%").
		WillReturnRows(sqlmock.NewRows([]string{"OBJECT_NAME", "OBJECT_TYPE", "STATUS", "LAST_DDL_TIME"}).
			AddRow("PAY_EMPLOYEE", "PROCEDURE", "VALID", time.Now()))

	rows, err := c.Catalog().Objects(context.Background(), "HR", "pay%", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "PAY_EMPLOYEE", rows[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogSource(t *testing.T) {
	q, mock := newMockCatalog(t)

	mock.ExpectQuery(sqlSource).
		WithArgs("HR", "PAY_EMPLOYEE", "PROCEDURE").
		WillReturnRows(sqlmock.NewRows([]string{"TEXT"}).
			AddRow("PROCEDURE pay_employee IS\n").
			AddRow("BEGIN\n").
			AddRow("  NULL;\n").
			AddRow("END;\n"))

	src, err := q.Source(context.Background(), "HR", "PAY_EMPLOYEE", "PROCEDURE")
	require.NoError(t, err)
	assert.Contains(t, src, "PROCEDURE pay_employee")
	assert.Contains(t, src, "END;")
}

func TestCatalogObjectDDLUnderscoresKind(t *testing.T) {
	q, mock := newMockCatalog(t)

	// Multi-word dictionary kinds bind to DBMS_METADATA in underscore
	// form.
	mock.ExpectQuery(sqlObjectDDL).
		WithArgs("MATERIALIZED_VIEW", "SALES_MV", "HR").
		WillReturnRows(sqlmock.NewRows([]string{"DDL"}).
			AddRow("CREATE MATERIALIZED VIEW SALES_MV AS SELECT 1 FROM dual"))

	ddl, err := q.ObjectDDL(context.Background(), "HR", "SALES_MV", "MATERIALIZED VIEW")
	require.NoError(t, err)
	assert.Contains(t, ddl, "MATERIALIZED VIEW SALES_MV")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogGeneration(t *testing.T) {
	q, mock := newMockCatalog(t)
	ddl := time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(sqlGeneration).
		WithArgs("HR").
		WillReturnRows(sqlmock.NewRows([]string{"MAX(LAST_DDL_TIME)"}).AddRow(ddl))

	got, err := q.Generation(context.Background(), "HR")
	require.NoError(t, err)
	assert.Equal(t, ddl, got)
}

func TestCatalogVersion(t *testing.T) {
	q, mock := newMockCatalog(t)

	mock.ExpectQuery("SELECT banner FROM v$version").
		WillReturnRows(sqlmock.NewRows([]string{"BANNER"}).
			AddRow("Oracle Database 19c"))

	v, err := q.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Oracle Database 19c", v)
}
