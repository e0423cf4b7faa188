package connector

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockConnector(t *testing.T) (*Connector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := NewWithDB(db, Config{
		TargetSchema:   "HR",
		PoolSize:       4,
		AcquireTimeout: time.Second,
	}, nil)
	// Skip the validation probe; it has its own test.
	c.lastProbe.Store(time.Now().UnixNano())
	return c, mock
}

func TestFetchAll(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery("SELECT table_name FROM all_tables WHERE owner = :1").
		WithArgs("HR").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("EMPLOYEES").
			AddRow([]byte("DEPARTMENTS")))

	rows, err := c.FetchAll(context.Background(), "SELECT table_name FROM all_tables WHERE owner = :1", "HR")
	require.NoError(t, err)
	assert.Equal(t, []string{"TABLE_NAME"}, rows.Columns)
	require.Len(t, rows.Rows, 2)
	assert.Equal(t, "EMPLOYEES", rows.Rows[0][0])
	// Driver byte slices normalize to strings.
	assert.Equal(t, "DEPARTMENTS", rows.Rows[1][0])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchAllQueryError(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery("SELECT * FROM missing").
		WillReturnError(assertOraErr("ORA-00942: table or view does not exist"))

	_, err := c.FetchAll(context.Background(), "SELECT * FROM missing")
	require.Error(t, err)
	assert.Equal(t, CodeQuery, CodeOf(err))

	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 942, ce.OraCode)
}

func TestFetchStream(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery("SELECT id FROM t").
		WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(int64(1)).AddRow(int64(2)))

	stream, err := c.FetchStream(context.Background(), "SELECT id FROM t")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"ID"}, stream.Columns)
	var got []int64
	for stream.Next() {
		vals, err := stream.Scan()
		require.NoError(t, err)
		got = append(got, vals[0].(int64))
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []int64{1, 2}, got)
}

func TestExecuteGateBlocksBeforeDriver(t *testing.T) {
	c, mock := newMockConnector(t)
	// No expectations: the statement must never reach the driver.

	_, err := c.Execute(context.Background(), "DELETE FROM employees", KindSelect)
	require.Error(t, err)
	assert.Equal(t, CodeDisallowedStatement, CodeOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteDML(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectExec("DELETE FROM employees WHERE dept_id = :1").
		WithArgs(int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	res, err := c.Execute(context.Background(), "DELETE FROM employees WHERE dept_id = :1", KindDML, int64(40))
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteSelectReturnsRows(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery("SELECT COUNT(*) FROM employees").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(42)))

	res, err := c.Execute(context.Background(), "SELECT COUNT(*) FROM employees", KindSelect)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(42), res.Rows[0][0])
}

func TestExecuteDDL(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectExec("ALTER TABLE employees ADD (email VARCHAR2(100))").
		WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := c.Execute(context.Background(), "ALTER TABLE employees ADD (email VARCHAR2(100))", KindDDL)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Affected)
}

func TestSchemaDefaultsToUser(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewWithDB(db, Config{TargetSchema: "sales"}, nil)
	assert.Equal(t, "SALES", c.Schema())

	c2 := NewWithDB(db, Config{}, nil)
	c2.user = "APP_USER"
	assert.Equal(t, "APP_USER", c2.Schema())
}

func TestSessionInfo(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery("SELECT banner FROM v$version").
		WillReturnRows(sqlmock.NewRows([]string{"BANNER"}).
			AddRow("Oracle Database 19c Enterprise Edition Release 19.0.0.0.0").
			AddRow("Version 19.23.0.0.0"))
	mock.ExpectQuery("SELECT parameter, value FROM nls_session_parameters WHERE parameter IN ('NLS_COMP', 'NLS_SORT', 'NLS_LANGUAGE')").
		WillReturnRows(sqlmock.NewRows([]string{"PARAMETER", "VALUE"}).
			AddRow("NLS_COMP", "BINARY").
			AddRow("NLS_SORT", "BINARY"))

	info, err := c.SessionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Oracle", info.Product)
	assert.Contains(t, info.Version, "19c")
	assert.Equal(t, "HR", info.Schema)
	assert.Equal(t, "thin", info.ConnectionMode)
	assert.Len(t, info.Banner, 2)
	assert.Equal(t, "BINARY", info.NLS["NLS_COMP"])
}

func TestValidationProbeRunsOncePerInterval(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	c := NewWithDB(db, Config{PoolSize: 2, AcquireTimeout: time.Second}, nil)

	// First acquire probes, second within the interval does not.
	mock.ExpectQuery(validationProbe).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM t").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("SELECT 2 FROM t").
		WillReturnRows(sqlmock.NewRows([]string{"2"}).AddRow(2))

	_, err = c.FetchAll(context.Background(), "SELECT 1 FROM t")
	require.NoError(t, err)
	_, err = c.FetchAll(context.Background(), "SELECT 2 FROM t")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// assertOraErr builds an error carrying an ORA code the way both drivers
// format them.
func assertOraErr(msg string) error {
	return &oraTextError{msg}
}

type oraTextError struct{ msg string }

func (e *oraTextError) Error() string { return e.msg }
