package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
)

func TestRebuildAssemblesRecords(t *testing.T) {
	ctx := context.Background()
	c, stats, err := builtCache(ctx, hrFixture())
	require.NoError(t, err)
	assert.True(t, stats.Built)
	assert.Equal(t, 8, stats.Tables)
	assert.Equal(t, 2, stats.PLSQL)
	assert.Equal(t, 1, stats.Types)
	assert.NotEmpty(t, stats.Fingerprint)

	emp, err := c.GetTable(ctx, "EMPLOYEES")
	require.NoError(t, err)
	assert.Equal(t, "HR", emp.Schema)
	assert.Equal(t, "EMPLOYEES", emp.Name)
	assert.Equal(t, KindTable, emp.Kind)
	require.Len(t, emp.Columns, 3)
	assert.Equal(t, []string{"EMP_ID"}, emp.PrimaryKey)

	require.Len(t, emp.ForeignKeys, 1)
	fk := emp.ForeignKeys[0]
	assert.Equal(t, "FK_DEPT", fk.Name)
	assert.Equal(t, []string{"DEPT_ID"}, fk.LocalColumns)
	assert.Equal(t, "DEPARTMENTS", fk.TargetTable)
	assert.Equal(t, []string{"DEPT_ID"}, fk.TargetColumns)
	assert.Equal(t, "NO_ACTION", fk.OnDelete)
	assert.False(t, fk.External)

	require.Len(t, emp.Indexes, 1)
	assert.Equal(t, "IX_EMP_DEPT", emp.Indexes[0].Name)
	assert.False(t, emp.Indexes[0].Unique)
	require.Len(t, emp.Indexes[0].Columns, 1)
	assert.Equal(t, "DEPT_ID", emp.Indexes[0].Columns[0].Name)
	assert.Equal(t, "ASC", emp.Indexes[0].Columns[0].Descend)
}

func TestRebuildIdempotentFingerprint(t *testing.T) {
	ctx := context.Background()
	c, first, err := builtCache(ctx, hrFixture())
	require.NoError(t, err)

	second, err := c.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestColumnPositionsDense(t *testing.T) {
	ctx := context.Background()
	f := hrFixture()
	// Simulate a dropped column leaving a gap in column_id.
	f.columns["ORDERS"] = []connector.ColumnRow{
		{Table: "ORDERS", Name: "ORDER_ID", Position: 1, DataType: "NUMBER"},
		{Table: "ORDERS", Name: "CUSTOMER_ID", Position: 5, DataType: "NUMBER", Nullable: true},
	}
	c, _, err := builtCache(ctx, f)
	require.NoError(t, err)

	orders, err := c.GetTable(ctx, "orders")
	require.NoError(t, err)
	for i, col := range orders.Columns {
		assert.Equal(t, i+1, col.Position, "column %s", col.Name)
	}
}

func TestForeignKeyExternalTarget(t *testing.T) {
	ctx := context.Background()
	f := hrFixture()
	f.constraints["ORDERS"] = []connector.ConstraintRow{
		{Name: "FK_AUDIT", Table: "ORDERS", Type: "R", ROwner: "AUDIT_OWNER",
			RConstraint: "PK_AUDIT_LOG", DeleteRule: "CASCADE", Enabled: true},
	}
	f.consCols["ORDERS"] = []connector.ConsColumnRow{
		{Constraint: "FK_AUDIT", Table: "ORDERS", Column: "ORDER_ID", Position: 1},
	}
	f.fkTargets["PK_AUDIT_LOG"] = &connector.FKTargetRow{
		Owner: "AUDIT_OWNER", Table: "AUDIT_LOG", Columns: []string{"LOG_ID"},
	}

	c, _, err := builtCache(ctx, f)
	require.NoError(t, err)

	orders, err := c.GetTable(ctx, "ORDERS")
	require.NoError(t, err)
	require.Len(t, orders.ForeignKeys, 1)
	fk := orders.ForeignKeys[0]
	assert.True(t, fk.External, "cross-schema target must be flagged, not dropped")
	assert.Equal(t, "AUDIT_OWNER", fk.TargetSchema)
	assert.Equal(t, "AUDIT_LOG", fk.TargetTable)
	assert.Equal(t, "CASCADE", fk.OnDelete)
}

func TestForeignKeyUnresolvableTargetKept(t *testing.T) {
	ctx := context.Background()
	f := hrFixture()
	f.constraints["ORDERS"] = []connector.ConstraintRow{
		{Name: "FK_GONE", Table: "ORDERS", Type: "R", ROwner: "ELSEWHERE",
			RConstraint: "PK_MISSING", DeleteRule: "NO ACTION", Enabled: true},
	}
	f.consCols["ORDERS"] = []connector.ConsColumnRow{
		{Constraint: "FK_GONE", Table: "ORDERS", Column: "ORDER_ID", Position: 1},
	}

	c, _, err := builtCache(ctx, f)
	require.NoError(t, err)

	orders, err := c.GetTable(ctx, "ORDERS")
	require.NoError(t, err)
	require.Len(t, orders.ForeignKeys, 1)
	assert.True(t, orders.ForeignKeys[0].External)
	assert.Equal(t, "ELSEWHERE", orders.ForeignKeys[0].TargetSchema)
}

func TestCanonicalType(t *testing.T) {
	tests := []struct {
		name string
		col  connector.ColumnRow
		want string
	}{
		{"number plain", connector.ColumnRow{DataType: "NUMBER"}, "NUMBER"},
		{"number precision", connector.ColumnRow{DataType: "NUMBER", Precision: i64(10)}, "NUMBER(10)"},
		{"number scale", connector.ColumnRow{DataType: "NUMBER", Precision: i64(10), Scale: i64(2)}, "NUMBER(10,2)"},
		{"varchar2 byte", connector.ColumnRow{DataType: "VARCHAR2", Length: 100, CharUsed: "B"}, "VARCHAR2(100 BYTE)"},
		{"varchar2 char", connector.ColumnRow{DataType: "VARCHAR2", Length: 50, CharUsed: "C"}, "VARCHAR2(50 CHAR)"},
		{"raw", connector.ColumnRow{DataType: "RAW", Length: 16}, "RAW(16)"},
		{"date", connector.ColumnRow{DataType: "DATE"}, "DATE"},
		{"timestamp", connector.ColumnRow{DataType: "TIMESTAMP(6)"}, "TIMESTAMP(6)"},
		{"clob", connector.ColumnRow{DataType: "CLOB"}, "CLOB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalType(tt.col))
		})
	}
}

func TestGetPLSQLObjects(t *testing.T) {
	ctx := context.Background()
	c, _, err := builtCache(ctx, hrFixture())
	require.NoError(t, err)

	objs, err := c.GetPLSQLObjects(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "HR_UTILS", objs[0].Name)
	assert.Equal(t, "PAY_EMPLOYEE", objs[1].Name)

	procs, err := c.GetPLSQLObjects(ctx, "PAY%", []string{"PROCEDURE"})
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "PAY_EMPLOYEE", procs[0].Name)
	assert.True(t, procs[0].SourceAvailable)
}

func TestGetObjectSourceCached(t *testing.T) {
	ctx := context.Background()
	f := hrFixture()
	c, _, err := builtCache(ctx, f)
	require.NoError(t, err)

	src, err := c.GetObjectSource(ctx, "", "pay_employee", "PROCEDURE")
	require.NoError(t, err)
	assert.Contains(t, src, "PROCEDURE pay_employee")

	before := f.queryCount()
	again, err := c.GetObjectSource(ctx, "", "PAY_EMPLOYEE", "PROCEDURE")
	require.NoError(t, err)
	assert.Equal(t, src, again)
	assert.Equal(t, before, f.queryCount(), "second read must come from cache")
}

func TestGetObjectSourceNotFound(t *testing.T) {
	ctx := context.Background()
	c, _, err := builtCache(ctx, hrFixture())
	require.NoError(t, err)

	_, err = c.GetObjectSource(ctx, "", "NO_SUCH_PROC", "PROCEDURE")
	require.Error(t, err)
	assert.True(t, connector.IsNotFound(err))
}

func TestGetDependentsCached(t *testing.T) {
	ctx := context.Background()
	f := hrFixture()
	c, _, err := builtCache(ctx, f)
	require.NoError(t, err)

	refs, err := c.GetDependents(ctx, "", "employees", "TABLE")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "PAY_EMPLOYEE", refs[0].Name)

	before := f.queryCount()
	_, err = c.GetDependents(ctx, "", "EMPLOYEES", "TABLE")
	require.NoError(t, err)
	assert.Equal(t, before, f.queryCount())
}

func TestGetUserDefinedTypes(t *testing.T) {
	ctx := context.Background()
	c, _, err := builtCache(ctx, hrFixture())
	require.NoError(t, err)

	types, err := c.GetUserDefinedTypes(ctx, "")
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "ADDRESS_T", types[0].Name)
	assert.Equal(t, "OBJECT", types[0].Typecode)
	require.Len(t, types[0].Attributes, 2)
	assert.Equal(t, "STREET", types[0].Attributes[0].Name)

	none, err := c.GetUserDefinedTypes(ctx, "XYZ%")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWarmupRebuildsWithoutStore(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(hrFixture())
	stats, err := c.Warmup(ctx)
	require.NoError(t, err)
	assert.True(t, stats.Built)
	assert.Equal(t, 8, stats.Tables)
}

func TestFingerprintTracksGeneration(t *testing.T) {
	ctx := context.Background()
	f := hrFixture()
	c, first, err := builtCache(ctx, f)
	require.NoError(t, err)

	f.generation = f.generation.Add(time.Hour)
	second, err := c.Rebuild(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)
}
