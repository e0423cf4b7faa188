package schema

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
)

// fakeSource is an in-memory catalog fixture. Tests mutate it to simulate
// DDL happening behind the cache's back.
type fakeSource struct {
	mu sync.Mutex

	version    string
	generation time.Time

	tables      []connector.TableRow
	columns     map[string][]connector.ColumnRow // by upper table
	constraints map[string][]connector.ConstraintRow
	consCols    map[string][]connector.ConsColumnRow
	indexes     map[string][]connector.IndexRow
	indCols     map[string][]connector.IndColumnRow
	deps        []connector.DependencyRow
	dependents  map[string][]connector.DependencyRow
	fkTargets   map[string]*connector.FKTargetRow // by constraint name
	objects     []connector.ObjectRow
	types       []connector.TypeRow
	typeAttrs   []connector.TypeAttrRow
	sources     map[string]string // "NAME/KIND"

	queries int // catalog round-trips observed
}

func (f *fakeSource) bump() {
	f.mu.Lock()
	f.queries++
	f.mu.Unlock()
}

func (f *fakeSource) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *fakeSource) Tables(context.Context, string) ([]connector.TableRow, error) {
	f.bump()
	return f.tables, nil
}

func (f *fakeSource) Table(_ context.Context, _, name string) (*connector.TableRow, error) {
	f.bump()
	for _, t := range f.tables {
		if strings.EqualFold(t.Name, name) {
			row := t
			return &row, nil
		}
	}
	return nil, nil
}

func (f *fakeSource) Columns(context.Context, string) ([]connector.ColumnRow, error) {
	f.bump()
	var out []connector.ColumnRow
	for _, t := range f.tables {
		out = append(out, f.columns[strings.ToUpper(t.Name)]...)
	}
	return out, nil
}

func (f *fakeSource) TableColumns(_ context.Context, _, table string) ([]connector.ColumnRow, error) {
	f.bump()
	return f.columns[strings.ToUpper(table)], nil
}

func (f *fakeSource) Constraints(_ context.Context, _, table string) ([]connector.ConstraintRow, error) {
	f.bump()
	return f.perTable(f.constraints, table), nil
}

func (f *fakeSource) perTable(m map[string][]connector.ConstraintRow, table string) []connector.ConstraintRow {
	if table != "" {
		return m[strings.ToUpper(table)]
	}
	var out []connector.ConstraintRow
	for _, t := range f.tables {
		out = append(out, m[strings.ToUpper(t.Name)]...)
	}
	return out
}

func (f *fakeSource) ConsColumns(_ context.Context, _, table string) ([]connector.ConsColumnRow, error) {
	f.bump()
	if table != "" {
		return f.consCols[strings.ToUpper(table)], nil
	}
	var out []connector.ConsColumnRow
	for _, t := range f.tables {
		out = append(out, f.consCols[strings.ToUpper(t.Name)]...)
	}
	return out, nil
}

func (f *fakeSource) Indexes(_ context.Context, _, table string) ([]connector.IndexRow, error) {
	f.bump()
	if table != "" {
		return f.indexes[strings.ToUpper(table)], nil
	}
	var out []connector.IndexRow
	for _, t := range f.tables {
		out = append(out, f.indexes[strings.ToUpper(t.Name)]...)
	}
	return out, nil
}

func (f *fakeSource) IndColumns(_ context.Context, _, table string) ([]connector.IndColumnRow, error) {
	f.bump()
	if table != "" {
		return f.indCols[strings.ToUpper(table)], nil
	}
	var out []connector.IndColumnRow
	for _, t := range f.tables {
		out = append(out, f.indCols[strings.ToUpper(t.Name)]...)
	}
	return out, nil
}

func (f *fakeSource) Dependencies(context.Context, string) ([]connector.DependencyRow, error) {
	f.bump()
	return f.deps, nil
}

func (f *fakeSource) Dependents(_ context.Context, _, name string) ([]connector.DependencyRow, error) {
	f.bump()
	return f.dependents[strings.ToUpper(name)], nil
}

func (f *fakeSource) FKTarget(_ context.Context, _, constraint string) (*connector.FKTargetRow, error) {
	f.bump()
	return f.fkTargets[constraint], nil
}

func (f *fakeSource) Objects(_ context.Context, _, pattern string, kinds []string) ([]connector.ObjectRow, error) {
	f.bump()
	var out []connector.ObjectRow
	for _, o := range f.objects {
		if pattern != "" && !strings.Contains(o.Name, strings.Trim(strings.ToUpper(pattern), "%")) {
			continue
		}
		if len(kinds) > 0 {
			hit := false
			for _, k := range kinds {
				if o.Type == k {
					hit = true
				}
			}
			if !hit {
				continue
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeSource) Types(_ context.Context, _, pattern string) ([]connector.TypeRow, error) {
	f.bump()
	var out []connector.TypeRow
	for _, t := range f.types {
		if pattern != "" && !strings.Contains(t.Name, strings.Trim(strings.ToUpper(pattern), "%")) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeSource) TypeAttrs(context.Context, string) ([]connector.TypeAttrRow, error) {
	f.bump()
	return f.typeAttrs, nil
}

func (f *fakeSource) Source(_ context.Context, _, name, kind string) (string, error) {
	f.bump()
	return f.sources[strings.ToUpper(name)+"/"+strings.ToUpper(kind)], nil
}

func (f *fakeSource) ObjectDDL(_ context.Context, _, name, kind string) (string, error) {
	f.bump()
	return f.sources[strings.ToUpper(name)+"/DDL:"+strings.ToUpper(kind)], nil
}

func (f *fakeSource) Generation(context.Context, string) (time.Time, error) {
	f.bump()
	return f.generation, nil
}

func (f *fakeSource) Version(context.Context) (string, error) {
	f.bump()
	return f.version, nil
}

var _ Source = (*fakeSource)(nil)

func i64(v int64) *int64 { return &v }

// hrFixture builds the catalog used across the package tests:
//
//	DEPARTMENTS(DEPT_ID PK, DEPT_NAME)
//	EMPLOYEES(EMP_ID PK, FIRST_NAME, DEPT_ID FK -> DEPARTMENTS)
//	CUSTOMER, CUSTOMERS, CUSTOMER_ORDERS, OLD_CUSTOMER
//	ORDERS(ORDER_ID, CUSTOMER_ID), INVOICES(INVOICE_ID, CUSTOMER_ID)
func hrFixture() *fakeSource {
	ddl := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f := &fakeSource{
		version:     "Oracle Database 19c Enterprise Edition Release 19.0.0.0.0",
		generation:  ddl,
		columns:     map[string][]connector.ColumnRow{},
		constraints: map[string][]connector.ConstraintRow{},
		consCols:    map[string][]connector.ConsColumnRow{},
		indexes:     map[string][]connector.IndexRow{},
		indCols:     map[string][]connector.IndColumnRow{},
		dependents:  map[string][]connector.DependencyRow{},
		fkTargets:   map[string]*connector.FKTargetRow{},
		sources:     map[string]string{},
	}

	names := []string{
		"CUSTOMER", "CUSTOMERS", "CUSTOMER_ORDERS", "DEPARTMENTS",
		"EMPLOYEES", "INVOICES", "OLD_CUSTOMER", "ORDERS",
	}
	for _, n := range names {
		f.tables = append(f.tables, connector.TableRow{Name: n, Kind: "TABLE", LastDDL: ddl})
	}

	f.columns["DEPARTMENTS"] = []connector.ColumnRow{
		{Table: "DEPARTMENTS", Name: "DEPT_ID", Position: 1, DataType: "NUMBER", Precision: i64(10)},
		{Table: "DEPARTMENTS", Name: "DEPT_NAME", Position: 2, DataType: "VARCHAR2", Length: 100, CharUsed: "B", Nullable: true},
	}
	f.columns["EMPLOYEES"] = []connector.ColumnRow{
		{Table: "EMPLOYEES", Name: "EMP_ID", Position: 1, DataType: "NUMBER", Precision: i64(10)},
		{Table: "EMPLOYEES", Name: "FIRST_NAME", Position: 2, DataType: "VARCHAR2", Length: 50, CharUsed: "B", Nullable: true},
		{Table: "EMPLOYEES", Name: "DEPT_ID", Position: 3, DataType: "NUMBER", Precision: i64(10), Nullable: true},
	}
	f.columns["ORDERS"] = []connector.ColumnRow{
		{Table: "ORDERS", Name: "ORDER_ID", Position: 1, DataType: "NUMBER"},
		{Table: "ORDERS", Name: "CUSTOMER_ID", Position: 2, DataType: "NUMBER", Nullable: true},
	}
	f.columns["INVOICES"] = []connector.ColumnRow{
		{Table: "INVOICES", Name: "INVOICE_ID", Position: 1, DataType: "NUMBER"},
		{Table: "INVOICES", Name: "CUSTOMER_ID", Position: 2, DataType: "NUMBER", Nullable: true},
	}
	for _, n := range []string{"CUSTOMER", "CUSTOMERS", "CUSTOMER_ORDERS", "OLD_CUSTOMER"} {
		f.columns[n] = []connector.ColumnRow{
			{Table: n, Name: "ID", Position: 1, DataType: "NUMBER"},
		}
	}

	f.constraints["DEPARTMENTS"] = []connector.ConstraintRow{
		{Name: "PK_DEPT", Table: "DEPARTMENTS", Type: "P", Enabled: true},
	}
	f.consCols["DEPARTMENTS"] = []connector.ConsColumnRow{
		{Constraint: "PK_DEPT", Table: "DEPARTMENTS", Column: "DEPT_ID", Position: 1},
	}
	f.constraints["EMPLOYEES"] = []connector.ConstraintRow{
		{Name: "PK_EMP", Table: "EMPLOYEES", Type: "P", Enabled: true},
		{Name: "FK_DEPT", Table: "EMPLOYEES", Type: "R", ROwner: "HR", RConstraint: "PK_DEPT",
			DeleteRule: "NO ACTION", Enabled: true},
	}
	f.consCols["EMPLOYEES"] = []connector.ConsColumnRow{
		{Constraint: "PK_EMP", Table: "EMPLOYEES", Column: "EMP_ID", Position: 1},
		{Constraint: "FK_DEPT", Table: "EMPLOYEES", Column: "DEPT_ID", Position: 1},
	}
	// The targeted single-table path resolves referenced constraints
	// through FKTarget rather than the schema-wide constraint map.
	f.fkTargets["PK_DEPT"] = &connector.FKTargetRow{
		Owner: "HR", Table: "DEPARTMENTS", Columns: []string{"DEPT_ID"},
	}
	f.indexes["EMPLOYEES"] = []connector.IndexRow{
		{Name: "IX_EMP_DEPT", Table: "EMPLOYEES", Unique: false, Type: "NORMAL"},
	}
	f.indCols["EMPLOYEES"] = []connector.IndColumnRow{
		{Index: "IX_EMP_DEPT", Column: "DEPT_ID", Position: 1, Descend: "ASC"},
	}

	f.objects = []connector.ObjectRow{
		{Name: "PAY_EMPLOYEE", Type: "PROCEDURE", Status: "VALID", LastDDL: ddl},
		{Name: "HR_UTILS", Type: "PACKAGE", Status: "VALID", LastDDL: ddl},
	}
	f.sources["PAY_EMPLOYEE/PROCEDURE"] = "PROCEDURE pay_employee IS\nBEGIN\n  NULL;\nEND;"
	f.types = []connector.TypeRow{{Name: "ADDRESS_T", Typecode: "OBJECT"}}
	f.typeAttrs = []connector.TypeAttrRow{
		{Type: "ADDRESS_T", Name: "STREET", AttrType: "VARCHAR2", Position: 1},
		{Type: "ADDRESS_T", Name: "CITY", AttrType: "VARCHAR2", Position: 2},
	}
	f.deps = []connector.DependencyRow{
		{Name: "PAY_EMPLOYEE", Type: "PROCEDURE", ReferencedOwner: "HR", ReferencedName: "EMPLOYEES", ReferencedType: "TABLE"},
	}
	f.dependents["EMPLOYEES"] = []connector.DependencyRow{
		{Name: "PAY_EMPLOYEE", Type: "PROCEDURE", ReferencedOwner: "HR"},
	}
	return f
}

func newTestCache(f *fakeSource) *Cache {
	return New("HR", f, nil, nil)
}

func builtCache(ctx context.Context, f *fakeSource) (*Cache, *BuildStats, error) {
	c := newTestCache(f)
	stats, err := c.Rebuild(ctx)
	return c, stats, err
}
