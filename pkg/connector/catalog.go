package connector

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Catalog exposes the parameterized data-dictionary queries the schema
// cache is built from. Every filter binds OWNER (and optionally a name);
// no query embeds a value in SQL text.
type Catalog struct {
	c *Connector
}

// Catalog returns the dictionary query surface of this connector.
func (c *Connector) Catalog() *Catalog { return &Catalog{c: c} }

// stmt is the squirrel builder for the optional-filter queries, emitting
// Oracle positional binds.
var stmt = sq.StatementBuilder.PlaceholderFormat(sq.Colon)

// TableRow is one relation from ALL_OBJECTS.
type TableRow struct {
	Name    string
	Kind    string // TABLE, VIEW, MATERIALIZED VIEW
	LastDDL time.Time
	Comment string
}

// ColumnRow is one row of ALL_TAB_COLUMNS.
type ColumnRow struct {
	Table     string
	Name      string
	Position  int
	DataType  string
	Length    int64
	Precision *int64
	Scale     *int64
	CharUsed  string
	Nullable  bool
	Default   string
	Comment   string
}

// ConstraintRow is one row of ALL_CONSTRAINTS.
type ConstraintRow struct {
	Name        string
	Table       string
	Type        string // P, R, U, C
	ROwner      string
	RConstraint string
	DeleteRule  string
	Deferrable  bool
	Enabled     bool
	Condition   string
}

// ConsColumnRow is one row of ALL_CONS_COLUMNS.
type ConsColumnRow struct {
	Constraint string
	Table      string
	Column     string
	Position   int
}

// IndexRow is one row of ALL_INDEXES.
type IndexRow struct {
	Name   string
	Table  string
	Unique bool
	Type   string
}

// IndColumnRow is one row of ALL_IND_COLUMNS.
type IndColumnRow struct {
	Index    string
	Column   string
	Position int
	Descend  string // ASC or DESC
}

// DependencyRow is one edge of ALL_DEPENDENCIES.
type DependencyRow struct {
	Name            string
	Type            string
	ReferencedOwner string
	ReferencedName  string
	ReferencedType  string
}

// ObjectRow is one row of ALL_OBJECTS.
type ObjectRow struct {
	Name    string
	Type    string
	Status  string
	LastDDL time.Time
}

// TypeRow is one row of ALL_TYPES.
type TypeRow struct {
	Name     string
	Typecode string
}

// TypeAttrRow is one row of ALL_TYPE_ATTRS.
type TypeAttrRow struct {
	Type     string
	Name     string
	AttrType string
	Position int
}

// FKTargetRow describes the table and columns behind a referenced
// constraint.
type FKTargetRow struct {
	Owner   string
	Table   string
	Columns []string
}

const (
	relationKinds = "'TABLE', 'VIEW', 'MATERIALIZED VIEW'"

	plsqlKinds = "'PROCEDURE', 'FUNCTION', 'PACKAGE', 'PACKAGE BODY', 'TRIGGER', " +
		"'TYPE', 'TYPE BODY', 'SEQUENCE', 'SYNONYM', 'VIEW'"

	sqlTables = `SELECT o.object_name, o.object_type, o.last_ddl_time, c.comments
FROM all_objects o
LEFT JOIN all_tab_comments c ON c.owner = o.owner AND c.table_name = o.object_name
WHERE o.owner = :1 AND o.object_type IN (` + relationKinds + `)
ORDER BY o.object_name`

	sqlTableOne = `SELECT o.object_name, o.object_type, o.last_ddl_time, c.comments
FROM all_objects o
LEFT JOIN all_tab_comments c ON c.owner = o.owner AND c.table_name = o.object_name
WHERE o.owner = :1 AND o.object_name = :2 AND o.object_type IN (` + relationKinds + `)`

	sqlColumns = `SELECT tc.table_name, tc.column_name, tc.column_id, tc.data_type,
       tc.data_length, tc.data_precision, tc.data_scale, tc.char_used,
       tc.nullable, tc.data_default, cc.comments
FROM all_tab_columns tc
LEFT JOIN all_col_comments cc
       ON cc.owner = tc.owner AND cc.table_name = tc.table_name AND cc.column_name = tc.column_name
WHERE tc.owner = :1
ORDER BY tc.table_name, tc.column_id`

	sqlColumnsOne = `SELECT tc.table_name, tc.column_name, tc.column_id, tc.data_type,
       tc.data_length, tc.data_precision, tc.data_scale, tc.char_used,
       tc.nullable, tc.data_default, cc.comments
FROM all_tab_columns tc
LEFT JOIN all_col_comments cc
       ON cc.owner = tc.owner AND cc.table_name = tc.table_name AND cc.column_name = tc.column_name
WHERE tc.owner = :1 AND tc.table_name = :2
ORDER BY tc.column_id`

	sqlConstraints = `SELECT constraint_name, table_name, constraint_type, r_owner,
       r_constraint_name, delete_rule, deferrable, status, search_condition
FROM all_constraints
WHERE owner = :1`

	sqlConstraintsOne = sqlConstraints + ` AND table_name = :2`

	sqlConsColumns = `SELECT constraint_name, table_name, column_name, position
FROM all_cons_columns
WHERE owner = :1
ORDER BY constraint_name, position`

	sqlConsColumnsOne = `SELECT constraint_name, table_name, column_name, position
FROM all_cons_columns
WHERE owner = :1 AND table_name = :2
ORDER BY constraint_name, position`

	sqlIndexes = `SELECT index_name, table_name, uniqueness, index_type
FROM all_indexes
WHERE owner = :1`

	sqlIndexesOne = sqlIndexes + ` AND table_name = :2`

	sqlIndColumns = `SELECT column_position, index_name, column_name, descend
FROM all_ind_columns
WHERE index_owner = :1
ORDER BY index_name, column_position`

	sqlIndColumnsOne = `SELECT column_position, index_name, column_name, descend
FROM all_ind_columns
WHERE index_owner = :1 AND table_name = :2
ORDER BY index_name, column_position`

	sqlDependencies = `SELECT name, type, referenced_owner, referenced_name, referenced_type
FROM all_dependencies
WHERE owner = :1`

	sqlDependents = `SELECT d.name, d.type, d.owner
FROM all_dependencies d
WHERE d.referenced_owner = :1 AND d.referenced_name = :2`

	sqlFKTarget = `SELECT c.owner, c.table_name, cc.column_name
FROM all_constraints c
JOIN all_cons_columns cc
  ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
WHERE c.owner = :1 AND c.constraint_name = :2
ORDER BY cc.position`

	sqlSource = `SELECT text FROM all_source
WHERE owner = :1 AND name = :2 AND type = :3
ORDER BY line`

	sqlObjectDDL = `SELECT dbms_metadata.get_ddl(:1, :2, :3) FROM dual`

	sqlGeneration = `SELECT MAX(last_ddl_time) FROM all_objects WHERE owner = :1`

	sqlTypeAttrs = `SELECT type_name, attr_name, attr_type_name, attr_no
FROM all_type_attrs
WHERE owner = :1
ORDER BY type_name, attr_no`
)

// Tables lists every table, view, and materialized view of the schema.
func (q *Catalog) Tables(ctx context.Context, schema string) ([]TableRow, error) {
	rows, err := q.c.FetchAll(ctx, sqlTables, schema)
	if err != nil {
		return nil, err
	}
	return scanTableRows(rows), nil
}

// Table fetches a single relation, or nil when absent.
func (q *Catalog) Table(ctx context.Context, schema, name string) (*TableRow, error) {
	rows, err := q.c.FetchAll(ctx, sqlTableOne, schema, name)
	if err != nil {
		return nil, err
	}
	out := scanTableRows(rows)
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func scanTableRows(rows *Rows) []TableRow {
	out := make([]TableRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, TableRow{
			Name:    str(r[0]),
			Kind:    str(r[1]),
			LastDDL: timeVal(r[2]),
			Comment: str(r[3]),
		})
	}
	return out
}

// Columns lists all columns of the schema, ordered by table and position.
func (q *Catalog) Columns(ctx context.Context, schema string) ([]ColumnRow, error) {
	rows, err := q.c.FetchAll(ctx, sqlColumns, schema)
	if err != nil {
		return nil, err
	}
	return scanColumnRows(rows), nil
}

// TableColumns lists the columns of one table.
func (q *Catalog) TableColumns(ctx context.Context, schema, table string) ([]ColumnRow, error) {
	rows, err := q.c.FetchAll(ctx, sqlColumnsOne, schema, table)
	if err != nil {
		return nil, err
	}
	return scanColumnRows(rows), nil
}

func scanColumnRows(rows *Rows) []ColumnRow {
	out := make([]ColumnRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, ColumnRow{
			Table:     str(r[0]),
			Name:      str(r[1]),
			Position:  intVal(r[2]),
			DataType:  str(r[3]),
			Length:    int64Val(r[4]),
			Precision: int64Ptr(r[5]),
			Scale:     int64Ptr(r[6]),
			CharUsed:  str(r[7]),
			Nullable:  str(r[8]) == "Y",
			Default:   strings.TrimSpace(str(r[9])),
			Comment:   str(r[10]),
		})
	}
	return out
}

// Constraints lists the schema's constraints, optionally narrowed to one
// table.
func (q *Catalog) Constraints(ctx context.Context, schema, table string) ([]ConstraintRow, error) {
	query, args := sqlConstraints, []any{schema}
	if table != "" {
		query, args = sqlConstraintsOne, []any{schema, table}
	}
	rows, err := q.c.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]ConstraintRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, ConstraintRow{
			Name:        str(r[0]),
			Table:       str(r[1]),
			Type:        str(r[2]),
			ROwner:      str(r[3]),
			RConstraint: str(r[4]),
			DeleteRule:  str(r[5]),
			Deferrable:  strings.HasPrefix(str(r[6]), "DEFERRABLE"),
			Enabled:     str(r[7]) == "ENABLED",
			Condition:   str(r[8]),
		})
	}
	return out, nil
}

// ConsColumns lists constraint column memberships.
func (q *Catalog) ConsColumns(ctx context.Context, schema, table string) ([]ConsColumnRow, error) {
	query, args := sqlConsColumns, []any{schema}
	if table != "" {
		query, args = sqlConsColumnsOne, []any{schema, table}
	}
	rows, err := q.c.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]ConsColumnRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, ConsColumnRow{
			Constraint: str(r[0]),
			Table:      str(r[1]),
			Column:     str(r[2]),
			Position:   intVal(r[3]),
		})
	}
	return out, nil
}

// Indexes lists the schema's indexes, optionally narrowed to one table.
func (q *Catalog) Indexes(ctx context.Context, schema, table string) ([]IndexRow, error) {
	query, args := sqlIndexes, []any{schema}
	if table != "" {
		query, args = sqlIndexesOne, []any{schema, table}
	}
	rows, err := q.c.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]IndexRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, IndexRow{
			Name:   str(r[0]),
			Table:  str(r[1]),
			Unique: str(r[2]) == "UNIQUE",
			Type:   str(r[3]),
		})
	}
	return out, nil
}

// IndColumns lists index column memberships.
func (q *Catalog) IndColumns(ctx context.Context, schema, table string) ([]IndColumnRow, error) {
	query, args := sqlIndColumns, []any{schema}
	if table != "" {
		query, args = sqlIndColumnsOne, []any{schema, table}
	}
	rows, err := q.c.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]IndColumnRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, IndColumnRow{
			Position: intVal(r[0]),
			Index:    str(r[1]),
			Column:   str(r[2]),
			Descend:  str(r[3]),
		})
	}
	return out, nil
}

// Dependencies lists every dependency edge whose referrer lives in schema.
func (q *Catalog) Dependencies(ctx context.Context, schema string) ([]DependencyRow, error) {
	rows, err := q.c.FetchAll(ctx, sqlDependencies, schema)
	if err != nil {
		return nil, err
	}
	out := make([]DependencyRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, DependencyRow{
			Name:            str(r[0]),
			Type:            str(r[1]),
			ReferencedOwner: str(r[2]),
			ReferencedName:  str(r[3]),
			ReferencedType:  str(r[4]),
		})
	}
	return out, nil
}

// Dependents lists objects that reference the named object.
func (q *Catalog) Dependents(ctx context.Context, schema, name string) ([]DependencyRow, error) {
	rows, err := q.c.FetchAll(ctx, sqlDependents, schema, name)
	if err != nil {
		return nil, err
	}
	out := make([]DependencyRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, DependencyRow{
			Name:            str(r[0]),
			Type:            str(r[1]),
			ReferencedOwner: str(r[2]),
		})
	}
	return out, nil
}

// FKTarget resolves a referenced constraint to its table and column list.
// Used for foreign keys pointing outside the target schema.
func (q *Catalog) FKTarget(ctx context.Context, owner, constraint string) (*FKTargetRow, error) {
	rows, err := q.c.FetchAll(ctx, sqlFKTarget, owner, constraint)
	if err != nil {
		return nil, err
	}
	if len(rows.Rows) == 0 {
		return nil, nil
	}
	out := &FKTargetRow{Owner: str(rows.Rows[0][0]), Table: str(rows.Rows[0][1])}
	for _, r := range rows.Rows {
		out.Columns = append(out.Columns, str(r[2]))
	}
	return out, nil
}

// Objects lists PL/SQL-adjacent objects, optionally filtered by a LIKE
// pattern and a kind list. Built with squirrel so the filters stay binds.
func (q *Catalog) Objects(ctx context.Context, schema, pattern string, kinds []string) ([]ObjectRow, error) {
	b := stmt.Select("object_name", "object_type", "status", "last_ddl_time").
		From("all_objects").
		Where(sq.Eq{"owner": schema}).
		OrderBy("object_name")
	if len(kinds) > 0 {
		b = b.Where(sq.Eq{"object_type": kinds})
	} else {
		b = b.Where("object_type IN (" + plsqlKinds + ")")
	}
	if pattern != "" {
		b = b.Where("object_name LIKE ?", strings.ToUpper(pattern))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, Wrap(CodeInternal, err, "building object query")
	}
	rows, err := q.c.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]ObjectRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, ObjectRow{
			Name:    str(r[0]),
			Type:    str(r[1]),
			Status:  str(r[2]),
			LastDDL: timeVal(r[3]),
		})
	}
	return out, nil
}

// Types lists user-defined types, optionally filtered by a LIKE pattern.
func (q *Catalog) Types(ctx context.Context, schema, pattern string) ([]TypeRow, error) {
	b := stmt.Select("type_name", "typecode").
		From("all_types").
		Where(sq.Eq{"owner": schema}).
		OrderBy("type_name")
	if pattern != "" {
		b = b.Where("type_name LIKE ?", strings.ToUpper(pattern))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, Wrap(CodeInternal, err, "building type query")
	}
	rows, err := q.c.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]TypeRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, TypeRow{Name: str(r[0]), Typecode: str(r[1])})
	}
	return out, nil
}

// TypeAttrs lists the attributes of every user-defined type in the schema.
func (q *Catalog) TypeAttrs(ctx context.Context, schema string) ([]TypeAttrRow, error) {
	rows, err := q.c.FetchAll(ctx, sqlTypeAttrs, schema)
	if err != nil {
		return nil, err
	}
	out := make([]TypeAttrRow, 0, len(rows.Rows))
	for _, r := range rows.Rows {
		out = append(out, TypeAttrRow{
			Type:     str(r[0]),
			Name:     str(r[1]),
			AttrType: str(r[2]),
			Position: intVal(r[3]),
		})
	}
	return out, nil
}

// Source fetches PL/SQL source text from ALL_SOURCE line by line. Returns
// the empty string when the object has no stored source.
func (q *Catalog) Source(ctx context.Context, schema, name, kind string) (string, error) {
	rows, err := q.c.FetchAll(ctx, sqlSource, schema, name, kind)
	if err != nil {
		return "", err
	}
	if len(rows.Rows) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, r := range rows.Rows {
		sb.WriteString(str(r[0]))
	}
	return sb.String(), nil
}

// ObjectDDL reconstructs DDL via DBMS_METADATA for objects without
// ALL_SOURCE entries (views, sequences, synonyms). DBMS_METADATA wants
// the underscored object_type (PACKAGE_BODY, MATERIALIZED_VIEW), not the
// space form the dictionary views use.
func (q *Catalog) ObjectDDL(ctx context.Context, schema, name, kind string) (string, error) {
	rows, err := q.c.FetchAll(ctx, sqlObjectDDL, strings.ReplaceAll(kind, " ", "_"), name, schema)
	if err != nil {
		return "", err
	}
	if len(rows.Rows) == 0 {
		return "", nil
	}
	return str(rows.Rows[0][0]), nil
}

// Version returns the leading v$version banner line.
func (q *Catalog) Version(ctx context.Context) (string, error) {
	rows, err := q.c.FetchAll(ctx, "SELECT banner FROM v$version")
	if err != nil {
		return "", err
	}
	if len(rows.Rows) == 0 {
		return "", nil
	}
	return str(rows.Rows[0][0]), nil
}

// Generation returns the schema's catalog generation marker: the newest
// LAST_DDL_TIME across all objects. Zero time for an empty schema.
func (q *Catalog) Generation(ctx context.Context, schema string) (time.Time, error) {
	rows, err := q.c.FetchAll(ctx, sqlGeneration, schema)
	if err != nil {
		return time.Time{}, err
	}
	if len(rows.Rows) == 0 {
		return time.Time{}, nil
	}
	return timeVal(rows.Rows[0][0]), nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func timeVal(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func intVal(v any) int {
	return int(int64Val(v))
}

func int64Val(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}

func int64Ptr(v any) *int64 {
	if v == nil {
		return nil
	}
	n := int64Val(v)
	return &n
}
