package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
)

// Source is the slice of the connector's catalog surface the cache
// consumes. *connector.Catalog satisfies it; tests substitute an
// in-memory fixture.
type Source interface {
	Tables(ctx context.Context, schema string) ([]connector.TableRow, error)
	Table(ctx context.Context, schema, name string) (*connector.TableRow, error)
	Columns(ctx context.Context, schema string) ([]connector.ColumnRow, error)
	TableColumns(ctx context.Context, schema, table string) ([]connector.ColumnRow, error)
	Constraints(ctx context.Context, schema, table string) ([]connector.ConstraintRow, error)
	ConsColumns(ctx context.Context, schema, table string) ([]connector.ConsColumnRow, error)
	Indexes(ctx context.Context, schema, table string) ([]connector.IndexRow, error)
	IndColumns(ctx context.Context, schema, table string) ([]connector.IndColumnRow, error)
	Dependencies(ctx context.Context, schema string) ([]connector.DependencyRow, error)
	Dependents(ctx context.Context, schema, name string) ([]connector.DependencyRow, error)
	FKTarget(ctx context.Context, owner, constraint string) (*connector.FKTargetRow, error)
	Objects(ctx context.Context, schema, pattern string, kinds []string) ([]connector.ObjectRow, error)
	Types(ctx context.Context, schema, pattern string) ([]connector.TypeRow, error)
	TypeAttrs(ctx context.Context, schema string) ([]connector.TypeAttrRow, error)
	Source(ctx context.Context, schema, name, kind string) (string, error)
	ObjectDDL(ctx context.Context, schema, name, kind string) (string, error)
	Generation(ctx context.Context, schema string) (time.Time, error)
	Version(ctx context.Context) (string, error)
}

// Warmup brings the cache to a servable state: it computes the current
// catalog fingerprint, reloads the matching snapshot from disk when one
// exists, and otherwise runs a full staged build. A corrupt or mismatched
// file is discarded, never fatal.
func (c *Cache) Warmup(ctx context.Context) (*BuildStats, error) {
	fp, version, generation, err := c.currentFingerprint(ctx)
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		if snap, err := c.store.Load(fp); err != nil {
			c.logger.Warn("cache file unusable, rebuilding", "error", err)
		} else if snap != nil {
			c.install(snap, fp, version, generation)
			stats := c.snapshotStats(fp, false)
			c.logger.Info("schema cache loaded from disk",
				"tables", stats.Tables, "fingerprint", shortFP(fp))
			return stats, nil
		}
	}
	return c.rebuild(ctx, fp, version, generation)
}

// Rebuild forces a full recomputation. Readers keep seeing the prior
// snapshot until each stage commits.
func (c *Cache) Rebuild(ctx context.Context) (*BuildStats, error) {
	fp, version, generation, err := c.currentFingerprint(ctx)
	if err != nil {
		return nil, err
	}
	return c.rebuild(ctx, fp, version, generation)
}

func (c *Cache) currentFingerprint(ctx context.Context) (Fingerprint, string, time.Time, error) {
	version, err := c.source.Version(ctx)
	if err != nil {
		return Fingerprint{}, "", time.Time{}, err
	}
	generation, err := c.source.Generation(ctx, c.schema)
	if err != nil {
		return Fingerprint{}, "", time.Time{}, err
	}
	return NewFingerprint(version, c.schema, generation), version, generation, nil
}

// rebuild runs the staged full sweep: tables+columns first, then
// constraints+indexes, then dependencies, then the PL/SQL and type
// inventory. Every stage commits an intermediate snapshot so partial
// progress survives a crash.
func (c *Cache) rebuild(ctx context.Context, fp Fingerprint, version string, generation time.Time) (*BuildStats, error) {
	start := time.Now()
	c.logger.Info("schema cache rebuild starting", "schema", c.schema)

	// Stage 1: relations and columns.
	records, err := c.sweepTables(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.resetTablesLocked()
	for _, rec := range records {
		// Install copies: stages two and three keep enriching the
		// originals, which must stay invisible until their own commit.
		partial := *rec
		c.mergeTableLocked(&partial)
	}
	c.fingerprint, c.version, c.generation = fp, version, generation
	c.mu.Unlock()
	c.persist()
	c.logger.Info("rebuild stage committed", "stage", "tables", "tables", len(records))

	// Stage 2: constraints and indexes.
	if err := c.sweepKeys(ctx, records); err != nil {
		return nil, err
	}
	c.mu.Lock()
	for _, rec := range records {
		rec.fullyLoaded = true
		c.mergeTableLocked(rec)
	}
	c.mu.Unlock()
	c.persist()
	c.logger.Info("rebuild stage committed", "stage", "constraints")

	// Stage 3: dependency edges.
	deps, err := c.source.Dependencies(ctx, c.schema)
	if err != nil {
		return nil, err
	}
	graph := NewGraph()
	for _, d := range deps {
		graph.Add(
			ObjectRef{Schema: c.schema, Name: d.Name, Kind: d.Type},
			ObjectRef{Schema: d.ReferencedOwner, Name: d.ReferencedName, Kind: d.ReferencedType},
		)
	}
	c.mu.Lock()
	c.deps = graph
	c.dependents = map[string][]ObjectRef{}
	c.mu.Unlock()
	c.persist()
	c.logger.Info("rebuild stage committed", "stage", "dependencies", "edges", graph.Len())

	// Stage 4: PL/SQL and user-defined type inventory.
	if err := c.sweepObjects(ctx); err != nil {
		return nil, err
	}
	c.persist()
	c.lastRefresh.Store(time.Now().Unix())

	stats := c.snapshotStats(fp, true)
	stats.Duration = time.Since(start)
	c.logger.Info("schema cache rebuilt",
		"tables", stats.Tables, "plsql", stats.PLSQL,
		"duration", stats.Duration, "fingerprint", shortFP(fp))
	return stats, nil
}

func (c *Cache) snapshotStats(fp Fingerprint, built bool) *BuildStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &BuildStats{
		Built:       built,
		Tables:      len(c.tables),
		PLSQL:       len(c.plsql),
		Types:       len(c.types),
		Fingerprint: fp.Hex(),
	}
}

// resetTablesLocked clears the relation maps ahead of a full sweep so
// records absent from the new sweep are destroyed.
func (c *Cache) resetTablesLocked() {
	c.tables = map[string]*TableRecord{}
	c.sortedNames = nil
	c.byColumn = map[string]map[string]struct{}{}
	c.fkIncoming = map[string][]RelatedRef{}
	c.stale = map[string]struct{}{}
}

// sweepTables runs the cheap stage: one query for relations, one for
// columns, joined in memory on table name.
func (c *Cache) sweepTables(ctx context.Context) ([]*TableRecord, error) {
	tabs, err := c.source.Tables(ctx, c.schema)
	if err != nil {
		return nil, err
	}
	cols, err := c.source.Columns(ctx, c.schema)
	if err != nil {
		return nil, err
	}

	byTable := map[string]*TableRecord{}
	records := make([]*TableRecord, 0, len(tabs))
	for _, t := range tabs {
		rec := &TableRecord{
			Schema:  c.schema,
			Name:    t.Name,
			Kind:    relationKindFromCatalog(t.Kind),
			Comment: t.Comment,
			LastDDL: t.LastDDL,
		}
		byTable[strings.ToUpper(t.Name)] = rec
		records = append(records, rec)
	}
	for _, col := range cols {
		rec, ok := byTable[strings.ToUpper(col.Table)]
		if !ok {
			continue
		}
		rec.Columns = append(rec.Columns, columnRecord(col))
	}
	for _, rec := range records {
		normalizeColumnPositions(rec)
	}
	return records, nil
}

// sweepKeys merges constraints and indexes for the whole schema into the
// given records.
func (c *Cache) sweepKeys(ctx context.Context, records []*TableRecord) error {
	cons, err := c.source.Constraints(ctx, c.schema, "")
	if err != nil {
		return err
	}
	consCols, err := c.source.ConsColumns(ctx, c.schema, "")
	if err != nil {
		return err
	}
	idxs, err := c.source.Indexes(ctx, c.schema, "")
	if err != nil {
		return err
	}
	idxCols, err := c.source.IndColumns(ctx, c.schema, "")
	if err != nil {
		return err
	}

	byTable := map[string]*TableRecord{}
	for _, rec := range records {
		byTable[strings.ToUpper(rec.Name)] = rec
	}
	return c.mergeKeys(ctx, byTable, cons, consCols, idxs, idxCols)
}

// mergeKeys assembles constraint and index rows into the target records.
// Shared by the full sweep and the targeted single-table refresh.
func (c *Cache) mergeKeys(ctx context.Context, byTable map[string]*TableRecord,
	cons []connector.ConstraintRow, consCols []connector.ConsColumnRow,
	idxs []connector.IndexRow, idxCols []connector.IndColumnRow) error {

	colsByConstraint := map[string][]string{}
	for _, cc := range consCols {
		colsByConstraint[cc.Constraint] = append(colsByConstraint[cc.Constraint], cc.Column)
	}
	// Referenced-constraint lookup for in-schema foreign keys.
	tableByConstraint := map[string]string{}
	for _, con := range cons {
		tableByConstraint[con.Name] = con.Table
	}

	for _, con := range cons {
		rec, ok := byTable[strings.ToUpper(con.Table)]
		if !ok {
			continue
		}
		columns := colsByConstraint[con.Name]
		switch con.Type {
		case "P":
			rec.PrimaryKey = columns
		case "U":
			rec.UniqueKeys = append(rec.UniqueKeys, columns)
		case "R":
			fk, err := c.resolveForeignKey(ctx, con, columns, tableByConstraint, colsByConstraint)
			if err != nil {
				return err
			}
			rec.ForeignKeys = append(rec.ForeignKeys, fk)
		case "C":
			rec.CheckConstraints = append(rec.CheckConstraints, CheckRecord{
				Name:      con.Name,
				Condition: con.Condition,
			})
		}
	}

	idxColsByIndex := map[string][]IndexColumn{}
	for _, ic := range idxCols {
		idxColsByIndex[ic.Index] = append(idxColsByIndex[ic.Index], IndexColumn{
			Name:    ic.Column,
			Descend: ic.Descend,
		})
	}
	for _, idx := range idxs {
		rec, ok := byTable[strings.ToUpper(idx.Table)]
		if !ok {
			continue
		}
		rec.Indexes = append(rec.Indexes, IndexRecord{
			Name:    idx.Name,
			Unique:  idx.Unique,
			Columns: idxColsByIndex[idx.Name],
			Type:    idx.Type,
		})
	}

	for _, rec := range byTable {
		sort.Slice(rec.Indexes, func(i, j int) bool { return rec.Indexes[i].Name < rec.Indexes[j].Name })
		sort.Slice(rec.ForeignKeys, func(i, j int) bool { return rec.ForeignKeys[i].Name < rec.ForeignKeys[j].Name })
	}
	return nil
}

// resolveForeignKey fills in the referenced side of an R constraint. A
// target outside the cached schema is resolved with one extra query and
// flagged external; an unresolvable target keeps the edge, still flagged,
// rather than dropping it.
func (c *Cache) resolveForeignKey(ctx context.Context, con connector.ConstraintRow,
	columns []string, tableByConstraint map[string]string,
	colsByConstraint map[string][]string) (ForeignKeyRecord, error) {

	fk := ForeignKeyRecord{
		Name:         con.Name,
		LocalColumns: columns,
		OnDelete:     onDeleteRule(con.DeleteRule),
		Deferrable:   con.Deferrable,
		Enabled:      con.Enabled,
	}

	if strings.EqualFold(con.ROwner, c.schema) {
		if target, ok := tableByConstraint[con.RConstraint]; ok {
			fk.TargetSchema = c.schema
			fk.TargetTable = target
			fk.TargetColumns = colsByConstraint[con.RConstraint]
			return fk, nil
		}
	}

	target, err := c.source.FKTarget(ctx, con.ROwner, con.RConstraint)
	if err != nil {
		return fk, err
	}
	fk.External = true
	fk.TargetSchema = con.ROwner
	if target != nil {
		fk.TargetSchema = target.Owner
		fk.TargetTable = target.Table
		fk.TargetColumns = target.Columns
		fk.External = !strings.EqualFold(target.Owner, c.schema)
	}
	return fk, nil
}

// sweepObjects refreshes the PL/SQL and user-defined type inventory.
func (c *Cache) sweepObjects(ctx context.Context) error {
	objs, err := c.source.Objects(ctx, c.schema, "", nil)
	if err != nil {
		return err
	}
	typeRows, err := c.source.Types(ctx, c.schema, "")
	if err != nil {
		return err
	}
	attrRows, err := c.source.TypeAttrs(ctx, c.schema)
	if err != nil {
		return err
	}

	plsql := make(map[string]*PLSQLObject, len(objs))
	for _, o := range objs {
		obj := &PLSQLObject{
			Schema:          c.schema,
			Name:            o.Name,
			Kind:            strings.ReplaceAll(o.Type, " ", "_"),
			Status:          o.Status,
			LastDDL:         o.LastDDL,
			SourceAvailable: sourceKind(o.Type),
		}
		plsql[plsqlKey(obj.Name, obj.Kind)] = obj
	}

	types := make(map[string]*UserDefinedType, len(typeRows))
	for _, t := range typeRows {
		types[strings.ToUpper(t.Name)] = &UserDefinedType{
			Schema:   c.schema,
			Name:     t.Name,
			Typecode: t.Typecode,
		}
	}
	for _, a := range attrRows {
		if udt, ok := types[strings.ToUpper(a.Type)]; ok {
			udt.Attributes = append(udt.Attributes, TypeAttribute{
				Name:     a.Name,
				DataType: a.AttrType,
				Position: a.Position,
			})
		}
	}

	c.mu.Lock()
	c.plsql = plsql
	c.types = types
	c.mu.Unlock()
	return nil
}

func plsqlKey(name, kind string) string {
	return strings.ToUpper(name) + "/" + strings.ToUpper(kind)
}

// sourceKind reports whether ALL_SOURCE carries text for this object
// type.
func sourceKind(objectType string) bool {
	switch objectType {
	case "PROCEDURE", "FUNCTION", "PACKAGE", "PACKAGE BODY", "TRIGGER", "TYPE", "TYPE BODY":
		return true
	}
	return false
}

// loadTable is the targeted refresh on a miss or a stale read: a handful
// of narrow, indexed dictionary queries for one table, merged under the
// write lock, with the disk persist scheduled off the request path.
func (c *Cache) loadTable(ctx context.Context, schema, name string) (*TableRecord, error) {
	key := tableKey(schema, name)
	done, waited, err := c.beginLoad(ctx, key)
	if err != nil {
		return nil, err
	}
	if waited {
		// Another caller finished the load; serve from the index.
		c.mu.RLock()
		rec, ok := c.tables[key]
		c.mu.RUnlock()
		if ok && rec.FullyLoaded() {
			return rec, nil
		}
		return nil, notFound(schema, name)
	}
	defer done()

	row, err := c.source.Table(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	if row == nil {
		c.mu.Lock()
		c.removeTableLocked(schema, name)
		c.mu.Unlock()
		c.persist()
		return nil, notFound(schema, name)
	}

	cols, err := c.source.TableColumns(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	cons, err := c.source.Constraints(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	consCols, err := c.source.ConsColumns(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	idxs, err := c.source.Indexes(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	idxCols, err := c.source.IndColumns(ctx, schema, name)
	if err != nil {
		return nil, err
	}

	rec := &TableRecord{
		Schema:  schema,
		Name:    row.Name,
		Kind:    relationKindFromCatalog(row.Kind),
		Comment: row.Comment,
		LastDDL: row.LastDDL,
	}
	for _, col := range cols {
		rec.Columns = append(rec.Columns, columnRecord(col))
	}
	normalizeColumnPositions(rec)

	byTable := map[string]*TableRecord{strings.ToUpper(rec.Name): rec}
	if err := c.mergeKeys(ctx, byTable, cons, consCols, idxs, idxCols); err != nil {
		return nil, err
	}
	rec.fullyLoaded = true

	c.mu.Lock()
	c.mergeTableLocked(rec)
	c.mu.Unlock()
	c.persistAsync()
	return rec, nil
}

func notFound(schema, name string) error {
	return connector.Errorf(connector.CodeNotFound, "table %s.%s not found", schema, name)
}

func columnRecord(col connector.ColumnRow) ColumnRecord {
	return ColumnRecord{
		Name:        col.Name,
		DataType:    canonicalType(col),
		Nullable:    col.Nullable,
		Position:    col.Position,
		DefaultExpr: col.Default,
		Comment:     col.Comment,
	}
}

// normalizeColumnPositions sorts columns and makes positions dense and
// 1-based regardless of gaps left by dropped columns.
func normalizeColumnPositions(rec *TableRecord) {
	sort.Slice(rec.Columns, func(i, j int) bool {
		return rec.Columns[i].Position < rec.Columns[j].Position
	})
	for i := range rec.Columns {
		rec.Columns[i].Position = i + 1
	}
}

// canonicalType renders the canonical Oracle form of a column type, e.g.
// NUMBER(10,2) or VARCHAR2(100 BYTE).
func canonicalType(col connector.ColumnRow) string {
	dt := col.DataType
	switch dt {
	case "NUMBER":
		if col.Precision == nil {
			return dt
		}
		if col.Scale != nil && *col.Scale != 0 {
			return fmt.Sprintf("NUMBER(%d,%d)", *col.Precision, *col.Scale)
		}
		return fmt.Sprintf("NUMBER(%d)", *col.Precision)
	case "FLOAT":
		if col.Precision != nil {
			return fmt.Sprintf("FLOAT(%d)", *col.Precision)
		}
		return dt
	case "VARCHAR2", "NVARCHAR2", "CHAR", "NCHAR":
		unit := "BYTE"
		if col.CharUsed == "C" {
			unit = "CHAR"
		}
		return fmt.Sprintf("%s(%d %s)", dt, col.Length, unit)
	case "RAW":
		return fmt.Sprintf("RAW(%d)", col.Length)
	}
	return dt
}

// GetPLSQLObjects lists code objects matching a LIKE pattern and an
// optional kind filter, serving from the inventory when one is loaded.
func (c *Cache) GetPLSQLObjects(ctx context.Context, pattern string, kinds []string) ([]PLSQLObject, error) {
	normKinds := make([]string, 0, len(kinds))
	for _, k := range kinds {
		normKinds = append(normKinds, strings.ReplaceAll(strings.ToUpper(k), "_", " "))
	}

	c.mu.RLock()
	inventory := len(c.plsql) > 0
	var out []PLSQLObject
	if inventory {
		for _, obj := range c.plsql {
			if matchesObject(obj, pattern, normKinds) {
				out = append(out, *obj)
			}
		}
	}
	c.mu.RUnlock()

	if !inventory {
		rows, err := c.source.Objects(ctx, c.schema, pattern, normKinds)
		if err != nil {
			return nil, err
		}
		for _, o := range rows {
			out = append(out, PLSQLObject{
				Schema:          c.schema,
				Name:            o.Name,
				Kind:            strings.ReplaceAll(o.Type, " ", "_"),
				Status:          o.Status,
				LastDDL:         o.LastDDL,
				SourceAvailable: sourceKind(o.Type),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func matchesObject(obj *PLSQLObject, pattern string, kinds []string) bool {
	if len(kinds) > 0 {
		match := false
		catalogKind := strings.ReplaceAll(obj.Kind, "_", " ")
		for _, k := range kinds {
			if catalogKind == k {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if pattern == "" {
		return true
	}
	p, err := parsePattern(pattern)
	if err != nil {
		return false
	}
	return p.tier(strings.ToUpper(obj.Name)) != tierNone
}

// GetObjectSource fetches and caches the source text of one object,
// preferring ALL_SOURCE and falling back to reconstructed DDL.
func (c *Cache) GetObjectSource(ctx context.Context, schema, name, kind string) (string, error) {
	if schema == "" {
		schema = c.schema
	}
	schema = normalizeIdent(schema)
	name = normalizeIdent(name)
	kind = strings.ReplaceAll(strings.ToUpper(kind), "_", " ")
	key := name + "/" + kind

	c.mu.RLock()
	src, ok := c.sources[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return src, nil
	}
	c.misses.Add(1)

	var err error
	if kind == "" || sourceKind(kind) {
		src, err = c.source.Source(ctx, schema, name, kind)
		if err != nil {
			return "", err
		}
	}
	if src == "" {
		src, err = c.source.ObjectDDL(ctx, schema, name, kind)
		if err != nil {
			return "", err
		}
	}
	if src == "" {
		return "", connector.Errorf(connector.CodeNotFound, "no source for %s %s.%s", kind, schema, name)
	}

	c.mu.Lock()
	c.sources[key] = src
	c.mu.Unlock()
	return src, nil
}

// GetDependents returns the objects that reference the named object,
// querying ALL_DEPENDENCIES on a miss and caching the answer.
func (c *Cache) GetDependents(ctx context.Context, schema, name, kind string) ([]ObjectRef, error) {
	if schema == "" {
		schema = c.schema
	}
	schema = normalizeIdent(schema)
	name = normalizeIdent(name)

	c.mu.RLock()
	cached, ok := c.dependents[name]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return cached, nil
	}
	c.misses.Add(1)

	rows, err := c.source.Dependents(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	refs := make([]ObjectRef, 0, len(rows))
	for _, d := range rows {
		ref := ObjectRef{Schema: d.ReferencedOwner, Name: d.Name, Kind: strings.ReplaceAll(d.Type, " ", "_")}
		if ref.Schema == "" {
			ref.Schema = schema
		}
		refs = append(refs, ref)
		c.mu.Lock()
		c.deps.Add(ref, ObjectRef{Schema: schema, Name: name, Kind: kind})
		c.mu.Unlock()
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	c.mu.Lock()
	c.dependents[name] = refs
	c.mu.Unlock()
	return refs, nil
}

// GetUserDefinedTypes lists user-defined types matching a LIKE pattern.
func (c *Cache) GetUserDefinedTypes(ctx context.Context, rawPattern string) ([]UserDefinedType, error) {
	var p *pattern
	if rawPattern != "" {
		parsed, err := parsePattern(rawPattern)
		if err != nil {
			return nil, err
		}
		p = &parsed
	}

	c.mu.RLock()
	inventory := len(c.types) > 0
	var out []UserDefinedType
	if inventory {
		for _, t := range c.types {
			if p == nil || p.tier(strings.ToUpper(t.Name)) != tierNone {
				out = append(out, *t)
			}
		}
	}
	c.mu.RUnlock()

	if !inventory {
		rows, err := c.source.Types(ctx, c.schema, rawPattern)
		if err != nil {
			return nil, err
		}
		attrs, err := c.source.TypeAttrs(ctx, c.schema)
		if err != nil {
			return nil, err
		}
		byName := map[string]*UserDefinedType{}
		for _, t := range rows {
			udt := &UserDefinedType{Schema: c.schema, Name: t.Name, Typecode: t.Typecode}
			byName[strings.ToUpper(t.Name)] = udt
		}
		for _, a := range attrs {
			if udt, ok := byName[strings.ToUpper(a.Type)]; ok {
				udt.Attributes = append(udt.Attributes, TypeAttribute{
					Name: a.Name, DataType: a.AttrType, Position: a.Position,
				})
			}
		}
		for _, udt := range byName {
			out = append(out, *udt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func shortFP(fp Fingerprint) string {
	return fp.Hex()[:12]
}
