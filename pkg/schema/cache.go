package schema

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
)

// Cache is the in-memory and on-disk index of one (connection target,
// schema) pair. Reads take a shared lock; structural updates take the
// exclusive lock only for the in-memory swap, never across a catalog
// round-trip.
type Cache struct {
	mu sync.RWMutex

	schema string // upper-cased target schema
	source Source
	store  *Store
	logger *slog.Logger

	fingerprint Fingerprint
	version     string
	generation  time.Time

	// tables is keyed by "SCHEMA.NAME", upper-cased. sortedNames holds
	// the bare upper names of the target schema for pattern search.
	tables      map[string]*TableRecord
	sortedNames []string
	byColumn    map[string]map[string]struct{} // upper(column) -> table keys
	fkIncoming  map[string][]RelatedRef        // table key -> referrers

	plsql map[string]*PLSQLObject // "NAME/KIND"
	types map[string]*UserDefinedType

	deps       *Graph
	dependents map[string][]ObjectRef // resolved ALL_DEPENDENCIES answers
	sources    map[string]string      // object source text, "NAME/KIND"

	stale map[string]struct{} // table keys marked by Invalidate

	// inflight serializes concurrent miss loads of the same table.
	inflightMu sync.Mutex
	inflight   map[string]chan struct{}

	hits   atomic.Uint64
	misses atomic.Uint64

	lastRefresh atomic.Int64
}

// New creates a cache bound to a catalog source and a disk store. The
// store may be nil in tests; persistence is then skipped.
func New(schema string, source Source, store *Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		schema:     strings.ToUpper(schema),
		source:     source,
		store:      store,
		logger:     logger,
		tables:     map[string]*TableRecord{},
		byColumn:   map[string]map[string]struct{}{},
		fkIncoming: map[string][]RelatedRef{},
		plsql:      map[string]*PLSQLObject{},
		types:      map[string]*UserDefinedType{},
		deps:       NewGraph(),
		dependents: map[string][]ObjectRef{},
		sources:    map[string]string{},
		stale:      map[string]struct{}{},
		inflight:   map[string]chan struct{}{},
	}
}

// Schema returns the upper-cased target schema.
func (c *Cache) Schema() string { return c.schema }

// Fingerprint returns the current snapshot fingerprint.
func (c *Cache) Fingerprint() Fingerprint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fingerprint
}

// normalizeIdent applies Oracle identifier rules: quoted identifiers keep
// their case, everything else folds to upper.
func normalizeIdent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return strings.ToUpper(s)
}

// splitQualified resolves an optionally schema-qualified name against the
// target schema.
func (c *Cache) splitQualified(name string) (schema, bare string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return normalizeIdent(name[:i]), normalizeIdent(name[i+1:])
	}
	return c.schema, normalizeIdent(name)
}

func tableKey(schema, name string) string { return schema + "." + name }

// GetTable returns the record for name, loading it from the catalog on a
// miss. Lookups are case-insensitive; a quoted identifier is matched
// verbatim. Returns a not_found error when the catalog has no such
// relation.
func (c *Cache) GetTable(ctx context.Context, name string) (*TableRecord, error) {
	if strings.TrimSpace(name) == "" {
		return nil, connector.Errorf(connector.CodeInvalidArgument, "table name is empty")
	}
	schema, bare := c.splitQualified(name)
	key := tableKey(schema, bare)

	c.mu.RLock()
	rec, ok := c.tables[key]
	_, isStale := c.stale[key]
	c.mu.RUnlock()

	if ok && rec.FullyLoaded() && !isStale {
		c.hits.Add(1)
		return rec, nil
	}
	c.misses.Add(1)
	return c.loadTable(ctx, schema, bare)
}

// GetTables batches lookups; the result preserves input order. A missing
// table yields a nil record with a not_found error in its slot rather
// than failing the batch.
func (c *Cache) GetTables(ctx context.Context, names []string) []TableResult {
	out := make([]TableResult, 0, len(names))
	for _, n := range names {
		rec, err := c.GetTable(ctx, n)
		out = append(out, TableResult{Name: n, Record: rec, Err: err})
	}
	return out
}

// TableResult is one slot of a batched lookup.
type TableResult struct {
	Name   string
	Record *TableRecord
	Err    error
}

// GetConstraints returns the constraint view of a table.
func (c *Cache) GetConstraints(ctx context.Context, name string) (*TableRecord, error) {
	return c.GetTable(ctx, name)
}

// GetIndexes returns the indexes of a table.
func (c *Cache) GetIndexes(ctx context.Context, name string) ([]IndexRecord, error) {
	rec, err := c.GetTable(ctx, name)
	if err != nil {
		return nil, err
	}
	return rec.Indexes, nil
}

// GetRelatedTables walks the foreign-key graph one hop in each direction.
func (c *Cache) GetRelatedTables(ctx context.Context, name string) (*RelatedTables, error) {
	rec, err := c.GetTable(ctx, name)
	if err != nil {
		return nil, err
	}
	key := tableKey(strings.ToUpper(rec.Schema), strings.ToUpper(rec.Name))

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &RelatedTables{Incoming: []RelatedRef{}, Outgoing: []RelatedRef{}}
	for _, fk := range rec.ForeignKeys {
		via := ""
		if len(fk.LocalColumns) > 0 {
			via = fk.LocalColumns[0]
		}
		out.Outgoing = append(out.Outgoing, RelatedRef{
			Schema: fk.TargetSchema, Name: fk.TargetTable, Via: via,
		})
	}
	out.Incoming = append(out.Incoming, c.fkIncoming[key]...)
	sortRelated(out.Incoming)
	sortRelated(out.Outgoing)
	return out, nil
}

func sortRelated(refs []RelatedRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Schema != refs[j].Schema {
			return refs[i].Schema < refs[j].Schema
		}
		return refs[i].Name < refs[j].Name
	})
}

// Invalidate marks an object stale. The next read of a stale table runs a
// targeted refresh instead of serving the cached record. An empty ref
// name marks the whole schema.
func (c *Cache) Invalidate(ref ObjectRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	schema := strings.ToUpper(ref.Schema)
	if schema == "" {
		schema = c.schema
	}
	if ref.Name == "" {
		for key := range c.tables {
			c.stale[key] = struct{}{}
		}
		c.dependents = map[string][]ObjectRef{}
		c.sources = map[string]string{}
		c.logger.Info("cache invalidated", "scope", "schema", "schema", schema)
		return
	}

	name := normalizeIdent(ref.Name)
	c.stale[tableKey(schema, name)] = struct{}{}
	delete(c.dependents, name)
	for _, kind := range []string{"", "PROCEDURE", "FUNCTION", "PACKAGE", "PACKAGE BODY",
		"TRIGGER", "TYPE", "TYPE BODY", "VIEW"} {
		delete(c.sources, name+"/"+kind)
	}
	c.logger.Debug("cache invalidated", "object", ref.String())
}

// Stats returns the hit/miss counters and entity counts.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Tables:      len(c.tables),
		PLSQL:       len(c.plsql),
		Types:       len(c.types),
		LastRefresh: c.lastRefresh.Load(),
	}
}

// mergeTableLocked installs or replaces one record and maintains the secondary
// indexes. Caller must hold the write lock.
func (c *Cache) mergeTableLocked(rec *TableRecord) {
	schema := strings.ToUpper(rec.Schema)
	name := strings.ToUpper(rec.Name)
	key := tableKey(schema, name)

	if old, ok := c.tables[key]; ok {
		c.unindexLocked(key, old)
	}
	c.tables[key] = rec
	delete(c.stale, key)

	if schema == c.schema {
		i := sort.SearchStrings(c.sortedNames, name)
		if i == len(c.sortedNames) || c.sortedNames[i] != name {
			c.sortedNames = append(c.sortedNames, "")
			copy(c.sortedNames[i+1:], c.sortedNames[i:])
			c.sortedNames[i] = name
		}
	}

	for _, col := range rec.Columns {
		cu := strings.ToUpper(col.Name)
		set, ok := c.byColumn[cu]
		if !ok {
			set = map[string]struct{}{}
			c.byColumn[cu] = set
		}
		set[key] = struct{}{}
	}

	for _, fk := range rec.ForeignKeys {
		targetKey := tableKey(strings.ToUpper(fk.TargetSchema), strings.ToUpper(fk.TargetTable))
		via := ""
		if len(fk.LocalColumns) > 0 {
			via = fk.LocalColumns[0]
		}
		c.fkIncoming[targetKey] = appendRefOnce(c.fkIncoming[targetKey],
			RelatedRef{Schema: rec.Schema, Name: rec.Name, Via: via})
	}
}

// unindexLocked removes a record's entries from the secondary indexes.
func (c *Cache) unindexLocked(key string, old *TableRecord) {
	for _, col := range old.Columns {
		cu := strings.ToUpper(col.Name)
		if set, ok := c.byColumn[cu]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.byColumn, cu)
			}
		}
	}
	for _, fk := range old.ForeignKeys {
		targetKey := tableKey(strings.ToUpper(fk.TargetSchema), strings.ToUpper(fk.TargetTable))
		refs := c.fkIncoming[targetKey]
		for i := range refs {
			if strings.EqualFold(refs[i].Schema, old.Schema) && strings.EqualFold(refs[i].Name, old.Name) {
				c.fkIncoming[targetKey] = append(refs[:i], refs[i+1:]...)
				break
			}
		}
	}
}

// removeTableLocked drops a record that vanished from the catalog.
func (c *Cache) removeTableLocked(schema, name string) {
	key := tableKey(schema, name)
	old, ok := c.tables[key]
	if !ok {
		return
	}
	c.unindexLocked(key, old)
	delete(c.tables, key)
	delete(c.stale, key)
	if schema == c.schema {
		i := sort.SearchStrings(c.sortedNames, name)
		if i < len(c.sortedNames) && c.sortedNames[i] == name {
			c.sortedNames = append(c.sortedNames[:i], c.sortedNames[i+1:]...)
		}
	}
}

func appendRefOnce(refs []RelatedRef, ref RelatedRef) []RelatedRef {
	for _, r := range refs {
		if strings.EqualFold(r.Schema, ref.Schema) && strings.EqualFold(r.Name, ref.Name) {
			return refs
		}
	}
	return append(refs, ref)
}

// beginLoad claims the in-flight slot for a table key, or waits for the
// holder and reports wait=true with a nil done func.
func (c *Cache) beginLoad(ctx context.Context, key string) (done func(), wait bool, err error) {
	c.inflightMu.Lock()
	if ch, ok := c.inflight[key]; ok {
		c.inflightMu.Unlock()
		select {
		case <-ch:
			return nil, true, nil
		case <-ctx.Done():
			return nil, true, connector.Wrap(connector.CodeTimeout, ctx.Err(), "waiting for concurrent load")
		}
	}
	ch := make(chan struct{})
	c.inflight[key] = ch
	c.inflightMu.Unlock()
	return func() {
		c.inflightMu.Lock()
		delete(c.inflight, key)
		c.inflightMu.Unlock()
		close(ch)
	}, false, nil
}
