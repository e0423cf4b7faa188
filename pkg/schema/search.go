package schema

import (
	"context"
	"sort"
	"strings"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
)

const (
	// DefaultSearchLimit applies when a caller passes no limit.
	DefaultSearchLimit = 50
	// MaxSearchLimit is the hard cap on any list-returning answer.
	MaxSearchLimit = 500
)

// clampLimit validates and bounds a caller-supplied limit.
func clampLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		return DefaultSearchLimit, nil
	case limit < 0:
		return 0, connector.Errorf(connector.CodeInvalidArgument, "limit must be positive")
	case limit > MaxSearchLimit:
		return MaxSearchLimit, nil
	default:
		return limit, nil
	}
}

// matchTier ranks how a candidate name matches a pattern: exact first,
// then prefix, then substring.
type matchTier int

const (
	tierExact matchTier = iota
	tierPrefix
	tierSubstring
	tierNone
)

// pattern is a parsed glob. Only the three % forms of the spec are
// recognized; anything without % is a plain case-insensitive substring.
type pattern struct {
	raw      string // upper-cased, % stripped
	anchored struct {
		prefix bool // PRE%
		suffix bool // %SUF
	}
}

func parsePattern(raw string) (pattern, error) {
	p := pattern{}
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return p, connector.Errorf(connector.CodeInvalidArgument, "empty search pattern")
	}
	hasLeading := strings.HasPrefix(s, "%")
	hasTrailing := strings.HasSuffix(s, "%")
	core := strings.Trim(s, "%")
	if strings.Contains(core, "%") {
		return p, connector.Errorf(connector.CodeInvalidArgument, "pattern may only use leading/trailing %% wildcards")
	}
	if core == "" {
		return p, connector.Errorf(connector.CodeInvalidArgument, "pattern matches everything")
	}
	p.raw = core
	switch {
	case hasLeading && hasTrailing: // %FRAG%
	case hasTrailing: // PRE%
		p.anchored.prefix = true
	case hasLeading: // %SUF
		p.anchored.suffix = true
	default:
		// No wildcard: substring semantics, with exact/prefix ranked first.
	}
	return p, nil
}

// tier classifies name against the pattern.
func (p pattern) tier(name string) matchTier {
	switch {
	case p.anchored.prefix:
		if name == p.raw {
			return tierExact
		}
		if strings.HasPrefix(name, p.raw) {
			return tierPrefix
		}
		return tierNone
	case p.anchored.suffix:
		if name == p.raw {
			return tierExact
		}
		if strings.HasSuffix(name, p.raw) {
			return tierSubstring
		}
		return tierNone
	default:
		if name == p.raw {
			return tierExact
		}
		if strings.HasPrefix(name, p.raw) {
			return tierPrefix
		}
		if strings.Contains(name, p.raw) {
			return tierSubstring
		}
		return tierNone
	}
}

// SearchTables matches table names against a glob pattern. Ordering:
// exact, prefix, substring, each tier lexicographic. Matched records are
// fully loaded before return.
func (c *Cache) SearchTables(ctx context.Context, rawPattern string, limit int) ([]*TableRecord, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	p, err := parsePattern(rawPattern)
	if err != nil {
		return nil, err
	}

	names := c.matchNames(p, limit)

	out := make([]*TableRecord, 0, len(names))
	for _, n := range names {
		rec, err := c.GetTable(ctx, n)
		if err != nil {
			if connector.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// matchNames walks the sorted name array tier by tier. The array is
// already lexicographic, so each tier emits in final order and the scan
// stops as soon as the limit fills. Prefix tiers use binary search on the
// sorted array instead of a scan.
func (c *Cache) matchNames(p pattern, limit int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, limit)
	out := make([]string, 0, limit)
	emit := func(name string) bool {
		if _, dup := seen[name]; dup {
			return len(out) < limit
		}
		seen[name] = struct{}{}
		out = append(out, name)
		return len(out) < limit
	}

	// Tier 1: exact.
	if i := sort.SearchStrings(c.sortedNames, p.raw); i < len(c.sortedNames) && c.sortedNames[i] == p.raw {
		if !emit(p.raw) {
			return out
		}
	}
	if p.anchored.suffix {
		for _, n := range c.sortedNames {
			if p.tier(n) == tierSubstring && !emit(n) {
				return out
			}
		}
		return out
	}

	// Tier 2: prefix range via binary search.
	lo := sort.SearchStrings(c.sortedNames, p.raw)
	for i := lo; i < len(c.sortedNames) && strings.HasPrefix(c.sortedNames[i], p.raw); i++ {
		if !emit(c.sortedNames[i]) {
			return out
		}
	}
	if p.anchored.prefix {
		return out
	}

	// Tier 3: substring scan, bounded by the limit.
	for _, n := range c.sortedNames {
		if strings.Contains(n, p.raw) && !strings.HasPrefix(n, p.raw) {
			if !emit(n) {
				return out
			}
		}
	}
	return out
}

// SearchColumns finds columns whose name matches the fragment, with the
// same tier rules as table search. Within each tier, hits order by table
// name. Entirely in-memory; the context mirrors the other lookups.
func (c *Cache) SearchColumns(_ context.Context, fragment string, limit int) ([]ColumnHit, error) {
	limit, err := clampLimit(limit)
	if err != nil {
		return nil, err
	}
	p, err := parsePattern(fragment)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	colNames := make([]string, 0, len(c.byColumn))
	for name := range c.byColumn {
		colNames = append(colNames, name)
	}
	c.mu.RUnlock()
	sort.Strings(colNames)

	var hits []ColumnHit
	for tier := tierExact; tier <= tierSubstring; tier++ {
		var tierHits []ColumnHit
		for _, colName := range colNames {
			if p.tier(colName) == tier {
				tierHits = append(tierHits, c.columnHits(colName)...)
			}
		}
		sort.SliceStable(tierHits, func(i, j int) bool {
			if tierHits[i].Schema != tierHits[j].Schema {
				return tierHits[i].Schema < tierHits[j].Schema
			}
			return tierHits[i].Table < tierHits[j].Table
		})
		hits = append(hits, tierHits...)
		if len(hits) >= limit {
			return hits[:limit], nil
		}
	}
	return hits, nil
}

// columnHits expands one indexed column name to its (table, type) pairs,
// sorted by table.
func (c *Cache) columnHits(colName string) []ColumnHit {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.byColumn[colName]))
	for key := range c.byColumn[colName] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]ColumnHit, 0, len(keys))
	for _, key := range keys {
		rec, ok := c.tables[key]
		if !ok {
			continue
		}
		col, ok := rec.Column(colName)
		if !ok {
			continue
		}
		out = append(out, ColumnHit{
			Schema:   rec.Schema,
			Table:    rec.Name,
			Column:   col.Name,
			DataType: col.DataType,
		})
	}
	return out
}
