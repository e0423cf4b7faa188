// Package schema owns the persistent, versioned index of the target
// schema's catalog: tables, PL/SQL objects, user-defined types, and the
// dependency graph, plus the lookup structures that answer sub-second
// queries over tens of thousands of names.
package schema

import (
	"fmt"
	"strings"
	"time"
)

// RelationKind classifies a cached relation.
type RelationKind string

const (
	KindTable            RelationKind = "TABLE"
	KindView             RelationKind = "VIEW"
	KindMaterializedView RelationKind = "MATERIALIZED_VIEW"
)

// relationKindFromCatalog maps ALL_OBJECTS object_type to RelationKind.
func relationKindFromCatalog(s string) RelationKind {
	if s == "MATERIALIZED VIEW" {
		return KindMaterializedView
	}
	return RelationKind(s)
}

// ColumnRecord is one column of a TableRecord. Position is the 1-based
// ordinal in the owning record's column list; positions are dense.
type ColumnRecord struct {
	Name        string `json:"name"`
	DataType    string `json:"type"`
	Nullable    bool   `json:"nullable"`
	Position    int    `json:"position"`
	DefaultExpr string `json:"default,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// ForeignKeyRecord is one referential constraint. When the target lies
// outside the cached schema the edge is kept and flagged External rather
// than dropped.
type ForeignKeyRecord struct {
	Name          string   `json:"name"`
	LocalColumns  []string `json:"columns"`
	TargetSchema  string   `json:"-"`
	TargetTable   string   `json:"-"`
	TargetColumns []string `json:"-"`
	OnDelete      string   `json:"on_delete"` // NO_ACTION, CASCADE, SET_NULL
	Deferrable    bool     `json:"deferrable,omitempty"`
	Enabled       bool     `json:"-"`
	External      bool     `json:"external,omitempty"`
}

// CheckRecord is one check constraint.
type CheckRecord struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
}

// IndexColumn is one indexed column with its sort direction.
type IndexColumn struct {
	Name    string `json:"name"`
	Descend string `json:"direction"` // ASC or DESC
}

// IndexRecord is one index on a table.
type IndexRecord struct {
	Name    string        `json:"name"`
	Unique  bool          `json:"unique"`
	Columns []IndexColumn `json:"columns"`
	Type    string        `json:"index_type,omitempty"`
}

// TableRecord is the cached description of one relation. Name fields keep
// Oracle's stored identifier case; lookups normalize through UPPER.
type TableRecord struct {
	Schema           string             `json:"schema"`
	Name             string             `json:"name"`
	Kind             RelationKind       `json:"kind"`
	Columns          []ColumnRecord     `json:"columns"`
	PrimaryKey       []string           `json:"primary_key,omitempty"`
	UniqueKeys       [][]string         `json:"unique_keys,omitempty"`
	ForeignKeys      []ForeignKeyRecord `json:"foreign_keys,omitempty"`
	CheckConstraints []CheckRecord      `json:"check_constraints,omitempty"`
	Indexes          []IndexRecord      `json:"indexes,omitempty"`
	Comment          string             `json:"comment,omitempty"`
	LastDDL          time.Time          `json:"-"`

	// fullyLoaded is false while only the stage-one sweep (relation and
	// columns) has run for this record.
	fullyLoaded bool
}

// FullyLoaded reports whether constraints and indexes have been merged in.
func (t *TableRecord) FullyLoaded() bool { return t.fullyLoaded }

// Column returns the named column, case-insensitively.
func (t *TableRecord) Column(name string) (*ColumnRecord, bool) {
	u := strings.ToUpper(name)
	for i := range t.Columns {
		if strings.ToUpper(t.Columns[i].Name) == u {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PLSQLObject is one code or sequence object of the schema inventory.
type PLSQLObject struct {
	Schema          string    `json:"schema"`
	Name            string    `json:"name"`
	Kind            string    `json:"kind"` // PROCEDURE, FUNCTION, PACKAGE, ...
	Status          string    `json:"status"`
	LastDDL         time.Time `json:"-"`
	SourceAvailable bool      `json:"source_available"`
}

// ObjectRef identifies a catalog object.
type ObjectRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Kind   string `json:"kind,omitempty"`
}

func (r ObjectRef) String() string {
	if r.Kind != "" {
		return fmt.Sprintf("%s.%s (%s)", r.Schema, r.Name, r.Kind)
	}
	return r.Schema + "." + r.Name
}

// key returns the normalized graph key.
func (r ObjectRef) key() string {
	return strings.ToUpper(r.Schema) + "." + strings.ToUpper(r.Name)
}

// TypeAttribute is one attribute of a user-defined type.
type TypeAttribute struct {
	Name     string `json:"name"`
	DataType string `json:"type"`
	Position int    `json:"-"`
}

// UserDefinedType is one OBJECT/COLLECTION/VARRAY type.
type UserDefinedType struct {
	Schema     string          `json:"schema"`
	Name       string          `json:"name"`
	Typecode   string          `json:"typecode"`
	Attributes []TypeAttribute `json:"attributes,omitempty"`
}

// ColumnHit is one search_columns result row.
type ColumnHit struct {
	Schema   string `json:"schema"`
	Table    string `json:"table"`
	Column   string `json:"column"`
	DataType string `json:"data_type"`
}

// RelatedTables is the one-hop foreign-key neighborhood of a table.
type RelatedTables struct {
	Incoming []RelatedRef `json:"incoming"`
	Outgoing []RelatedRef `json:"outgoing"`
}

// RelatedRef is one foreign-key neighbor with the linking column.
type RelatedRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Via    string `json:"via,omitempty"`
}

// BuildStats summarizes a full build or reload.
type BuildStats struct {
	Built       bool          `json:"built"`
	Duration    time.Duration `json:"-"`
	Tables      int           `json:"tables"`
	PLSQL       int           `json:"plsql_objects"`
	Types       int           `json:"types"`
	Fingerprint string        `json:"fingerprint"`
}

// Stats are the cache's hit/miss counters.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Tables      int    `json:"tables"`
	PLSQL       int    `json:"plsql_objects"`
	Types       int    `json:"types"`
	LastRefresh int64  `json:"last_refresh_unix"`
}

// onDeleteRule maps ALL_CONSTRAINTS delete_rule to the stable wire form.
func onDeleteRule(s string) string {
	switch s {
	case "CASCADE":
		return "CASCADE"
	case "SET NULL":
		return "SET_NULL"
	default:
		return "NO_ACTION"
	}
}
