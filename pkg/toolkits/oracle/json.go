package oracle

import (
	"github.com/zhengwanbo/oracle-mcp-server/pkg/schema"
)

// Wire shapes for the tool responses. Field order is fixed by the struct
// definitions so serialized answers stay deterministic.

// columnJSON is one column of tableJSON. Default and Comment serialize as
// explicit nulls when absent.
type columnJSON struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Position int     `json:"position"`
	Default  *string `json:"default"`
	Comment  *string `json:"comment"`
}

// fkRefJSON is the referenced side of a foreign key.
type fkRefJSON struct {
	Schema  string   `json:"schema"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

// foreignKeyJSON is one outgoing foreign key.
type foreignKeyJSON struct {
	Name     string    `json:"name"`
	Columns  []string  `json:"columns"`
	Ref      fkRefJSON `json:"ref"`
	OnDelete string    `json:"on_delete"`
	External bool      `json:"external,omitempty"`
}

// indexJSON is one index; columns are (name, direction) pairs.
type indexJSON struct {
	Name    string     `json:"name"`
	Unique  bool       `json:"unique"`
	Columns [][]string `json:"columns"`
}

// tableJSON is the stable TableRecord wire shape.
type tableJSON struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	Kind        string           `json:"kind"`
	Columns     []columnJSON     `json:"columns"`
	PrimaryKey  []string         `json:"primary_key,omitempty"`
	ForeignKeys []foreignKeyJSON `json:"foreign_keys,omitempty"`
	Indexes     []indexJSON      `json:"indexes,omitempty"`
	Comment     *string          `json:"comment"`
}

// constraintsJSON is the full constraint view of one table.
type constraintsJSON struct {
	Schema      string           `json:"schema"`
	Name        string           `json:"name"`
	PrimaryKey  []string         `json:"primary_key,omitempty"`
	UniqueKeys  [][]string       `json:"unique_keys,omitempty"`
	ForeignKeys []foreignKeyJSON `json:"foreign_keys,omitempty"`
	Checks      []checkJSON      `json:"check_constraints,omitempty"`
}

// checkJSON is one check constraint.
type checkJSON struct {
	Name      string `json:"name"`
	Condition string `json:"condition"`
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func tableToJSON(rec *schema.TableRecord) tableJSON {
	out := tableJSON{
		Schema:     rec.Schema,
		Name:       rec.Name,
		Kind:       string(rec.Kind),
		Columns:    make([]columnJSON, 0, len(rec.Columns)),
		PrimaryKey: rec.PrimaryKey,
		Comment:    optString(rec.Comment),
	}
	for _, col := range rec.Columns {
		out.Columns = append(out.Columns, columnJSON{
			Name:     col.Name,
			Type:     col.DataType,
			Nullable: col.Nullable,
			Position: col.Position,
			Default:  optString(col.DefaultExpr),
			Comment:  optString(col.Comment),
		})
	}
	out.ForeignKeys = foreignKeysToJSON(rec.ForeignKeys)
	for _, idx := range rec.Indexes {
		out.Indexes = append(out.Indexes, indexToJSON(idx))
	}
	return out
}

func foreignKeysToJSON(fks []schema.ForeignKeyRecord) []foreignKeyJSON {
	out := make([]foreignKeyJSON, 0, len(fks))
	for _, fk := range fks {
		out = append(out, foreignKeyJSON{
			Name:    fk.Name,
			Columns: fk.LocalColumns,
			Ref: fkRefJSON{
				Schema:  fk.TargetSchema,
				Table:   fk.TargetTable,
				Columns: fk.TargetColumns,
			},
			OnDelete: fk.OnDelete,
			External: fk.External,
		})
	}
	return out
}

func indexToJSON(idx schema.IndexRecord) indexJSON {
	out := indexJSON{Name: idx.Name, Unique: idx.Unique}
	for _, col := range idx.Columns {
		out.Columns = append(out.Columns, []string{col.Name, col.Descend})
	}
	return out
}

func constraintsToJSON(rec *schema.TableRecord) constraintsJSON {
	out := constraintsJSON{
		Schema:      rec.Schema,
		Name:        rec.Name,
		PrimaryKey:  rec.PrimaryKey,
		UniqueKeys:  rec.UniqueKeys,
		ForeignKeys: foreignKeysToJSON(rec.ForeignKeys),
	}
	for _, ck := range rec.CheckConstraints {
		out.Checks = append(out.Checks, checkJSON{Name: ck.Name, Condition: ck.Condition})
	}
	return out
}
