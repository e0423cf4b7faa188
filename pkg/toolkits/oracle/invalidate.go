package oracle

import (
	"strings"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/schema"
)

// ddlObjectKinds are the second-position keywords that introduce a named
// object in CREATE/ALTER/DROP statements.
var ddlObjectKinds = map[string]bool{
	"TABLE": true, "VIEW": true, "INDEX": true, "SEQUENCE": true,
	"TRIGGER": true, "PROCEDURE": true, "FUNCTION": true, "PACKAGE": true,
	"TYPE": true, "SYNONYM": true, "MATERIALIZED": true,
}

// parseDDLTarget derives the object a DDL statement touches, for
// object-granular cache invalidation. An unparseable statement yields a
// schema-wide ref (empty name), which Invalidate treats as "mark
// everything stale".
func parseDDLTarget(stmt, defaultSchema string) schema.ObjectRef {
	whole := schema.ObjectRef{Schema: defaultSchema}

	tokens := tokenizeDDL(stmt)
	if len(tokens) < 2 {
		return whole
	}

	verb := strings.ToUpper(tokens[0])
	switch verb {
	case "CREATE", "ALTER", "DROP", "COMMENT":
	default:
		return whole
	}

	i := 1
	if verb == "COMMENT" {
		// COMMENT ON TABLE X / COMMENT ON COLUMN X.Y
		for i < len(tokens) && !ddlObjectKinds[strings.ToUpper(tokens[i])] &&
			strings.ToUpper(tokens[i]) != "COLUMN" {
			i++
		}
		i++
	} else {
		// Skip modifiers: OR REPLACE, GLOBAL TEMPORARY, UNIQUE, FORCE...
		for i < len(tokens) && !ddlObjectKinds[strings.ToUpper(tokens[i])] {
			i++
		}
		if i >= len(tokens) {
			return whole
		}
		kind := strings.ToUpper(tokens[i])
		if kind == "INDEX" {
			// Index DDL changes a table we cannot name here; mark the
			// schema rather than a nonexistent object.
			return whole
		}
		whole.Kind = kind
		i++
		if kind == "MATERIALIZED" {
			// MATERIALIZED VIEW
			if i >= len(tokens) || strings.ToUpper(tokens[i]) != "VIEW" {
				return whole
			}
			whole.Kind = "MATERIALIZED VIEW"
			i++
		}
		// PACKAGE BODY / TYPE BODY
		if (kind == "PACKAGE" || kind == "TYPE") && i < len(tokens) && strings.ToUpper(tokens[i]) == "BODY" {
			whole.Kind = kind + " BODY"
			i++
		}
	}
	if i >= len(tokens) {
		return whole
	}

	name := strings.TrimRight(tokens[i], ";")
	// IF EXISTS / IF NOT EXISTS
	if strings.EqualFold(name, "IF") {
		for i < len(tokens) && !strings.EqualFold(strings.TrimRight(tokens[i], ";"), "EXISTS") {
			i++
		}
		i++
		if i >= len(tokens) {
			return whole
		}
		name = strings.TrimRight(tokens[i], ";")
	}
	if name == "" {
		return whole
	}

	ref := schema.ObjectRef{Schema: defaultSchema, Kind: whole.Kind}
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		ref.Schema = unquote(name[:dot])
		name = name[dot+1:]
		// COMMENT ON COLUMN S.T.C: the object is the table.
		if extra := strings.IndexByte(name, '.'); extra >= 0 {
			name = name[:extra]
		}
	}
	ref.Name = unquote(name)
	return ref
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return strings.ToUpper(s)
}

// tokenizeDDL splits the statement's leading clause into words, stripping
// "--" line comments and everything from the first parenthesis on. Block
// comments are not stripped.
func tokenizeDDL(stmt string) []string {
	if i := strings.IndexByte(stmt, '('); i >= 0 {
		stmt = stmt[:i]
	}
	var tokens []string
	for _, line := range strings.Split(stmt, "\n") {
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		tokens = append(tokens, strings.Fields(line)...)
		if len(tokens) > 8 {
			break
		}
	}
	return tokens
}
