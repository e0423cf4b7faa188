package connector

import (
	"strings"
)

// StatementKind partitions SQL statements into the four families the tool
// surface exposes. The gate checks the first keyword of a statement against
// the kind the calling tool declared; it is the only safety net separating
// read tools from write tools.
type StatementKind string

const (
	KindSelect StatementKind = "SELECT"
	KindDDL    StatementKind = "DDL"
	KindDML    StatementKind = "DML"
	KindPLSQL  StatementKind = "PLSQL"
)

var kindKeywords = map[StatementKind][]string{
	KindSelect: {"SELECT", "WITH"},
	KindDDL:    {"CREATE", "ALTER", "DROP", "RENAME", "COMMENT", "GRANT", "REVOKE"},
	KindDML:    {"INSERT", "UPDATE", "DELETE", "MERGE", "TRUNCATE"},
	// Anonymous blocks may contain DDL; the gate only inspects the leading
	// keyword.
	KindPLSQL: {"BEGIN", "DECLARE", "CALL"},
}

// LeadingKeyword returns the first SQL keyword of stmt, upper-cased, after
// skipping whitespace, line comments and block comments. Empty string when
// the statement contains no keyword.
func LeadingKeyword(stmt string) string {
	s := stmt
	for {
		s = strings.TrimLeft(s, " \t\r\n;")
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+2:]
		default:
			end := 0
			for end < len(s) {
				c := s[end]
				if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
					break
				}
				end++
			}
			return strings.ToUpper(s[:end])
		}
	}
}

// Classify returns the statement kind for stmt based on its leading keyword.
func Classify(stmt string) (StatementKind, bool) {
	kw := LeadingKeyword(stmt)
	if kw == "" {
		return "", false
	}
	for kind, keywords := range kindKeywords {
		for _, k := range keywords {
			if kw == k {
				return kind, true
			}
		}
	}
	return "", false
}

// CheckKind enforces the statement-kind gate. It never touches the driver:
// a mismatch is decided on the statement text alone.
func CheckKind(stmt string, kind StatementKind) error {
	kw := LeadingKeyword(stmt)
	if kw == "" {
		return Errorf(CodeInvalidArgument, "empty statement")
	}
	for _, k := range kindKeywords[kind] {
		if kw == k {
			return nil
		}
	}
	return Errorf(CodeDisallowedStatement, "statement %q is not allowed for %s tools", kw, kind)
}
