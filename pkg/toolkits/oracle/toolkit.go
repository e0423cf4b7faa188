// Package oracle provides the schema-context toolkit: the MCP tool
// surface over the schema cache and the pooled Oracle connector.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
	"github.com/zhengwanbo/oracle-mcp-server/pkg/schema"
)

const (
	toolkitKind = "oracle"

	// DefaultToolDeadline bounds every tool call.
	DefaultToolDeadline = 30 * time.Second

	// sourceCap is the hard limit on get_object_source payloads.
	sourceCap = 1 << 20
)

// Config tunes the toolkit.
type Config struct {
	ToolDeadline time.Duration
}

// Toolkit exposes the Oracle schema-context tools. Each tool is a pure
// function over (arguments, cache, connector) with a bounded response.
type Toolkit struct {
	name     string
	cache    *schema.Cache
	conn     *connector.Connector
	deadline time.Duration
}

// New creates the toolkit over an initialized cache and connector.
func New(name string, cache *schema.Cache, conn *connector.Connector, cfg Config) *Toolkit {
	deadline := cfg.ToolDeadline
	if deadline <= 0 {
		deadline = DefaultToolDeadline
	}
	return &Toolkit{name: name, cache: cache, conn: conn, deadline: deadline}
}

// Kind returns the toolkit kind.
func (*Toolkit) Kind() string { return toolkitKind }

// Name returns the toolkit instance name.
func (t *Toolkit) Name() string { return t.name }

// Close is a no-op; the connector's lifetime belongs to the platform.
func (*Toolkit) Close() error { return nil }

// toolDef binds one advertised tool to its registration. RegisterTools
// iterates this table; nothing is registered by reflection or name
// mangling.
type toolDef struct {
	tool     *mcp.Tool
	register func(s *mcp.Server, tool *mcp.Tool)
}

func (t *Toolkit) toolTable() []toolDef {
	return []toolDef{
		{&mcp.Tool{
			Name:        "get_table_schema",
			Description: "Get columns, keys, and relationships of one table, view, or materialized view. Case-insensitive; accepts schema.name.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleGetTableSchema) }},
		{&mcp.Tool{
			Name:        "get_tables_schema",
			Description: "Get schemas for several tables in one call. Missing tables report not_found in their slot.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleGetTablesSchema) }},
		{&mcp.Tool{
			Name:        "search_tables_schema",
			Description: "Find tables by name pattern (% wildcards, or plain substring). Exact matches rank first, then prefix, then substring.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleSearchTables) }},
		{&mcp.Tool{
			Name:        "search_columns",
			Description: "Find tables containing a column whose name matches the fragment.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleSearchColumns) }},
		{&mcp.Tool{
			Name:        "get_database_vendor_info",
			Description: "Report the Oracle product, version, connected schema, and driver linkage mode.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleVendorInfo) }},
		{&mcp.Tool{
			Name:        "get_pl_sql_objects",
			Description: "List PL/SQL objects (procedures, functions, packages, triggers, types, sequences) matching a name pattern.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handlePLSQLObjects) }},
		{&mcp.Tool{
			Name:        "get_object_source",
			Description: "Fetch the stored source of a PL/SQL object, capped at 1 MiB with a truncation flag.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleObjectSource) }},
		{&mcp.Tool{
			Name:        "get_table_constraints",
			Description: "List primary key, unique, foreign key, and check constraints of a table.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleConstraints) }},
		{&mcp.Tool{
			Name:        "get_table_indexes",
			Description: "List the indexes of a table with column order and uniqueness.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleIndexes) }},
		{&mcp.Tool{
			Name:        "get_dependent_objects",
			Description: "List objects that reference the named object, for impact analysis before changes.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleDependents) }},
		{&mcp.Tool{
			Name:        "get_user_defined_types",
			Description: "List user-defined types (objects, collections, VARRAYs) with their attributes.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleUserTypes) }},
		{&mcp.Tool{
			Name:        "get_related_tables",
			Description: "Walk the foreign-key graph one hop in both directions from a table.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleRelatedTables) }},
		{&mcp.Tool{
			Name:        "rebuild_schema_cache",
			Description: "Force a full rebuild of the schema cache. Expensive on large schemas; readers keep the prior snapshot until commit.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleRebuild) }},
		{&mcp.Tool{
			Name:        "cache_stats",
			Description: "Report schema cache hit/miss counters and entity counts.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleCacheStats) }},
		{&mcp.Tool{
			Name:        "read_query",
			Description: "Execute a SELECT statement and return rows. Non-SELECT statements are rejected before reaching the database.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleReadQuery) }},
		{&mcp.Tool{
			Name:        "exec_ddl_sql",
			Description: "Execute a CREATE/ALTER/DROP statement. Affected cache entries are invalidated on success.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleExecDDL) }},
		{&mcp.Tool{
			Name:        "exec_dml_sql",
			Description: "Execute an INSERT/UPDATE/DELETE/MERGE/TRUNCATE statement and return the affected row count.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleExecDML) }},
		{&mcp.Tool{
			Name:        "exec_pro_sql",
			Description: "Execute an anonymous PL/SQL block (BEGIN/DECLARE/CALL).",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleExecPLSQL) }},
		{&mcp.Tool{
			Name:        "explain_query_plan",
			Description: "Produce the execution plan for a SELECT statement plus heuristic tuning suggestions.",
		}, func(s *mcp.Server, tool *mcp.Tool) { mcp.AddTool(s, tool, t.handleExplain) }},
	}
}

// RegisterTools advertises the tool table on the MCP server.
func (t *Toolkit) RegisterTools(s *mcp.Server) {
	for _, def := range t.toolTable() {
		def.register(s, def.tool)
	}
}

// Tools lists the advertised tool names.
func (t *Toolkit) Tools() []string {
	defs := t.toolTable()
	out := make([]string, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.tool.Name)
	}
	return out
}

// withDeadline applies the per-call deadline.
func (t *Toolkit) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.deadline)
}

// jsonResult marshals v into a text content result.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(connector.Wrap(connector.CodeInternal, err, "marshaling response")), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}

// errorEnvelope is the structured error payload carried inside a tool
// result. The MCP transport still sees success; IsError marks the tool
// outcome.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	OraCode int    `json:"ora_code,omitempty"`
}

// errorResult wraps a tagged error into the tool error envelope.
func errorResult(err error) *mcp.CallToolResult {
	env := errorEnvelope{Error: string(connector.CodeOf(err)), Message: err.Error()}
	var ce *connector.Error
	if errors.As(err, &ce) {
		env.OraCode = ce.OraCode
	}
	data, merr := json.Marshal(env)
	if merr != nil {
		data = []byte(fmt.Sprintf(`{"error": %q}`, connector.CodeInternal))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

// notFoundResult reports a missing object as a structured lookup result
// rather than a tool error.
func notFoundResult() (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: `{"error": "not_found"}`}},
	}, nil, nil
}

// Verify the registry contract.
var _ interface {
	Kind() string
	Name() string
	RegisterTools(s *mcp.Server)
	Tools() []string
	Close() error
} = (*Toolkit)(nil)
