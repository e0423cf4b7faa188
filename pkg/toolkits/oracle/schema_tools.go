package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
	"github.com/zhengwanbo/oracle-mcp-server/pkg/schema"
)

type tableNameInput struct {
	Name string `json:"name"`
}

type tableNamesInput struct {
	Names []string `json:"names"`
}

type searchInput struct {
	Pattern string `json:"pattern"`
	Limit   int    `json:"limit,omitempty"`
}

type columnSearchInput struct {
	Fragment string `json:"fragment"`
	Limit    int    `json:"limit,omitempty"`
}

func (t *Toolkit) handleGetTableSchema(ctx context.Context, _ *mcp.CallToolRequest, in tableNameInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	rec, err := t.cache.GetTable(ctx, in.Name)
	if err != nil {
		if connector.IsNotFound(err) {
			return notFoundResult()
		}
		return errorResult(err), nil, nil
	}
	return jsonResult(tableToJSON(rec))
}

func (t *Toolkit) handleGetTablesSchema(ctx context.Context, _ *mcp.CallToolRequest, in tableNamesInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	if len(in.Names) == 0 {
		return errorResult(connector.Errorf(connector.CodeInvalidArgument, "names is empty")), nil, nil
	}

	// The response is a JSON object keyed by the requested names, built
	// by hand so input order survives serialization.
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, res := range t.cache.GetTables(ctx, in.Names) {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(res.Name)
		buf.Write(key)
		buf.WriteByte(':')

		var value any
		switch {
		case res.Err != nil:
			value = errorEnvelope{Error: string(connector.CodeOf(res.Err))}
			if !connector.IsNotFound(res.Err) {
				value = errorEnvelope{Error: string(connector.CodeOf(res.Err)), Message: res.Err.Error()}
			}
		default:
			value = tableToJSON(res.Record)
		}
		data, err := json.Marshal(value)
		if err != nil {
			return errorResult(connector.Wrap(connector.CodeInternal, err, "marshaling response")), nil, nil
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: buf.String()}},
	}, nil, nil
}

func (t *Toolkit) handleSearchTables(ctx context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	// Multiple comma- or whitespace-separated terms union their matches.
	terms := splitTerms(in.Pattern)
	if len(terms) == 0 {
		return errorResult(connector.Errorf(connector.CodeInvalidArgument, "empty search pattern")), nil, nil
	}

	seen := map[string]struct{}{}
	var records []*schema.TableRecord
	for _, term := range terms {
		recs, err := t.cache.SearchTables(ctx, term, in.Limit)
		if err != nil {
			return errorResult(err), nil, nil
		}
		for _, rec := range recs {
			key := strings.ToUpper(rec.Schema + "." + rec.Name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			records = append(records, rec)
		}
	}
	limit := in.Limit
	if limit <= 0 {
		limit = schema.DefaultSearchLimit
	}
	if limit > schema.MaxSearchLimit {
		limit = schema.MaxSearchLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}

	out := make([]tableJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, tableToJSON(rec))
	}
	return jsonResult(out)
}

func splitTerms(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func (t *Toolkit) handleSearchColumns(ctx context.Context, _ *mcp.CallToolRequest, in columnSearchInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	hits, err := t.cache.SearchColumns(ctx, in.Fragment, in.Limit)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if hits == nil {
		hits = []schema.ColumnHit{}
	}
	return jsonResult(hits)
}

type vendorInfoOutput struct {
	Product        string   `json:"product"`
	Version        string   `json:"version"`
	Schema         string   `json:"schema"`
	ConnectionMode string   `json:"connection_mode"`
	AdditionalInfo []string `json:"additional_info,omitempty"`
}

func (t *Toolkit) handleVendorInfo(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	info, err := t.conn.SessionInfo(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	out := vendorInfoOutput{
		Product:        info.Product,
		Version:        info.Version,
		Schema:         info.Schema,
		ConnectionMode: info.ConnectionMode,
	}
	if len(info.Banner) > 1 {
		out.AdditionalInfo = info.Banner[1:]
	}
	return jsonResult(out)
}

func (t *Toolkit) handleConstraints(ctx context.Context, _ *mcp.CallToolRequest, in tableNameInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	rec, err := t.cache.GetConstraints(ctx, in.Name)
	if err != nil {
		if connector.IsNotFound(err) {
			return notFoundResult()
		}
		return errorResult(err), nil, nil
	}
	return jsonResult(constraintsToJSON(rec))
}

func (t *Toolkit) handleIndexes(ctx context.Context, _ *mcp.CallToolRequest, in tableNameInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	idxs, err := t.cache.GetIndexes(ctx, in.Name)
	if err != nil {
		if connector.IsNotFound(err) {
			return notFoundResult()
		}
		return errorResult(err), nil, nil
	}
	out := make([]indexJSON, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, indexToJSON(idx))
	}
	return jsonResult(out)
}

func (t *Toolkit) handleRelatedTables(ctx context.Context, _ *mcp.CallToolRequest, in tableNameInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	related, err := t.cache.GetRelatedTables(ctx, in.Name)
	if err != nil {
		if connector.IsNotFound(err) {
			return notFoundResult()
		}
		return errorResult(err), nil, nil
	}
	return jsonResult(related)
}

type rebuildOutput struct {
	Built       bool   `json:"built"`
	DurationMS  int64  `json:"duration_ms"`
	Tables      int    `json:"tables"`
	Fingerprint string `json:"fingerprint"`
}

func (t *Toolkit) handleRebuild(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	// Rebuilds do not take the per-tool deadline; they run under the
	// caller's context only, with no timeout of their own.
	stats, err := t.cache.Rebuild(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(rebuildOutput{
		Built:       stats.Built,
		DurationMS:  stats.Duration.Milliseconds(),
		Tables:      stats.Tables,
		Fingerprint: stats.Fingerprint,
	})
}

func (t *Toolkit) handleCacheStats(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	_ = ctx
	return jsonResult(t.cache.Stats())
}
