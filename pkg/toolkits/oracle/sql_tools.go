package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
)

type sqlInput struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

type blockInput struct {
	Block string `json:"block"`
}

type queryOutput struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

func (t *Toolkit) handleReadQuery(ctx context.Context, _ *mcp.CallToolRequest, in sqlInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	res, err := t.conn.Execute(ctx, in.SQL, connector.KindSelect, in.Params...)
	if err != nil {
		return errorResult(err), nil, nil
	}
	rows := res.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return jsonResult(queryOutput{
		Columns:  res.Columns,
		Rows:     rows,
		RowCount: len(rows),
	})
}

type okOutput struct {
	OK bool `json:"ok"`
}

func (t *Toolkit) handleExecDDL(ctx context.Context, _ *mcp.CallToolRequest, in sqlInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	_, err := t.conn.Execute(ctx, in.SQL, connector.KindDDL)
	if err != nil {
		return errorResult(err), nil, nil
	}
	// A successful DDL statement makes the touched object stale. Parse
	// ambiguity invalidates conservatively.
	t.cache.Invalidate(parseDDLTarget(in.SQL, t.cache.Schema()))
	return jsonResult(okOutput{OK: true})
}

type affectedOutput struct {
	Affected int64 `json:"affected"`
}

func (t *Toolkit) handleExecDML(ctx context.Context, _ *mcp.CallToolRequest, in sqlInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	res, err := t.conn.Execute(ctx, in.SQL, connector.KindDML, in.Params...)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(affectedOutput{Affected: res.Affected})
}

func (t *Toolkit) handleExecPLSQL(ctx context.Context, _ *mcp.CallToolRequest, in blockInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	_, err := t.conn.Execute(ctx, in.Block, connector.KindPLSQL)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(okOutput{OK: true})
}

type explainOutput struct {
	ExecutionPlan []string `json:"execution_plan"`
	Suggestions   []string `json:"optimization_suggestions"`
}

const planQuery = `SELECT LPAD(' ', 2*LEVEL-2) || operation || ' ' ||
       options || ' ' || object_name ||
       CASE WHEN cost IS NOT NULL THEN ' (Cost: ' || cost || ')' ELSE '' END ||
       CASE WHEN cardinality IS NOT NULL THEN ' (Rows: ' || cardinality || ')' ELSE '' END
FROM plan_table
START WITH id = 0
CONNECT BY PRIOR id = parent_id
ORDER SIBLINGS BY position`

func (t *Toolkit) handleExplain(ctx context.Context, _ *mcp.CallToolRequest, in sqlInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	// Only SELECT statements are explained; the gate runs before the
	// EXPLAIN wrapper is built.
	if err := connector.CheckKind(in.SQL, connector.KindSelect); err != nil {
		return errorResult(err), nil, nil
	}

	if _, err := t.conn.FetchAll(ctx, "EXPLAIN PLAN FOR "+in.SQL); err != nil {
		return errorResult(err), nil, nil
	}
	plan, err := t.conn.FetchAll(ctx, planQuery)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if _, err := t.conn.Execute(ctx, "DELETE FROM plan_table", connector.KindDML); err != nil {
		return errorResult(err), nil, nil
	}

	out := explainOutput{Suggestions: analyzeQuery(in.SQL)}
	for _, row := range plan.Rows {
		if len(row) == 1 {
			if s, ok := row[0].(string); ok {
				out.ExecutionPlan = append(out.ExecutionPlan, s)
			}
		}
	}
	return jsonResult(out)
}

// analyzeQuery applies simple heuristics for common inefficient patterns.
func analyzeQuery(query string) []string {
	q := strings.ToUpper(query)
	var suggestions []string

	if strings.Contains(q, "SELECT *") {
		suggestions = append(suggestions, "Consider selecting only needed columns instead of SELECT *")
	}
	if strings.Contains(q, " LIKE '%") {
		suggestions = append(suggestions, "Leading wildcards in LIKE predicates prevent index usage")
	}
	if strings.Contains(q, " IN (SELECT ") && !strings.Contains(q, " EXISTS") {
		suggestions = append(suggestions, "Consider using EXISTS instead of IN with subqueries")
	}
	if strings.Contains(q, " OR ") {
		suggestions = append(suggestions, "OR conditions may prevent index usage; consider UNION ALL of separated queries")
	}

	joinCount := strings.Count(q, " JOIN ")
	if joinCount > 2 && !strings.Contains(q, "/*+ LEADING") {
		suggestions = append(suggestions, "Multi-table joins may benefit from a LEADING hint to control join order")
	}
	tableCount := joinCount + 1
	if tableCount > 4 {
		suggestions = append(suggestions,
			fmt.Sprintf("Query joins %d tables; review join order and conditions", tableCount))
	}
	return suggestions
}
