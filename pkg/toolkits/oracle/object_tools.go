package oracle

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/zhengwanbo/oracle-mcp-server/pkg/connector"
	"github.com/zhengwanbo/oracle-mcp-server/pkg/schema"
)

type plsqlObjectsInput struct {
	NamePattern string   `json:"name_pattern,omitempty"`
	Kinds       []string `json:"kinds,omitempty"`
}

func (t *Toolkit) handlePLSQLObjects(ctx context.Context, _ *mcp.CallToolRequest, in plsqlObjectsInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	objs, err := t.cache.GetPLSQLObjects(ctx, in.NamePattern, in.Kinds)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if objs == nil {
		objs = []schema.PLSQLObject{}
	}
	return jsonResult(objs)
}

type objectSourceInput struct {
	Name   string `json:"name"`
	Kind   string `json:"kind,omitempty"`
	Schema string `json:"schema,omitempty"`
}

type objectSourceOutput struct {
	Source    string `json:"source"`
	Truncated bool   `json:"truncated"`
}

func (t *Toolkit) handleObjectSource(ctx context.Context, _ *mcp.CallToolRequest, in objectSourceInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	if in.Name == "" {
		return errorResult(connector.Errorf(connector.CodeInvalidArgument, "object name is empty")), nil, nil
	}
	src, err := t.cache.GetObjectSource(ctx, in.Schema, in.Name, in.Kind)
	if err != nil {
		if connector.IsNotFound(err) {
			return notFoundResult()
		}
		return errorResult(err), nil, nil
	}

	out := objectSourceOutput{Source: src}
	if len(src) > sourceCap {
		out.Source = src[:sourceCap]
		out.Truncated = true
	}
	return jsonResult(out)
}

type dependentsInput struct {
	Name   string `json:"name"`
	Kind   string `json:"kind,omitempty"`
	Schema string `json:"schema,omitempty"`
}

func (t *Toolkit) handleDependents(ctx context.Context, _ *mcp.CallToolRequest, in dependentsInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	if in.Name == "" {
		return errorResult(connector.Errorf(connector.CodeInvalidArgument, "object name is empty")), nil, nil
	}
	refs, err := t.cache.GetDependents(ctx, in.Schema, in.Name, in.Kind)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if refs == nil {
		refs = []schema.ObjectRef{}
	}
	return jsonResult(refs)
}

type userTypesInput struct {
	Pattern string `json:"pattern,omitempty"`
}

func (t *Toolkit) handleUserTypes(ctx context.Context, _ *mcp.CallToolRequest, in userTypesInput) (*mcp.CallToolResult, any, error) {
	ctx, cancel := t.withDeadline(ctx)
	defer cancel()

	types, err := t.cache.GetUserDefinedTypes(ctx, in.Pattern)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if types == nil {
		types = []schema.UserDefinedType{}
	}
	return jsonResult(types)
}
