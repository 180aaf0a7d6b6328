package toolcall

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/types"
)

// IdentityFunc resolves the caller identity for one tool call. The stdio
// server closes over a fixed identity; the HTTP transport reads the one the
// auth middleware attached to the request context.
type IdentityFunc func(ctx context.Context) (*types.Identity, error)

type registerFunc func(s *mcp.Server, coord *core.Coordinator, identify IdentityFunc)

// NewMCPServer builds an MCP server exposing the whole operation table as
// tools. Tool names equal operation names; inputs are the same structs the
// REST handlers decode.
func NewMCPServer(coord *core.Coordinator, version string, identify IdentityFunc) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "tascade", Version: version}, nil)
	for _, op := range Registry() {
		op.register(s, coord, identify)
	}
	return s
}

func registerTool[In any](op Operation, call opFunc[In]) registerFunc {
	return func(s *mcp.Server, coord *core.Coordinator, identify IdentityFunc) {
		tool := &mcp.Tool{
			Name:        op.Name,
			Description: op.Summary,
			// Inputs carry embedded JSON documents (work specs, plan
			// ops), so the tool declares a permissive object schema and
			// leaves shape errors to the kernel's own validation.
			InputSchema: &jsonschema.Schema{Type: "object"},
		}
		if op.ReadOnly {
			tool.Annotations = &mcp.ToolAnnotations{ReadOnlyHint: true}
		}
		mcp.AddTool(s, tool, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
			id, err := identify(ctx)
			if err != nil {
				return toolError(err), nil, nil
			}
			if err := Authorize(id, &op); err != nil {
				return toolError(err), nil, nil
			}
			out, err := call(ctx, coord, id, &in)
			if err != nil {
				if _, ok := types.AsError(err); ok {
					return toolError(err), nil, nil
				}
				return nil, nil, err
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return nil, nil, fmt.Errorf("failed to encode tool result: %w", err)
			}
			return textResult(string(data)), nil, nil
		})
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// toolError renders a domain error in the same envelope the REST surface
// uses, flagged as a tool error so the model can react to it.
func toolError(err error) *mcp.CallToolResult {
	de, ok := types.AsError(err)
	if !ok {
		de = types.NewError(types.ErrInvariantViolation, "%s", err.Error())
	}
	body, _ := json.Marshal(map[string]*types.Error{"error": de})
	res := textResult(string(body))
	res.IsError = true
	return res
}
