package tool

import (
	"context"

	"github.com/answergrid/answergrid/engine/core"
	"github.com/answergrid/answergrid/engine/schema"
)

// LocalTool is a pure in-process function exposed to the model.
type LocalTool interface {
	Name() string
	Description() string
	ParamsSchema() *schema.Schema
	Call(ctx context.Context, args map[string]any) (string, error)
}

// validateArgs checks args against the tool's declared parameter schema.
// Tools without a schema accept anything.
func validateArgs(ctx context.Context, t LocalTool, args map[string]any) error {
	s := t.ParamsSchema()
	if s == nil {
		return nil
	}
	if _, err := s.Validate(ctx, args); err != nil {
		return core.NewError(err, "INVALID_TOOL_ARGS", map[string]any{
			"tool": t.Name(),
		})
	}
	return nil
}
