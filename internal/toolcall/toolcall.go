// Package toolcall defines every kernel operation once, in a flat table.
// The REST router and the MCP tool server are both generated from this
// table at startup, so the two surfaces cannot drift: same inputs, same
// outputs, same scope requirements, same error taxonomy.
package toolcall

import (
	"context"

	"github.com/tascade/tascade/internal/core"
	"github.com/tascade/tascade/internal/types"
)

// Operation is one kernel operation exposed on the surfaces. Name doubles
// as the MCP tool name; Method and Path place it on the REST router.
type Operation struct {
	Name     string
	Method   string
	Path     string
	Scope    types.RoleScope
	Summary  string
	ReadOnly bool

	// NewInput returns a pointer to a zero input struct for decoding.
	NewInput func() any

	// Call executes the operation. in is the pointer NewInput produced.
	Call func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in any) (any, error)

	register registerFunc
}

type opFunc[In any] func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in *In) (any, error)

// define binds a typed handler into the table entry. The generic wrapper is
// what lets the MCP layer infer an input schema while the REST layer keeps
// working with any.
func define[In any](op Operation, call opFunc[In]) Operation {
	op.NewInput = func() any { return new(In) }
	op.Call = func(ctx context.Context, coord *core.Coordinator, id *types.Identity, in any) (any, error) {
		return call(ctx, coord, id, in.(*In))
	}
	op.register = registerTool[In](op, call)
	return op
}

// Registry returns the full operation table in a stable order.
func Registry() []Operation {
	var ops []Operation
	ops = append(ops, planOps()...)
	ops = append(ops, execOps()...)
	ops = append(ops, reviewOps()...)
	ops = append(ops, adminOps()...)
	return ops
}

// Authorize checks the identity against the operation's required scope.
func Authorize(id *types.Identity, op *Operation) error {
	if id == nil {
		return types.NewError(types.ErrAuthDenied, "authentication required")
	}
	if !id.Allows(op.Scope) {
		return types.NewError(types.ErrAuthDenied,
			"operation %s requires the %s scope", op.Name, op.Scope)
	}
	return nil
}

// requireProject rejects project-bound identities touching another project.
func requireProject(id *types.Identity, projectID string) error {
	if id != nil && !id.CanAccessProject(projectID) {
		return types.NewError(types.ErrAuthDenied, "key is bound to a different project")
	}
	return nil
}

// guardProject resolves a project ref and checks the identity may touch it.
func guardProject(ctx context.Context, coord *core.Coordinator, id *types.Identity, ref string) (*types.Project, error) {
	p, err := coord.GetProject(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := requireProject(id, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// guardTask resolves a task ref and checks the identity may touch its
// project.
func guardTask(ctx context.Context, coord *core.Coordinator, id *types.Identity, ref string) (*types.Task, error) {
	task, err := coord.GetTask(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := requireProject(id, task.ProjectID); err != nil {
		return nil, err
	}
	return task, nil
}

type identityKey struct{}

// ContextWithIdentity attaches the authenticated identity to ctx. Both
// surfaces store the identity here; operations read it back out.
func ContextWithIdentity(ctx context.Context, id *types.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity attached to ctx, or nil.
func IdentityFrom(ctx context.Context) *types.Identity {
	id, _ := ctx.Value(identityKey{}).(*types.Identity)
	return id
}

// actorName is the audit-trail actor for a call: the explicit actor when
// the input carries one, else the key name.
func actorName(id *types.Identity, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if id != nil {
		return id.Name
	}
	return ""
}
