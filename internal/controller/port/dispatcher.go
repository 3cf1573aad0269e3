package port

import (
	"context"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
)

// RoleHandler starts and stops the local services behind one role.
// Both calls must be idempotent.
type RoleHandler struct {
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// RoleDispatcher applies role transitions on the local machine.
type RoleDispatcher interface {
	// Apply starts and stops the given roles. Unknown roles are skipped.
	// The returned error aggregates individual role failures.
	Apply(ctx context.Context, toStart, toStop []domain.Role) error

	// Running returns the roles this node currently runs.
	Running() []domain.Role
}
