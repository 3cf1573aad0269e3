package port

import (
	"context"
	"errors"

	"github.com/anthanhphan/appcontroller/internal/controller/domain"
)

var (
	ErrBadSecret = errors.New("bad secret")
	ErrNotReady  = errors.New("controller parameters not set")
)

// ControllerService is the RPC surface of one node agent. Every call carries the
// deployment secret and fails with ErrBadSecret when it does not match.
type ControllerService interface {
	// SetParameters accepts loosely typed arguments as they arrive over the wire and
	// validates their shapes before touching any state.
	SetParameters(ctx context.Context, locations, credentials, appNames any, secret string) error
	Status(ctx context.Context, secret string) (*domain.ControllerStatus, error)
	AddRole(ctx context.Context, role, secret string) error
	RemoveRole(ctx context.Context, role, secret string) error
	GetAllPublicIPs(ctx context.Context, secret string) ([]string, error)
	GetRoleInfo(ctx context.Context, secret string) ([]domain.NodeRecord, error)
	Done(ctx context.Context, secret string) (bool, error)
	Kill(ctx context.Context, secret string) error
}

// BadSecretReply is the fixed wire response for a secret mismatch.
const BadSecretReply = "Error: bad secret"

// Reply renders the outcome of a mutating call in the legacy plain-string form.
func Reply(err error) string {
	switch {
	case err == nil:
		return "OK"
	case errors.Is(err, ErrBadSecret):
		return BadSecretReply
	default:
		return "Error: " + err.Error()
	}
}
