package port

import "context"

//go:generate mockgen -destination=../service/mocks/cloud_mock.go -package=mocks -source=cloud.go

// InstanceTerminator tears down virtual machines.
type InstanceTerminator interface {
	// TerminateInstances destroys the given instances of one cloud.
	TerminateInstances(ctx context.Context, cloudID string, instanceIDs []string) error
}
