package port

import "context"

//go:generate mockgen -destination=../service/mocks/apps_mock.go -package=mocks -source=apps.go

// AppInstance is one app server registration owned by a node.
type AppInstance struct {
	AppName string `json:"app_name"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

// AppDirectory is the user/app registry that tracks running app servers.
type AppDirectory interface {
	// DeleteInstance removes one app server registration.
	DeleteInstance(ctx context.Context, instance AppInstance) error
}
