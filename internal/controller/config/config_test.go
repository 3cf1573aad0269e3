package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.PublicIP = "10.0.0.1"
	cfg.Controller.Secret = "s3cret"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing public ip", mutate: func(c *Config) { c.Server.PublicIP = "" }, wantErr: "server.public_ip"},
		{name: "unknown backend", mutate: func(c *Config) { c.Coordination.Backend = "etcd" }, wantErr: `"etcd"`},
		{name: "zookeeper without servers", mutate: func(c *Config) { c.Coordination.Zookeeper.Servers = nil }, wantErr: "zookeeper.servers"},
		{name: "redis without addr", mutate: func(c *Config) {
			c.Coordination.Backend = BackendRedis
			c.Coordination.Redis.Addr = ""
		}, wantErr: "redis.addr"},
		{name: "memory backend", mutate: func(c *Config) { c.Coordination.Backend = BackendMemory }},
		{name: "missing secret", mutate: func(c *Config) { c.Controller.Secret = "" }, wantErr: "controller.secret"},
		{name: "role without start command", mutate: func(c *Config) {
			c.Roles = map[string]RoleConfig{"memcache": {Stop: []string{"true"}}}
		}, wantErr: "roles.memcache.start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestControllerDurations(t *testing.T) {
	c := DefaultConfig().Controller
	assert.Equal(t, 5*time.Second, c.HeartbeatInterval())
	assert.Equal(t, 30*time.Second, c.LockTimeout())
	assert.Equal(t, 200*time.Millisecond, c.LockRetryInterval())
	assert.Equal(t, 3*time.Second, c.HealthTimeout())
	assert.False(t, c.HasBootParameters())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_DefaultsWhenEnvFileMissing(t *testing.T) {
	t.Setenv("ENV", "does-not-exist")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendZookeeper, cfg.Coordination.Backend)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	content := `
server:
  public_ip: 10.0.0.7
coordination:
  backend: redis
  redis:
    addr: redis:6379
controller:
  secret: s3cret
  locations: ["10.0.0.7:10.0.0.7:shadow:i-1:cloud1"]
roles:
  memcache:
    start: ["systemctl", "start", "memcached"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "10.0.0.7", cfg.Server.PublicIP)
	assert.Equal(t, BackendRedis, cfg.Coordination.Backend)
	assert.Equal(t, "redis:6379", cfg.Coordination.Redis.Addr)
	assert.Equal(t, 10000, cfg.Coordination.Redis.SessionTTLMS)
	assert.True(t, cfg.Controller.HasBootParameters())
	assert.Equal(t, []string{"systemctl", "start", "memcached"}, cfg.Roles["memcache"].Start)
}
