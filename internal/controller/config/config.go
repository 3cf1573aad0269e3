package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

const (
	BackendZookeeper = "zookeeper"
	BackendRedis     = "redis"
	BackendMemory    = "memory"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds node agent configuration
type Config struct {
	Server       ServerConfig          `json:"server" yaml:"server"`
	Coordination CoordinationConfig    `json:"coordination" yaml:"coordination"`
	Controller   ControllerConfig      `json:"controller" yaml:"controller"`
	Roles        map[string]RoleConfig `json:"roles" yaml:"roles"`
	Cloud        CloudConfig           `json:"cloud" yaml:"cloud"`
	Apps         AppsConfig            `json:"apps" yaml:"apps"`
	Gossip       GossipConfig          `json:"gossip" yaml:"gossip"`
	Logger       logger.Config         `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	PublicIP  string `json:"public_ip" yaml:"public_ip"`
	PrivateIP string `json:"private_ip" yaml:"private_ip"`
	HTTPAddr  string `json:"http_addr" yaml:"http_addr"`
	GRPCPort  int    `json:"grpc_port" yaml:"grpc_port"`
}

type CoordinationConfig struct {
	Backend   string          `json:"backend" yaml:"backend"` // "zookeeper", "redis", "memory"
	Root      string          `json:"root" yaml:"root"`
	Zookeeper ZookeeperConfig `json:"zookeeper" yaml:"zookeeper"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
}

type ZookeeperConfig struct {
	Servers          []string `json:"servers" yaml:"servers"`
	SessionTimeoutMS int      `json:"session_timeout_ms" yaml:"session_timeout_ms"`
}

type RedisConfig struct {
	Addr         string `json:"addr" yaml:"addr"`
	Password     string `json:"password" yaml:"password"`
	DB           int    `json:"db" yaml:"db"`
	SessionTTLMS int    `json:"session_ttl_ms" yaml:"session_ttl_ms"`
}

type ControllerConfig struct {
	Secret              string `json:"secret" yaml:"secret"`
	KeyName             string `json:"key_name" yaml:"key_name"`
	HeartbeatIntervalMS int    `json:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	LockTimeoutMS       int    `json:"lock_timeout_ms" yaml:"lock_timeout_ms"`
	LockRetryIntervalMS int    `json:"lock_retry_interval_ms" yaml:"lock_retry_interval_ms"`
	FullSyncEvery       int    `json:"full_sync_every" yaml:"full_sync_every"`
	FailureThreshold    int    `json:"failure_threshold" yaml:"failure_threshold"`
	HealthTimeoutMS     int    `json:"health_timeout_ms" yaml:"health_timeout_ms"`
	HealthWorkers       int    `json:"health_workers" yaml:"health_workers"`
	RoleTimeoutMS       int    `json:"role_timeout_ms" yaml:"role_timeout_ms"`

	// Optional boot-time parameters, applied as if set_parameters had been called.
	Locations   []string `json:"locations" yaml:"locations"`
	Credentials []string `json:"credentials" yaml:"credentials"`
	AppNames    []string `json:"app_names" yaml:"app_names"`
}

type RoleConfig struct {
	Start []string `json:"start" yaml:"start"`
	Stop  []string `json:"stop" yaml:"stop"`
}

type CloudConfig struct {
	TerminateCommand []string `json:"terminate_command" yaml:"terminate_command"`
}

type AppsConfig struct {
	DirectoryURL string `json:"directory_url" yaml:"directory_url"`
}

type GossipConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Port    int      `json:"port" yaml:"port"`
	Seeds   []string `json:"seeds" yaml:"seeds"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: ":17443",
			GRPCPort: 17444,
		},
		Coordination: CoordinationConfig{
			Backend: BackendZookeeper,
			Root:    "/appcontroller",
			Zookeeper: ZookeeperConfig{
				Servers:          []string{"localhost:2181"},
				SessionTimeoutMS: 10000,
			},
			Redis: RedisConfig{
				Addr:         "localhost:6379",
				SessionTTLMS: 10000,
			},
		},
		Controller: ControllerConfig{
			HeartbeatIntervalMS: 5000,
			LockTimeoutMS:       30000,
			LockRetryIntervalMS: 200,
			FullSyncEvery:       12,
			FailureThreshold:    3,
			HealthTimeoutMS:     3000,
			HealthWorkers:       8,
			RoleTimeoutMS:       120000,
		},
		Gossip: GossipConfig{
			Port: 7946,
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Validate rejects configurations the node agent cannot start with.
func (c *Config) Validate() error {
	if c.Server.PublicIP == "" {
		return fmt.Errorf("%w: server.public_ip is required", ErrInvalidConfig)
	}
	switch c.Coordination.Backend {
	case BackendZookeeper:
		if len(c.Coordination.Zookeeper.Servers) == 0 {
			return fmt.Errorf("%w: coordination.zookeeper.servers is empty", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.Coordination.Redis.Addr == "" {
			return fmt.Errorf("%w: coordination.redis.addr is empty", ErrInvalidConfig)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: unknown coordination backend %q", ErrInvalidConfig, c.Coordination.Backend)
	}
	if c.Controller.Secret == "" {
		return fmt.Errorf("%w: controller.secret is required", ErrInvalidConfig)
	}
	for role, rc := range c.Roles {
		if len(rc.Start) == 0 {
			return fmt.Errorf("%w: roles.%s.start is empty", ErrInvalidConfig, role)
		}
	}
	if c.Gossip.Enabled && c.Gossip.Port <= 0 {
		return fmt.Errorf("%w: gossip.port must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *ControllerConfig) HeartbeatInterval() time.Duration {
	return ms(c.HeartbeatIntervalMS)
}

func (c *ControllerConfig) LockTimeout() time.Duration {
	return ms(c.LockTimeoutMS)
}

func (c *ControllerConfig) LockRetryInterval() time.Duration {
	return ms(c.LockRetryIntervalMS)
}

func (c *ControllerConfig) HealthTimeout() time.Duration {
	return ms(c.HealthTimeoutMS)
}

func (c *ControllerConfig) RoleTimeout() time.Duration {
	return ms(c.RoleTimeoutMS)
}

// HasBootParameters reports whether the file carries set_parameters arguments.
func (c *ControllerConfig) HasBootParameters() bool {
	return len(c.Locations) > 0
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "controller", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		return cfg, nil
	}

	return parsedCfg, nil
}

// MustLoad loads configuration or exits on error
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
