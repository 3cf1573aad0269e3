package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	grpcHandler "github.com/anthanhphan/appcontroller/internal/controller/adapter/inbound/grpc"
	httpHandler "github.com/anthanhphan/appcontroller/internal/controller/adapter/inbound/http"
	"github.com/anthanhphan/appcontroller/internal/controller/adapter/outbound/appdirectory"
	"github.com/anthanhphan/appcontroller/internal/controller/adapter/outbound/healthcheck"
	"github.com/anthanhphan/appcontroller/internal/controller/adapter/outbound/memstore"
	"github.com/anthanhphan/appcontroller/internal/controller/adapter/outbound/redisstore"
	"github.com/anthanhphan/appcontroller/internal/controller/adapter/outbound/shell"
	"github.com/anthanhphan/appcontroller/internal/controller/adapter/outbound/zookeeper"
	"github.com/anthanhphan/appcontroller/internal/controller/config"
	"github.com/anthanhphan/appcontroller/internal/controller/domain"
	"github.com/anthanhphan/appcontroller/internal/controller/port"
	"github.com/anthanhphan/appcontroller/internal/controller/service"
	"github.com/anthanhphan/appcontroller/pkg/clock"
	"github.com/anthanhphan/appcontroller/pkg/gossip"
	"github.com/anthanhphan/appcontroller/pkg/resilience"
	"github.com/anthanhphan/gosdk/logger"
)

type App struct {
	cfg        *config.Config
	svc        *service.ControllerServiceImpl
	store      port.CoordinationStore
	redis      *redis.Client
	pool       *resilience.WorkerPool
	httpServer *httpHandler.Server
	grpcServer *grpc.Server
	health     *grpcHandler.HealthServer
	checker    *healthcheck.Checker
	gossip     *gossip.Agent
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	a := &App{cfg: cfg}

	// 3. Coordination store
	store, clk, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.store = store

	// 4. Local role dispatcher
	workers := cfg.Controller.HealthWorkers
	if workers <= 0 {
		workers = 4
	}
	a.pool = resilience.NewWorkerPool(workers, workers*4)
	runner := shell.NewRunner(cfg.Controller.RoleTimeout())
	dispatcher := service.NewDispatcher(a.pool, cfg.Controller.RoleTimeout())
	for name, rc := range cfg.Roles {
		role, err := domain.ParseRole(name)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("roles.%s: %w", name, err)
		}
		dispatcher.Register(role, runner.RoleHandler(role, rc.Start, rc.Stop))
	}

	// 5. Outbound collaborators
	a.checker = healthcheck.NewChecker(grpcHandler.ServiceName)
	deps := service.Dependencies{
		Store:      store,
		Clock:      clk,
		Dispatcher: dispatcher,
		Pool:       a.pool,
		Terminator: shell.NewTerminator(runner, cfg.Cloud.TerminateCommand),
		Health:     a.checker,
	}
	if cfg.Apps.DirectoryURL != "" {
		deps.Apps = appdirectory.NewClient(cfg.Apps.DirectoryURL, cfg.Controller.Secret, 0)
	}

	// 6. Controller
	a.svc = service.NewControllerService(service.Options{
		PublicIP:          cfg.Server.PublicIP,
		Secret:            cfg.Controller.Secret,
		BootID:            uuid.NewString(),
		Root:              cfg.Coordination.Root,
		HeartbeatInterval: cfg.Controller.HeartbeatInterval(),
		LockTimeout:       cfg.Controller.LockTimeout(),
		LockRetryInterval: cfg.Controller.LockRetryInterval(),
		HealthTimeout:     cfg.Controller.HealthTimeout(),
		HealthPort:        cfg.Server.GRPCPort,
		FailureThreshold:  cfg.Controller.FailureThreshold,
		FullSyncEvery:     cfg.Controller.FullSyncEvery,
	}, deps)

	// 7. Inbound servers
	a.httpServer = httpHandler.NewServer(cfg.Server.HTTPAddr, a.svc)
	a.grpcServer = grpc.NewServer()
	a.health = grpcHandler.NewHealthServer()
	a.health.Register(a.grpcServer)

	// 8. Gossip
	if cfg.Gossip.Enabled {
		bindAddr := cfg.Server.PrivateIP
		if bindAddr == "" {
			bindAddr = "0.0.0.0"
		}
		agent, err := gossip.NewAgent(cfg.Server.PublicIP, bindAddr, cfg.Gossip.Port, cfg.Server.GRPCPort,
			&departureListener{svc: a.svc, timeout: cfg.Controller.LockTimeout()})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to init gossip: %w", err)
		}
		a.gossip = agent
	}

	return a, nil
}

func (a *App) openStore() (port.CoordinationStore, clock.Clock, error) {
	coord := a.cfg.Coordination
	switch coord.Backend {
	case config.BackendZookeeper:
		store, err := zookeeper.Connect(coord.Zookeeper.Servers, time.Duration(coord.Zookeeper.SessionTimeoutMS)*time.Millisecond)
		if err != nil {
			return nil, nil, err
		}
		return store, clock.SystemClock{}, nil
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     coord.Redis.Addr,
			Password: coord.Redis.Password,
			DB:       coord.Redis.DB,
		})
		store := redisstore.New(a.redis, time.Duration(coord.Redis.SessionTTLMS)*time.Millisecond)
		return store, clock.NewRedisClock(a.redis), nil
	case config.BackendMemory:
		logger.Warnw("Using in-memory coordination store, peers cannot join this deployment")
		return memstore.NewTree().Session(), clock.SystemClock{}, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown coordination backend %q", config.ErrInvalidConfig, coord.Backend)
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start Gossip
	if a.gossip != nil {
		a.joinGossip()
	}

	// Start gRPC health
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.GRPCPort))
	if err != nil {
		a.close()
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Server.GRPCPort, err)
	}
	serverErrCh := make(chan error, 2)
	go func() {
		if err := a.grpcServer.Serve(listener); err != nil {
			serverErrCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()
	go a.health.Track(ctx, time.Second, func() bool {
		return a.svc.State().Configured() && !a.svc.State().Killed()
	})

	// Start RPC surface
	go func() {
		if err := a.httpServer.Start(); err != nil {
			serverErrCh <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	logger.Infow("Controller starting",
		"public_ip", a.cfg.Server.PublicIP,
		"http", a.cfg.Server.HTTPAddr,
		"grpc", a.cfg.Server.GRPCPort,
		"backend", a.cfg.Coordination.Backend)

	// Heartbeat loop
	loopDone := make(chan error, 1)
	go func() {
		loopDone <- a.svc.Run(ctx)
	}()

	if a.cfg.Controller.HasBootParameters() {
		go a.applyBootParameters(ctx)
	}

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case <-a.svc.Killed():
		logger.Info("Kill received")
	case err := <-serverErrCh:
		errMsg := err.Error()
		if !strings.Contains(errMsg, "use of closed network connection") && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
			logger.Errorw("Controller server exited unexpectedly", "error", errMsg)
		}
	}

	logger.Info("Shutting down controller")
	cancel()
	if err := <-loopDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warnw("Heartbeat loop stopped with error", "error", err.Error())
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		logger.Warnw("HTTP shutdown error", "error", err.Error())
	}
	a.health.Shutdown()
	a.grpcServer.GracefulStop()
	a.close()

	return runErr
}

func (a *App) joinGossip() {
	seeds := make([]string, 0, len(a.cfg.Gossip.Seeds))
	self := fmt.Sprintf("%s:%d", a.cfg.Server.PublicIP, a.cfg.Gossip.Port)
	for _, seed := range a.cfg.Gossip.Seeds {
		if seed == "" || seed == self {
			continue
		}
		seeds = append(seeds, seed)
	}
	if len(seeds) == 0 {
		return
	}

	var joinErr error
	for i := 0; i < 5; i++ {
		joinErr = a.gossip.Join(seeds)
		if joinErr == nil {
			return
		}
		logger.Warnw("Failed to join gossip cluster, retrying...", "attempt", i+1, "error", joinErr.Error())
		time.Sleep(2 * time.Second)
	}
	logger.Errorw("Failed to join gossip cluster after retries", "error", joinErr.Error())
}

// applyBootParameters registers the deployment from the config file, retrying
// while the store is unavailable, then reports when the deployment is ready.
func (a *App) applyBootParameters(ctx context.Context) {
	c := a.cfg.Controller
	creds := c.Credentials
	if c.KeyName != "" && !containsKey(creds, "keyname") {
		creds = append(append([]string{}, creds...), "keyname", c.KeyName)
	}

	for attempt := 1; ; attempt++ {
		err := a.svc.SetParameters(ctx, c.Locations, creds, c.AppNames, c.Secret)
		if err == nil {
			break
		}
		if !errors.Is(err, port.ErrStoreUnavailable) && !errors.Is(err, service.ErrLockTimeout) {
			logger.Errorw("Boot parameters rejected", "error", err.Error())
			return
		}
		logger.Warnw("Boot parameters not applied yet, retrying...", "attempt", attempt, "error", err.Error())
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.HeartbeatInterval()):
		}
	}

	start := time.Now()
	if err := a.svc.WaitUntilReady(ctx, c.HeartbeatInterval()); err != nil {
		logger.Infow("Stopped waiting for deployment", "error", err.Error())
		return
	}
	logger.Infow("Deployment ready", "elapsed", time.Since(start).String())
}

func (a *App) close() {
	if a.gossip != nil {
		if err := a.gossip.Leave(); err != nil {
			logger.Warnw("Gossip leave failed", "error", err.Error())
		}
	}
	if a.checker != nil {
		if err := a.checker.Close(); err != nil {
			logger.Warnw("Health client close failed", "error", err.Error())
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnw("Coordination store close failed", "error", err.Error())
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func containsKey(flat []string, key string) bool {
	for i := 0; i+1 < len(flat); i += 2 {
		if flat[i] == key {
			return true
		}
	}
	return false
}
