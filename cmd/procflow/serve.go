package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/procflow/internal/application/catalog"
	"github.com/aescanero/procflow/internal/application/orchestrator"
	"github.com/aescanero/procflow/internal/application/workers"
	"github.com/aescanero/procflow/internal/config"
	"github.com/aescanero/procflow/pkg/adapters/conditions/hcl"
	"github.com/aescanero/procflow/pkg/adapters/definition/yaml"
	"github.com/aescanero/procflow/pkg/adapters/events"
	"github.com/aescanero/procflow/pkg/adapters/events/memory"
	"github.com/aescanero/procflow/pkg/adapters/events/redis"
	"github.com/aescanero/procflow/pkg/adapters/llm"
	"github.com/aescanero/procflow/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/procflow/pkg/adapters/storage/memory"
	redisstorage "github.com/aescanero/procflow/pkg/adapters/storage/redis"
	"github.com/aescanero/procflow/pkg/api/grpc"
	"github.com/aescanero/procflow/pkg/api/http"
	"github.com/aescanero/procflow/pkg/api/websocket"
	"github.com/aescanero/procflow/pkg/ports"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator with its HTTP, WebSocket and gRPC APIs",
	Long: `Loads every graph document from PROCFLOW_GRAPHS_DIR and serves runs over HTTP.
Configuration is read from the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if dir, _ := cmd.Flags().GetString("graphs"); dir != "" {
			cfg.GraphsDir = dir
		}

		logger := initLogger(cfg.LogLevel)
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().String("graphs", "", "Directory of graph documents (overrides PROCFLOW_GRAPHS_DIR)")
	rootCmd.AddCommand(serveCmd)
}

// backend groups the event bus and snapshot storage selected by configuration
type backend struct {
	bus     ports.EventBus
	storage ports.SnapshotStorage
	close   func() error
}

func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.EventBus != config.EventBusRedis {
		bus := memory.NewInMemoryEventBus(logger)
		return &backend{
			bus:     bus,
			storage: memorystorage.NewInMemorySnapshotStorage(),
			close:   bus.Close,
		}, nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	bus, err := redis.NewStreamsEventBus(
		client,
		cfg.Redis.ConsumerGroup,
		cfg.Redis.ConsumerName,
		logger,
		redis.WithMaxLen(cfg.Redis.StreamMaxLen),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	return &backend{
		bus:     bus,
		storage: redisstorage.NewSnapshotStorage(client, cfg.Storage.TTL, logger),
		close: func() error {
			return errors.Join(bus.Close(), client.Close())
		},
	}, nil
}

func loadCatalog(cfg *config.Config, evaluator *hcl.Evaluator, logger *zap.Logger) (*catalog.Catalog, error) {
	if _, err := os.Stat(cfg.GraphsDir); errors.Is(err, os.ErrNotExist) {
		logger.Warn("graphs directory not found, starting with an empty catalog",
			zap.String("dir", cfg.GraphsDir))
		return catalog.New()
	}

	loader := yaml.NewLoader(yaml.WithExpressionValidator(evaluator))
	graphs, err := loader.LoadDir(cfg.GraphsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load graphs: %w", err)
	}

	cat, err := catalog.New(graphs...)
	if err != nil {
		return nil, err
	}
	for _, g := range graphs {
		logger.Info("graph loaded", zap.String("graph_id", g.ID), zap.Int("nodes", len(g.Nodes)))
	}
	return cat, nil
}

func newExecutor(cfg *config.Config, logger *zap.Logger) (*workers.Router, error) {
	router := workers.NewRouter()
	if !cfg.AgentsEnabled() {
		logger.Warn("LLM_API_KEY not set, agent steps will fail")
		return router, nil
	}

	agents, err := llm.NewAgentExecutor(&llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.DefaultModel,
		MaxTokens:   cfg.LLM.DefaultMaxTokens,
		Temperature: cfg.LLM.DefaultTemperature,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent executor: %w", err)
	}
	return router.HandleAgents(agents), nil
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting procflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("event_bus", cfg.EventBus))

	be, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.close(); err != nil {
			logger.Error("event bus close error", zap.Error(err))
		}
	}()

	// Stream clients need every run event; a Redis consumer group would split them.
	broadcast := memory.NewInMemoryEventBus(logger)
	defer broadcast.Close()

	metricsCollector := prometheus.NewCollector(nil)
	evaluator := hcl.NewEvaluator()

	cat, err := loadCatalog(cfg, evaluator, logger)
	if err != nil {
		return err
	}

	orch := orchestrator.New(evaluator, logger,
		orchestrator.WithDispatcher(orchestrator.NewBusDispatcher(be.bus)),
		orchestrator.WithPublisher(events.Fanout{be.bus, broadcast}),
		orchestrator.WithStorage(be.storage),
		orchestrator.WithMetrics(metricsCollector),
		orchestrator.WithRunTimeout(cfg.Timeouts.RunTimeout),
		orchestrator.WithJoinTimeout(cfg.Timeouts.JoinTimeout),
	)

	executor, err := newExecutor(cfg, logger)
	if err != nil {
		return err
	}

	workerPool := workers.NewPool(
		cfg.Workers.PoolSize,
		be.bus,
		executor,
		orch,
		metricsCollector,
		logger,
		cfg.Workers.HealthCheckInterval,
		cfg.Timeouts.StepTimeout,
	)
	if err := workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	httpServer := http.NewServer(&http.Config{
		Port:           cfg.HTTPPort,
		Orchestrator:   orch,
		Catalog:        cat,
		Checks:         map[string]http.HealthChecker{"workers": workerPool.Health()},
		MetricsHandler: promhttp.Handler(),
		Logger:         logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(broadcast, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.GRPCPort,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := grpcServer.Start(); err != nil {
			errCh <- err
		}
	}()
	grpcServer.SetServing(true)

	logger.Info("procflow started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("graphs", len(cat.List())),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	grpcServer.SetServing(false)

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := workerPool.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
	}

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}

	logger.Info("procflow shut down complete")
	return serveErr
}
