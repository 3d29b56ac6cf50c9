package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/askdb-io/askdb-engine/pkg/agent"
	"github.com/askdb-io/askdb-engine/pkg/auth"
	"github.com/askdb-io/askdb-engine/pkg/config"
	"github.com/askdb-io/askdb-engine/pkg/handlers"
	"github.com/askdb-io/askdb-engine/pkg/llm"
	"github.com/askdb-io/askdb-engine/pkg/logging"
	"github.com/askdb-io/askdb-engine/pkg/memory"
	"github.com/askdb-io/askdb-engine/pkg/pool"
	"github.com/askdb-io/askdb-engine/pkg/safety"
	"github.com/askdb-io/askdb-engine/pkg/schema"
	"github.com/askdb-io/askdb-engine/pkg/session"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// System store holds sessions, messages, memory, and schema snapshots.
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	storeClient, err := mongo.Connect(connectCtx, mongooptions.Client().ApplyURI(cfg.StoreURI))
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = storeClient.Disconnect(disconnectCtx)
	}()
	if err := storeClient.Ping(connectCtx, nil); err != nil {
		return err
	}
	systemDB := storeClient.Database(cfg.StoreDatabase)

	schemaStore := schema.NewMongoStore(systemDB)
	memoryStore := memory.NewMongoStore(systemDB)
	sessionStore := session.NewMongoStore(systemDB)
	if err := memoryStore.EnsureIndexes(ctx); err != nil {
		return err
	}
	if err := sessionStore.EnsureIndexes(ctx); err != nil {
		return err
	}

	targetPool := pool.New(pool.Config{
		MaxConns:         cfg.PoolMaxConns,
		PreflightTimeout: cfg.PreflightTimeout(),
		StatementTimeout: cfg.QueryTimeout(),
	}, logger)
	defer targetPool.Close()

	registry := schema.NewRegistry(schemaStore, schema.NewDetector(logger), cfg.SchemaTTL(), logger)
	memoryService := memory.NewService(memoryStore, logger)

	var oracle llm.Client
	if cfg.HasLLM() {
		client, err := llm.NewOpenAIClient(&llm.Config{
			Endpoint: cfg.LLMEndpoint,
			Model:    cfg.LLMModel,
			APIKey:   cfg.LLMAPIKey,
			Timeout:  cfg.LLMTimeout(),
		}, logger)
		if err != nil {
			return err
		}
		oracle = client
		logger.Info("llm oracle configured", zap.String("model", client.Model()))
	} else {
		logger.Info("no llm oracle configured, using heuristic fallbacks")
	}

	gate := safety.NewGate(cfg.DefaultRowCap, cfg.RedactSQL, cfg.QueryTimeout())
	planner := agent.NewPlanner(oracle, logger)
	synthesizer := agent.NewSynthesizer(oracle, logger)
	executor := agent.NewExecutor(gate, synthesizer, oracle, logger)
	shaper := agent.NewShaper(oracle, logger)
	pipeline := agent.NewPipeline(targetPool, registry, planner, executor, shaper, memoryService, logger)

	sessions := session.NewManager(sessionStore, pipeline, session.Config{
		IdleTimeout:   cfg.SessionIdleTimeout(),
		SweepInterval: cfg.SessionSweepInterval(),
		MaxPerUser:    cfg.MaxSessionsPerUser,
	}, logger)
	sessions.StartSweeper(ctx)

	validator := auth.NewValidator(cfg.JWTSecret)
	if !validator.Configured() {
		logger.Warn("JWT_SECRET is not set, all websocket handshakes will be rejected")
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(pipeline, memoryService, cfg.HasLLM(), logger).RegisterRoutes(mux)
	handlers.NewGateway(sessions, validator, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting askdb-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}
