package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/agent"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/api"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/bus"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/config"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/provider"
	pgstore "github.com/rasad8686/BotBuilder-Platform-sub019/internal/store"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/tool"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/orchestrator.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		boot, _ := zap.NewProduction()
		boot.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Extra: pc.Extra, Timeout: pc.Timeout.Std(),
		}, logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}

	// Initialize PostgreSQL store
	o := cfg.Orchestrator
	var pg *pgstore.Store
	if uses(o, config.BackendPostgres) {
		ps, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(err))
		} else {
			if err := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); err != nil {
				logger.Fatal("migration failed", zap.Error(err))
			}
			pg = ps
		}
	}

	// Initialize Redis
	var rds *bus.RedisStore
	if uses(o, config.BackendRedis) {
		rs, err := bus.NewRedisStore(cfg.Database.Redis.URL, logger)
		if err != nil {
			logger.Warn("Redis unavailable, keeping messages and snapshots in memory", zap.Error(err))
		} else {
			rds = rs
		}
	}

	var messages bus.Store = bus.NewMemoryStore()
	switch {
	case o.MessageStore == config.BackendPostgres && pg != nil:
		messages = pg
	case o.MessageStore == config.BackendRedis && rds != nil:
		messages = rds
	}
	var snapshots blackboard.SnapshotStore = blackboard.NewMemorySnapshotStore()
	switch {
	case o.SnapshotStore == config.BackendPostgres && pg != nil:
		snapshots = pg
	case o.SnapshotStore == config.BackendRedis && rds != nil:
		snapshots = blackboard.NewRedisSnapshotStore(rds.Client())
	}
	var toolStore tool.Store = tool.NewMemoryStore()
	if o.ToolStore == config.BackendPostgres && pg != nil {
		toolStore = pg
	}
	var workflows workflow.Store = workflow.NewMemoryStore()
	if o.WorkflowStore == config.BackendPostgres && pg != nil {
		workflows = pg
	}

	policy := blackboard.Policy{
		Arrays:     blackboard.ArrayPolicy(o.Merge.Arrays),
		Objects:    blackboard.ObjectPolicy(o.Merge.Objects),
		Primitives: blackboard.PrimitivePolicy(o.Merge.Primitives),
	}
	if err := policy.Validate(); err != nil {
		logger.Fatal("invalid merge policy", zap.Error(err))
	}
	contexts := blackboard.NewManager(snapshots, logger, blackboard.WithPolicy(policy))

	// Initialize tools
	tools := tool.NewRegistry(toolStore, logger)
	executor := tool.NewExecutor(tools, logger)

	// Initialize agents
	agent.ProfileDir = cfg.ProfileDir
	agents := agent.NewRegistry(logger)
	for _, ac := range cfg.Agents {
		p := agent.Persona{
			ID:           ac.ID,
			Name:         ac.Name,
			Role:         agent.Role(ac.Role),
			SystemPrompt: ac.SystemPrompt,
			Tone:         ac.Tone,
			StyleGuide:   ac.StyleGuide,
			Strict:       ac.Strict,
			ProviderID:   ac.Provider,
			Model:        ac.Model,
			MaxTokens:    ac.MaxTokens,
		}
		if ac.Temperature != nil {
			p.Temperature = *ac.Temperature
		}
		p.ApplyProfile()
		if len(ac.Fallbacks) > 0 {
			router.SetFallbacks(ac.ID, ac.Fallbacks)
		}
		if err := agents.Register(agent.NewLLMAgent(p, router, executor, logger)); err != nil {
			logger.Fatal("failed to register agent", zap.String("id", ac.ID), zap.Error(err))
		}
	}
	logger.Info("Agents registered", zap.Int("count", agents.Len()), zap.Strings("providers", router.Providers()))

	// Initialize workflow engine
	engine := workflow.NewEngine(agents, contexts, messages, workflows, workflow.Options{
		ParallelTimeout:     o.ParallelTimeout.Std(),
		PoolSize:            o.PoolSize,
		BranchFailure:       o.BranchFailure,
		MaxConditionalSteps: o.MaxConditionalSteps,
	}, logger)
	tool.RegisterBuiltins(executor, contexts, engine.Bus)

	// Build HTTP handler
	handler := api.NewHandler(agents, engine, contexts, tools, executor, o.RequestTimeout.Std(), logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Orchestrator listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down orchestrator...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("executions still running at exit", zap.Strings("ids", engine.Active()), zap.Error(err))
	}
	if rds != nil {
		rds.Close()
	}
	if pg != nil {
		pg.Close()
	}
}

func uses(o config.OrchestratorConfig, backend string) bool {
	return o.MessageStore == backend || o.SnapshotStore == backend ||
		o.ToolStore == backend || o.WorkflowStore == backend
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		if lvl, perr := zap.ParseAtomicLevel(level); perr == nil {
			cfg.Level = lvl
		}
		logger, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
