// Command server runs the chat orchestration service: the HTTP API, the
// agent loop, the built-in tool set, and SQLite persistence.
package main

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/clark-labs/clark/internal/agent"
	"github.com/clark-labs/clark/internal/config"
	"github.com/clark-labs/clark/internal/connect"
	"github.com/clark-labs/clark/internal/httpapi"
	"github.com/clark-labs/clark/internal/llm"
	"github.com/clark-labs/clark/internal/provision"
	"github.com/clark-labs/clark/internal/sandbox"
	"github.com/clark-labs/clark/internal/store"
	"github.com/clark-labs/clark/internal/stream"
	"github.com/clark-labs/clark/internal/tools"
	"github.com/clark-labs/clark/internal/tools/filegen"
)

//go:embed prompt.md
var systemPrompt string

func main() {
	logger := newLogger(os.Stderr)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		return err
	}

	conversations := store.NewConversationRepo(db)
	messages := store.NewMessageRepo(db)
	resources := store.NewResourceRepo(db)
	connections := store.NewConnectionRepo(db)

	client, err := newModelClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	var replay stream.ReplayStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		replay = stream.NewRedisReplayStore(rdb)
		logger.Info("stream replay backed by redis", "addr", cfg.RedisAddr)
	} else {
		replay = stream.NewMemoryReplayStore()
	}

	sandboxes := sandbox.NewClient(cfg.SandboxAPIURL, cfg.SandboxToken)

	registry := tools.NewRegistry(logger)
	registry.Register(tools.NewCreateSandboxTool(sandboxes, resources, logger))
	registry.Register(tools.NewGenerateFilesTool(sandboxes, filegen.New(client), logger))
	registry.Register(tools.NewRunCommandTool(sandboxes, logger))
	registry.Register(tools.NewGetSandboxURLTool(sandboxes))
	registry.Register(tools.NewWaitTool())
	if cfg.AuthPlatformToken != "" {
		provisioner := provision.NewClient(cfg.AuthPlatformURL, cfg.AuthPlatformToken)
		registry.Register(tools.NewCreateAuthAppTool(provisioner, resources, logger))
	} else {
		registry.Register(tools.NewCreateAuthAppTool(nil, resources, logger))
		logger.Warn("AUTH_PLATFORM_TOKEN not set; create_auth_app will report it as missing")
	}
	if cfg.DBPlatformTokenID != "" && cfg.DBPlatformToken != "" {
		databases := provision.NewDatabaseClient(cfg.DBPlatformURL, cfg.DBPlatformTokenID, cfg.DBPlatformToken)
		registry.Register(tools.NewCreateDatabaseTool(databases, resources, logger))
	} else {
		registry.Register(tools.NewCreateDatabaseTool(nil, resources, logger))
		logger.Warn("DB_PLATFORM_TOKEN_ID/DB_PLATFORM_TOKEN not set; create_database will report it as missing")
	}

	loop := agent.NewLoop(client, registry, systemPrompt, logger)
	handler := httpapi.NewHandler(httpapi.Options{
		Loop:          loop,
		Reconciler:    agent.NewReconciler(messages, conversations, logger),
		Connectors:    connect.NewManager(connections, logger),
		Conversations: conversations,
		Messages:      messages,
		Resources:     resources,
		Connections:   connections,
		Sandboxes:     sandboxes,
		Replay:        replay,
		Logger:        logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// newModelClient registers an adapter per configured backend.
func newModelClient(cfg *config.Config) (*llm.Client, error) {
	var opts []llm.ClientOption
	if cfg.AnthropicAPIKey != "" {
		adapter, err := llm.NewGollmAdapter("anthropic", cfg.AnthropicAPIKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, llm.WithProvider("anthropic", adapter),
			llm.WithDefaultProvider("anthropic"))
	}
	if cfg.OpenAIAPIKey != "" {
		adapter, err := llm.NewGollmAdapter("openai", cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, llm.WithProvider("openai", adapter))
	}
	return llm.NewClient(opts...), nil
}
