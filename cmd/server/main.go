package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mikewong23571/codex/internal/config"
	"github.com/mikewong23571/codex/internal/handler"
	"github.com/mikewong23571/codex/internal/pkg/logger"
	"github.com/mikewong23571/codex/internal/pkg/logredact"
	"github.com/mikewong23571/codex/internal/repository"
	"github.com/mikewong23571/codex/internal/server"
	middleware2 "github.com/mikewong23571/codex/internal/server/middleware"
	"github.com/mikewong23571/codex/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "codex-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	stateRoot := config.ResolveStateRoot()

	cfg, err := config.Load(stateRoot)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.InitOptions{
		Level:       "info",
		Format:      "json",
		ServiceName: "codex-gateway",
		Caller:      true,
		Output: logger.OutputOptions{
			ToStdout: true,
			ToFile:   true,
			FilePath: filepath.Join(stateRoot, "logs", "gateway.log"),
		},
	}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	logger.L().Info("serve_start",
		zap.String("config", config.ConfigPath(stateRoot)),
		zap.String("listen", cfg.Gateway.Listen),
		zap.String("upstream_base_url", cfg.Gateway.UpstreamBaseURL),
		zap.String("redis_url", logredact.URL(cfg.Gateway.RedisURL)),
		zap.Int("sticky_ttl_seconds", cfg.Gateway.StickyTTLSeconds),
		zap.Int("token_safety_window_seconds", cfg.Gateway.TokenSafetyWindowSeconds),
	)
	warnIfUpstreamBaseURLSuspicious(cfg.Gateway.UpstreamBaseURL)

	redisOpts, err := redis.ParseURL(cfg.Gateway.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing gateway.redis_url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	store := config.NewStore(cfg)
	discovery := service.NewDiscovery(config.AccountsRoot(stateRoot))
	discovery.Scan()

	watcher := config.NewWatcher(stateRoot, store)
	ticker := cron.New()
	spec := fmt.Sprintf("@every %ds", cfg.Gateway.PollIntervalSeconds)
	if _, err := ticker.AddFunc(spec, watcher.Reload); err != nil {
		return fmt.Errorf("scheduling config watcher: %w", err)
	}
	if _, err := ticker.AddFunc(spec, discovery.Scan); err != nil {
		return fmt.Errorf("scheduling account discovery: %w", err)
	}
	ticker.Start()
	defer ticker.Stop()

	gatewayCache := repository.NewGatewayCache(rdb)
	sessions := repository.NewSessionStore(rdb)
	credentials := repository.NewCredentialSource(repository.NewIdentityClient())

	tokens := service.NewTokenProvider(gatewayCache, credentials, discovery, cfg.Gateway.TokenSafetyWindow())
	resolver := service.NewPoolResolver(store, discovery)
	binder := service.NewStickyBinder(gatewayCache)
	forwarder := service.NewForwarder(store, tokens)
	gatewayService := service.NewGatewayService(store, resolver, binder, tokens, forwarder)

	gatewayHandler := handler.NewGatewayHandler(gatewayService, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	gin.SetMode(gin.ReleaseMode)
	router := server.SetupRouter(gatewayHandler, middleware2.NewGatewayAuth(sessions))

	srv := &http.Server{
		Addr:              cfg.Gateway.Listen,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("listening on %s: %w", cfg.Gateway.Listen, err)
	case <-ctx.Done():
	}

	// Stop accepting, let in-flight forwards finish or be canceled by their
	// clients, then exit. The shared store is left as-is.
	logger.L().Info("serve_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func warnIfUpstreamBaseURLSuspicious(upstreamBaseURL string) {
	base := strings.ToLower(strings.TrimRight(upstreamBaseURL, "/"))
	if strings.HasSuffix(base, "/backend-api") && !strings.HasSuffix(base, "/backend-api/codex") {
		logger.L().Warn("upstream_base_url may be incorrect for Codex responses; expected .../backend-api/codex",
			zap.String("upstream_base_url", upstreamBaseURL))
	}
}
