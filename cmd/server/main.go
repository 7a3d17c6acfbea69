package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/defnot001/biomebot/common/id"
	"github.com/defnot001/biomebot/common/logger"
	"github.com/defnot001/biomebot/common/otel"
	"github.com/defnot001/biomebot/core/config"
	"github.com/defnot001/biomebot/internal/classifier"
	"github.com/defnot001/biomebot/internal/dispatch"
	"github.com/defnot001/biomebot/internal/http/handler/webhook"
	"github.com/defnot001/biomebot/internal/http/middleware"
	httprouter "github.com/defnot001/biomebot/internal/http/router"
	"github.com/defnot001/biomebot/internal/mapper"
	"github.com/defnot001/biomebot/internal/metrics"
	"github.com/defnot001/biomebot/internal/pipeline"
	"github.com/defnot001/biomebot/internal/routing"
	inbound "github.com/defnot001/biomebot/internal/webhook"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "config loaded",
		"env", cfg.Env,
		"dedup_backend", cfg.Dedup.Backend,
		"dedup_window", cfg.Dedup.Window.String(),
		"target_label", cfg.Routing.TargetLabel,
		"activity_channel", cfg.Routing.ActivityChannelID,
		"good_first_issue_channel", cfg.Routing.GoodFirstIssueChannelID,
		"allow_list", len(cfg.Identity.Allow),
		"deny_list", len(cfg.Identity.Deny))

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		slog.ErrorContext(ctx, "failed to register metrics", "error", err)
		os.Exit(1)
	}

	backgroundCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	deps, err := newDependencies(backgroundCtx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize dependencies", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	dispatcher := dispatch.New(deps.Sink, dispatch.Config{
		MaxRetries:  cfg.Dispatch.MaxRetries,
		BackoffBase: cfg.Dispatch.BackoffBase,
		BackoffMax:  cfg.Dispatch.BackoffMax,
	}, deps.DeadLetters, slog.Default())

	events := pipeline.New(
		pipeline.Config{Workers: cfg.Pipeline.Workers},
		classifier.New(cfg.Identity.Allow, cfg.Identity.Deny),
		routing.New(routing.Config{
			ActivityChannelID:       cfg.Routing.ActivityChannelID,
			GoodFirstIssueChannelID: cfg.Routing.GoodFirstIssueChannelID,
			TargetLabel:             cfg.Routing.TargetLabel,
		}),
		deps.Dedup,
		dispatcher,
		slog.Default(),
	)

	githubHandler := webhook.NewGitHubWebhookHandler(
		inbound.NewVerifier(cfg.GitHub.WebhookSecret),
		mapper.NewGitHubEventMapper(),
		events,
	)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, githubHandler, registry)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "webserver listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop taking webhooks first, then let accepted events finish their deliveries.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	events.Close()
	if err := events.Wait(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "pipeline drain incomplete", "error", err)
	}
	stopBackground()

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, githubHandler *webhook.GitHubWebhookHandler, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, githubHandler, httprouter.RouterConfig{
		Gatherer: gatherer,
	})

	return router
}

const banner = `
██████╗  ██╗  ██████╗  ███╗   ███╗ ███████╗ ██████╗   ██████╗  ████████╗
██╔══██╗ ██║ ██╔═══██╗ ████╗ ████║ ██╔════╝ ██╔══██╗ ██╔═══██╗ ╚══██╔══╝
██████╔╝ ██║ ██║   ██║ ██╔████╔██║ █████╗   ██████╔╝ ██║   ██║    ██║
██╔══██╗ ██║ ██║   ██║ ██║╚██╔╝██║ ██╔══╝   ██╔══██╗ ██║   ██║    ██║
██████╔╝ ██║ ╚██████╔╝ ██║ ╚═╝ ██║ ███████╗ ██████╔╝ ╚██████╔╝    ██║
╚═════╝  ╚═╝  ╚═════╝  ╚═╝     ╚═╝ ╚══════╝ ╚═════╝   ╚═════╝     ╚═╝
`
