// Command llmgatewayd runs the intercepting LLM API gateway: it loads
// configuration and credentials, wires the dispatcher and session/command
// layers into an application.Gateway, and serves the HTTP edge until
// terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/llmgateway/proxy/internal/application"
	"github.com/llmgateway/proxy/internal/domain/command"
	"github.com/llmgateway/proxy/internal/domain/dispatch"
	"github.com/llmgateway/proxy/internal/domain/pipeline"
	"github.com/llmgateway/proxy/internal/domain/ratelimit"
	"github.com/llmgateway/proxy/internal/domain/session"
	"github.com/llmgateway/proxy/internal/infrastructure/audit"
	"github.com/llmgateway/proxy/internal/infrastructure/config"
	"github.com/llmgateway/proxy/internal/infrastructure/connector"
	"github.com/llmgateway/proxy/internal/infrastructure/credential"
	"github.com/llmgateway/proxy/internal/infrastructure/logger"
	"github.com/llmgateway/proxy/internal/infrastructure/metrics"
	gatewayhttp "github.com/llmgateway/proxy/internal/interfaces/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "llmgatewayd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stdout"})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	creds := credential.NewManager(log)
	if cfg.CredentialDir != "" {
		if _, errs := creds.LoadDir(cfg.CredentialDir); len(errs) > 0 {
			for _, e := range errs {
				log.Warn("credential load error", zap.Error(e))
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.CredentialDir != "" {
		watcher, err := credential.NewWatcher(cfg.CredentialDir, creds, log)
		if err != nil {
			return fmt.Errorf("build credential watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start credential watcher: %w", err)
		}
		defer watcher.Close()
	}

	registry := connector.NewRegistry()
	backendDialect := make(map[string]string, len(cfg.Backends))
	for name, b := range cfg.Backends {
		c, err := connector.Build(connector.Config{Backend: name, Dialect: b.Dialect, BaseURL: b.APIURL, Models: b.Models}, creds, log)
		if err != nil {
			return fmt.Errorf("build connector %q: %w", name, err)
		}
		registry.Add(name, c)
		backendDialect[name] = b.Dialect
	}

	limiter := ratelimit.New(cfg.RateLimit.Limit, int(cfg.RateLimit.Limit), ratelimit.ScopeByBackendKey)

	dispatcher := dispatch.NewDispatcher(registry, limiter, creds, log)

	sessions := session.NewStore()

	cmdRegistry := command.NewRegistry()
	command.RegisterBuiltins(cmdRegistry)
	engine := command.NewEngine(cmdRegistry)

	auditWriter, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	metricsReg := metrics.NewRegistry()

	jsonRepair := pipeline.JSONRepairConfig{
		Enabled:         cfg.JSONRepair.Enabled,
		StrictMode:      cfg.JSONRepair.StrictMode,
		BufferCapBytes:  cfg.JSONRepair.BufferCapBytes,
		CoercionEnabled: cfg.JSONRepair.CoercionEnabled,
		Schemas:         cfg.JSONRepair.Schemas,
	}
	gw := application.New(sessions, engine, creds, dispatcher, metricsReg, auditWriter, log, cfg.DefaultBackend, backendDialect, jsonRepair)

	server := gatewayhttp.NewServer(cfg, gw, creds, metricsReg, log)

	log.Info("llmgatewayd starting", zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)))
	return server.Start(ctx)
}
