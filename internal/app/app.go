// Package app assembles clicktrail's components from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/foxzi/clicktrail/internal/auth"
	"github.com/foxzi/clicktrail/internal/compose"
	"github.com/foxzi/clicktrail/internal/config"
	"github.com/foxzi/clicktrail/internal/db"
	"github.com/foxzi/clicktrail/internal/dkim"
	"github.com/foxzi/clicktrail/internal/metrics"
	"github.com/foxzi/clicktrail/internal/repository"
	"github.com/foxzi/clicktrail/internal/rewrite"
	"github.com/foxzi/clicktrail/internal/sandbox"
	"github.com/foxzi/clicktrail/internal/server"
	"github.com/foxzi/clicktrail/internal/signature"
	"github.com/foxzi/clicktrail/internal/tracking"
	"github.com/foxzi/clicktrail/internal/transport"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *db.DB
	metrics       *metrics.Metrics
	server        *server.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	composer      *compose.Composer
	rewriter      *rewrite.Rewriter
	sandbox       *sandbox.Storage
	logger        *slog.Logger
}

// New creates a new application. The database is migrated on open.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		config: cfg,
		logger: logger,
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.db = database

	if err := database.Migrate(); err != nil {
		a.Close()
		return nil, err
	}

	signer, err := signature.New(cfg.Tracking.Secret)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.rewriter = rewrite.New(signer, rewrite.Options{
		BaseURL:         cfg.Tracking.BaseURL,
		ClickPath:       cfg.Tracking.ClickPath,
		UnsubscribePath: cfg.Tracking.UnsubscribePath,
	})

	sender, err := a.newSender()
	if err != nil {
		a.Close()
		return nil, err
	}

	recipients := repository.NewRecipientRepository(database.DB)
	contacts := repository.NewContactRepository(database.DB)
	emails := repository.NewEmailRepository(database.DB)
	events := repository.NewEventRepository(database.DB)

	a.composer = compose.New(emails, contacts, recipients, a.rewriter, sender, compose.Options{
		DefaultFrom:      cfg.Mail.DefaultFrom,
		UnsubscribeLabel: cfg.Tracking.UnsubscribeLabel,
	}, a.metrics, logger)

	service := tracking.NewService(signer, recipients, contacts, a.metrics, logger)

	tokens := make([]auth.Token, 0, len(cfg.API.Tokens))
	for _, t := range cfg.API.Tokens {
		tokens = append(tokens, auth.Token{OwnerID: t.OwnerID, Hash: t.TokenHash})
	}

	opts := server.Options{
		ListenAddr:      cfg.Server.ListenAddr,
		ClickPath:       cfg.Tracking.ClickPath,
		UnsubscribePath: cfg.Tracking.UnsubscribePath,
		TrustProxy:      cfg.Server.TrustProxy,
	}
	if cfg.Server.TLS.Enabled {
		opts.CertFile = cfg.Server.TLS.CertFile
		opts.KeyFile = cfg.Server.TLS.KeyFile
	}

	a.server = server.New(opts, server.Deps{
		Tracking:   tracking.NewHandler(service, a.metrics, logger),
		Auth:       auth.New(tokens, logger),
		Composer:   a.composer,
		Recipients: recipients,
		Events:     events,
		Metrics:    a.metrics,
	}, logger)

	if a.metrics != nil {
		a.metricsServer = metrics.NewServer(a.metrics, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger)
		a.collector = metrics.NewCollector(a.metrics, cfg.Database.Path, 15*time.Second)
	}

	return a, nil
}

// newSender returns the relay or the sandbox capture, DKIM-signing either
// when configured.
func (a *App) newSender() (transport.Sender, error) {
	mail := a.config.Mail

	var signer transport.Signer
	if mail.DKIM.Enabled {
		key, err := dkim.Load(mail.DKIM)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		signer = key.Signer()
		a.logger.Info("DKIM signing enabled", "domain", mail.DKIM.Domain, "selector", mail.DKIM.Selector)
	}

	if mail.Mode == config.ModeSandbox {
		storage, err := sandbox.Open(mail.Sandbox.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sandbox storage: %w", err)
		}
		a.sandbox = storage
		a.logger.Info("sandbox mode enabled, messages are captured", "path", mail.Sandbox.Path)
		return sandbox.NewSender(storage, signer, a.logger), nil
	}

	return transport.NewRelay(transport.RelayConfig{
		Host:     mail.SMTP.Host,
		Port:     mail.SMTP.Port,
		Username: mail.SMTP.Username,
		Password: mail.SMTP.Password,
		TLS:      mail.SMTP.TLS,
		Hello:    mail.SMTP.Hello,
		Timeout:  mail.SMTP.Timeout,
	}, signer, a.logger), nil
}

// Composer returns the test-send composer
func (a *App) Composer() *compose.Composer {
	return a.composer
}

// Rewriter returns the link rewriter
func (a *App) Rewriter() *rewrite.Rewriter {
	return a.rewriter
}

// Run starts all listeners and blocks until a signal or a listener error
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting clicktrail",
		"http_addr", a.config.Server.ListenAddr,
		"mail_mode", a.config.Mail.Mode,
		"metrics", a.metrics != nil,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.server.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	if a.metricsServer != nil {
		a.collector.Start(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.metricsServer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	// Listeners shut down gracefully once ctx is cancelled
	wg.Wait()
	if a.collector != nil {
		a.collector.Stop()
	}

	a.Close()
	a.logger.Info("shutdown complete")
	return runErr
}

// Close releases the database and sandbox storage
func (a *App) Close() {
	if a.sandbox != nil {
		if err := a.sandbox.Close(); err != nil {
			a.logger.Error("sandbox close error", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("database close error", "error", err)
		}
	}
}

// NewLogger creates a logger based on configuration
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLogLevel(cfg.Level),
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLogLevel maps a config level name to slog.Level, defaulting to info
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
