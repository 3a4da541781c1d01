package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"readinghabits/internal/bot"
	"readinghabits/internal/config"
	"readinghabits/internal/httpapi"
	"readinghabits/internal/metrics"
	"readinghabits/internal/models"
	"readinghabits/internal/reconcile"
	"readinghabits/internal/storage"
	"readinghabits/internal/storage/ch"
	"readinghabits/internal/storage/kv"
	"readinghabits/internal/storage/sqlite"
	"readinghabits/internal/storage/stubs"
)

// App represents the application
type App struct {
	config   *config.Config
	logger   *zap.Logger
	store    *storage.Persistence
	registry *reconcile.Registry
	bot      *bot.Bot
	handler  http.Handler
	server   *http.Server

	// ctx scopes bot update handling; cancelled on shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// New loads configuration and creates a new application instance
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates and initializes a new application instance
func NewWithConfig(cfg *config.Config) (*App, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{config: cfg, logger: logger}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	logger.Info("Starting reading habits tracker",
		zap.String("local_store", cfg.LocalStore),
		zap.String("remote_store", cfg.RemoteStore),
		zap.Bool("bot_enabled", cfg.BotEnabled()),
	)

	metrics.Register()

	if err := app.initStorage(); err != nil {
		app.cancel()
		return nil, err
	}

	app.registry = reconcile.NewRegistry(app.store, logger,
		reconcile.WithDefaultTargets(models.Targets{
			Yearly:  cfg.DefaultYearlyGoal,
			Monthly: cfg.DefaultMonthlyGoal,
		}),
	)

	if cfg.BotEnabled() {
		if err := app.initBot(); err != nil {
			app.cancel()
			app.store.Close()
			return nil, err
		}
	}

	app.initHTTPServer()
	return app, nil
}

// NewLogger builds the process logger. Format "console" selects the
// development encoder; anything else logs JSON.
func NewLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}

	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = atomicLevel

	return cfg.Build()
}

// initStorage opens the local and remote stores and initializes their schema
func (a *App) initStorage() error {
	local, err := openLocal(a.config)
	if err != nil {
		return err
	}
	remote, err := openRemote(a.config)
	if err != nil {
		local.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores := []storage.Store{local}
	if remote != nil {
		stores = append(stores, remote)
	}
	for _, s := range stores {
		if err := s.Initialize(ctx); err != nil {
			local.Close()
			if remote != nil {
				remote.Close()
			}
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
	}
	a.logger.Info("Storage initialized successfully")

	a.store = storage.NewPersistence(local, remote, a.logger)
	return nil
}

func openLocal(cfg *config.Config) (storage.Store, error) {
	switch cfg.LocalStore {
	case config.LocalStoreMemory:
		return stubs.NewMockStore(), nil
	case config.LocalStoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.LocalStorePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := sqlite.NewStore(cfg.LocalStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		return store, nil
	default:
		store, err := kv.NewStore(cfg.LocalStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		return store, nil
	}
}

// openRemote returns a nil Store when no remote tier is configured
func openRemote(cfg *config.Config) (storage.Store, error) {
	switch cfg.RemoteStore {
	case config.RemoteStoreMemory:
		return stubs.NewMockStore(), nil
	case config.RemoteStoreClickHouse:
		store, err := ch.NewStore(
			cfg.ClickHouseHost,
			cfg.ClickHousePort,
			cfg.ClickHouseDatabase,
			cfg.ClickHouseUser,
			cfg.ClickHousePassword,
			cfg.ClickHouseUseTLS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

// initBot initializes the Telegram bot
func (a *App) initBot() error {
	telegramBot, err := bot.NewBot(a.config.TelegramToken, a.registry, a.config.AllowedUserIDs, a.logger,
		bot.WithMaxUploadBytes(a.config.MaxUploadBytes),
	)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.logger.Info("Bot created successfully", zap.Int64s("allowed_users", a.config.AllowedUserIDs))

	a.bot = telegramBot
	return nil
}

// initHTTPServer initializes the API server and, in webhook mode, the
// Telegram update endpoint
func (a *App) initHTTPServer() {
	api := httpapi.NewServer(a.registry, a.logger,
		httpapi.WithTelegramAuth(a.config.TelegramToken, a.config.AllowedUserIDs),
		httpapi.WithMaxUploadBytes(a.config.MaxUploadBytes),
	)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	if a.bot != nil && a.config.WebhookMode {
		a.bot.RegisterWebhook(a.ctx, mux)
	}
	a.handler = api.RequestLogging(mux)

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      a.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Handler returns the HTTP handler serving the API
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts the HTTP server and the bot, and blocks until ctx is done
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("port", a.config.Port))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if a.bot != nil {
		if a.config.WebhookMode {
			a.logger.Info("Starting bot in webhook mode", zap.String("webhook_url", a.config.WebhookURL))
			if err := a.bot.StartWebhook(a.config.WebhookURL); err != nil {
				a.Shutdown()
				return fmt.Errorf("failed to setup webhook: %w", err)
			}
		} else {
			go func() {
				if err := a.bot.Start(a.ctx); err != nil {
					a.logger.Error("Bot stopped", zap.Error(err))
				}
			}()
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case err := <-serverErr:
		a.logger.Error("HTTP server error", zap.Error(err))
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	a.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("Error closing storage", zap.Error(err))
		return fmt.Errorf("failed to close storage: %w", err)
	}

	a.logger.Info("Shutdown complete")
	a.logger.Sync()
	return nil
}
