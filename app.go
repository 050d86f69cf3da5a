package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"project-downlink/internal/analytics"
	"project-downlink/internal/api"
	"project-downlink/internal/config"
	"project-downlink/internal/engine"
	"project-downlink/internal/filesystem"
	"project-downlink/internal/logger"
	"project-downlink/internal/notify"
	"project-downlink/internal/registry"
	"project-downlink/internal/security"
	"project-downlink/internal/storage"
	"project-downlink/internal/transport/httpsession"
)

// App owns every long-lived component of the daemon.
type App struct {
	cfg       config.File
	logger    *slog.Logger
	logCloser io.Closer
	store     *storage.Storage
	settings  *config.ConfigManager
	audit     *security.AuditLogger
	notifier  *notify.LogNotifier
	session   *httpsession.Session
	manager   *engine.Manager
	hub       *api.Hub
	server    *api.ControlServer
}

// notifications posts a user notification for downloads that end while the
// daemon is unattended.
type notifications struct {
	engine.BaseObserver
	notifier notify.Notifier
}

func (notifications) OnProgressUpdated(registry.Model) {}

func (n notifications) OnInterruptedTasksPopulated(m registry.Model) {
	n.notifier.PostIfBackgrounded("Download interrupted", m.Name)
}

func (n notifications) OnFinished(m registry.Model) {
	n.notifier.PostIfBackgrounded("Download finished", m.Name)
}

func (n notifications) OnFailed(m registry.Model, err error) {
	n.notifier.PostIfBackgrounded("Download failed", fmt.Sprintf("%s: %v", m.Name, err))
}

// NewApp builds the component graph in dependency order. On error everything
// already opened is closed.
func NewApp(ctx context.Context, cfg config.File) (a *App, err error) {
	a = &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.shutdown()
		}
	}()

	a.logger, a.logCloser, err = logger.New(filepath.Join(cfg.DataDir, "logs"), os.Stdout, logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		return nil, err
	}

	a.store, err = storage.NewStorage(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.settings = config.NewConfigManager(a.store)

	a.audit, err = security.NewAuditLogger(filepath.Join(cfg.DataDir, "logs"), a.logger)
	if err != nil {
		return nil, err
	}

	// headless: there is no foreground window
	a.notifier = notify.NewLogNotifier(a.logger)
	a.notifier.SetBackground(true)

	a.session, err = httpsession.Open(httpsession.Options{
		SessionID:     cfg.SessionID,
		TempDir:       cfg.TempDir,
		Storage:       a.store,
		Settings:      a.settings,
		Allocator:     filesystem.NewAllocator(),
		Logger:        a.logger,
		MaxConcurrent: cfg.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open transfer session: %w", err)
	}

	a.hub = api.NewHub(a.logger)
	a.audit.SetSink(a.hub.EmitAudit)
	stats := analytics.NewStatsManager(a.store, cfg.DefaultDestination, a.logger)

	observer := engine.Multi(stats, api.NewEvents(a.hub), notifications{notifier: a.notifier})
	a.manager, err = engine.New(a.session, observer,
		engine.WithContext(ctx),
		engine.WithLogger(a.logger),
		engine.WithTempDir(cfg.TempDir),
		engine.WithDefaultDestination(cfg.DefaultDestination),
		engine.WithNotifier(a.notifier),
		engine.WithDrainHandler(func() {
			a.logger.Info("Background transfer events delivered")
			// may run before New returns, so a.manager is not used here
			a.notifier.PostIfBackgrounded("Downloads", "Background transfers are up to date")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start download manager: %w", err)
	}

	a.server = api.NewControlServer(api.Options{
		Downloads: a.manager,
		Settings:  a.settings,
		Stats:     stats,
		Audit:     a.audit,
		Hub:       a.hub,
		Logger:    a.logger,
	})
	return a, nil
}

// Run serves until ctx is cancelled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start(ctx, a.cfg.APIPort) }()

	a.logger.Info("Downlink running", "data_dir", a.cfg.DataDir, "session", a.cfg.SessionID, "api_enabled", a.settings.GetEnableAPI())

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			return err
		}
		// API disabled; keep transferring until told to stop
		<-ctx.Done()
		a.logger.Info("Shutting down")
		return nil
	}
}

// shutdown closes components in reverse dependency order. The session is
// closed after the manager so in-flight callbacks still find a registry.
func (a *App) shutdown() {
	if a.manager != nil {
		a.manager.Close()
	}
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Error("Failed to close transfer session", "error", err)
		}
	}
	if a.audit != nil {
		a.audit.Close()
	}
	if a.store != nil {
		if err := a.store.Checkpoint(); err != nil {
			a.logger.Warn("WAL checkpoint failed", "error", err)
		}
		if err := a.store.Close(); err != nil {
			a.logger.Error("Failed to close storage", "error", err)
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}
