package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/strrl/chatdeck/internal/bridge"
	"github.com/strrl/chatdeck/internal/config"
	"github.com/strrl/chatdeck/internal/db"
	"github.com/strrl/chatdeck/internal/engine"
	"github.com/strrl/chatdeck/internal/logging"
	"github.com/strrl/chatdeck/internal/persist"
	"github.com/strrl/chatdeck/internal/provider"
	"github.com/strrl/chatdeck/internal/sessions"
	"github.com/strrl/chatdeck/pkg/models"
)

// app holds the wired components for one command invocation
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	adapter *persist.Adapter

	// set by openChat only
	store    *sessions.Store
	writer   *persist.Writer
	provider provider.Provider
	bridge   *bridge.Bridge

	closeOnce sync.Once
	closeErr  error
}

// openStorage loads configuration and opens the persistence slot. Commands
// that only read saved chats stop here.
func openStorage(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	opts.apply(cfg)

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = logging.DefaultFile()
	}
	level := cfg.Log.Level
	if opts.debug {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:       level,
		Development: opts.debug,
		File:        logFile,
	})
	if err != nil {
		return nil, err
	}

	slot, err := persist.OpenSlot(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Backend, err)
	}

	logger.Debug("storage opened",
		zap.String("slot", slot.Describe()),
		zap.String("provider", cfg.Provider))

	return &app{
		cfg:     cfg,
		logger:  logger,
		adapter: persist.NewAdapter(slot, logger),
	}, nil
}

// openChat wires the full chat stack: store, background writer, provider,
// engine and bridge. The bridge is not started.
func openChat(opts *rootOptions) (*app, error) {
	a, err := openStorage(opts)
	if err != nil {
		return nil, err
	}

	pc := a.cfg.GetProviderConfig(a.cfg.Provider)
	model := a.cfg.Model
	if model == "" {
		model = pc.Model
	}
	p, err := provider.New(a.cfg.Provider, provider.Settings{
		APIKey:  pc.APIKey,
		BaseURL: pc.BaseURL,
		Model:   model,
		HTTP: provider.HTTPOptions{
			MaxRetries:        pc.MaxRetries,
			RequestsPerSecond: pc.RequestsPerSecond,
			Logger:            a.logger.Named("http"),
		},
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.provider = p

	a.store = sessions.NewStore(sessions.WithLogger(a.logger))
	a.writer = persist.NewWriter(a.adapter, a.store, persist.WithWriterLogger(a.logger))
	a.store.OnChange(a.writer.Observe)
	a.writer.Start()

	eng := engine.New(p,
		engine.WithModel(model),
		engine.WithSystemPrompt(a.cfg.SystemPrompt),
		engine.WithMaxTokens(a.cfg.MaxTokens),
		engine.WithLogger(a.logger))
	a.bridge = bridge.New(a.store, eng, a.adapter, bridge.WithLogger(a.logger))

	return a, nil
}

// load returns the saved collection without starting a chat
func (a *app) load(ctx context.Context) (models.Collection, error) {
	return a.adapter.Load(ctx)
}

// title describes the provider for the chat header
func (a *app) title() string {
	if a.provider == nil {
		return a.cfg.Provider
	}
	model := a.cfg.Model
	if model == "" {
		model = a.provider.DefaultModel()
	}
	return a.provider.Name() + "/" + model
}

// Close stops streaming, writes pending changes and releases storage.
// Later calls return the first result.
func (a *app) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close()
	})
	return a.closeErr
}

func (a *app) close() error {
	var errs []error
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to save chats: %w", err))
		}
	}
	if closer, ok := a.adapter.Slot().(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := db.CloseAll(); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
