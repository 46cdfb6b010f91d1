package main

import (
	"context"
	"fmt"
	"time"

	"imageinsight/internal/config"
	"imageinsight/internal/dispatch"
	"imageinsight/internal/domain"
	"imageinsight/internal/imagectx"
	"imageinsight/internal/journal"
	"imageinsight/internal/media"
	"imageinsight/internal/provider"
	"imageinsight/internal/router"
)

// core is everything between a channel and the backends.
type core struct {
	vision domain.VisionBackend
	chat   domain.ChatBackend
	router *router.Router
	saver  *media.Saver
}

func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	factory := provider.NewFactory(cfg, logger)
	vision, err := factory.Vision(ctx)
	if err != nil {
		return nil, fmt.Errorf("vision backend: %w", err)
	}
	chat, err := factory.Chat(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat backend: %w", err)
	}

	r := router.New(router.Config{
		Vision:              vision,
		Chat:                chat,
		Store:               imagectx.New(cfg.Context.Scope),
		SystemPrompt:        cfg.Chat.SystemPrompt,
		DescribeInstruction: cfg.Messages.DescribeInstruction,
		PhotoReply:          cfg.Messages.PhotoReply,
		Logger:              logger.With("component", "router"),
	})
	saver := media.NewSaver(media.SaverConfig{
		Dir:       cfg.Images.Dir,
		Extension: cfg.Images.Extension,
		PerChat:   cfg.Context.Scope == imagectx.ScopeChat,
	})
	return &core{vision: vision, chat: chat, router: r, saver: saver}, nil
}

func (c *core) dispatcher(cfg *config.Config, bus domain.MessageBus, sources map[string]domain.MediaSource, jr dispatch.Journal) *dispatch.Loop {
	return dispatch.New(dispatch.Config{
		Bus:    bus,
		Router: c.router,
		Saver:  c.saver,
		Media:  sources,
		Messages: dispatch.Messages{
			Welcome:    cfg.Messages.Welcome,
			Help:       cfg.Messages.Help,
			TextError:  cfg.Messages.TextError,
			PhotoError: cfg.Messages.PhotoError,
		},
		Timeout:     cfg.Backend.Timeout,
		Concurrency: cfg.Dispatch.Concurrency,
		Journal:     jr,
		Logger:      logger.With("component", "dispatch"),
	})
}

// serveChannel runs ch until it returns and then stops it.
func serveChannel(ctx context.Context, ch domain.Channel, b domain.MessageBus) error {
	defer func() {
		if err := ch.Stop(); err != nil {
			logger.Warn("channel stop", "channel", ch.Name(), "err", err)
		}
	}()
	return ch.Start(ctx, b)
}

// backends returns the configured backends keyed by role.
func (c *core) backends() map[string]domain.Backend {
	return map[string]domain.Backend{"vision": c.vision, "chat": c.chat}
}

// checkBackends logs the health of both backends. Startup continues either
// way; a backend may come up later.
func (c *core) checkBackends(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	backends := c.backends()
	for role, err := range provider.CheckHealth(ctx, backends) {
		if err != nil {
			logger.Warn("backend unhealthy at startup", "role", role, "backend", backends[role].Name(), "err", err)
			continue
		}
		logger.Info("backend healthy", "role", role, "backend", backends[role].Name())
	}
}

// openJournal returns the journal store, or nil when the journal is disabled.
func openJournal(cfg *config.Config) (*journal.Store, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	return journal.Open(cfg.Journal.DBPath, logger)
}

func newPruner(cfg *config.Config, store *journal.Store) (*journal.Pruner, error) {
	return journal.NewPruner(store, journal.PrunerConfig{
		Schedule:      cfg.Journal.PruneSchedule,
		RetentionDays: cfg.Journal.RetentionDays,
		Logger:        logger,
	})
}
