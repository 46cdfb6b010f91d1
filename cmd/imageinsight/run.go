package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imageinsight/internal/bus"
	"imageinsight/internal/channel"
	"imageinsight/internal/config"
	"imageinsight/internal/dispatch"
	"imageinsight/internal/domain"
	"imageinsight/internal/metrics"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the Telegram bot",
		Long:  "Connects to Telegram with TELEGRAM_API_TOKEN and serves until interrupted. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	c.checkBackends(ctx)

	messageBus := bus.New(cfg.Dispatch.Buffer, logger)
	defer messageBus.Close()

	var jr dispatch.Journal
	store, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if store != nil {
		defer store.Close()
		jr = store
		pruner, err := newPruner(cfg, store)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		pruner.Start()
		defer func() {
			if err := pruner.Stop(); err != nil {
				logger.Warn("journal pruner stop", "err", err)
			}
		}()
	}

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:       cfg.Telegram.Token,
		ParseMode:   cfg.Telegram.ParseMode,
		PollTimeout: cfg.Telegram.PollTimeout,
		Logger:      logger.With("channel", "telegram"),
	})
	loop := c.dispatcher(cfg, messageBus, map[string]domain.MediaSource{tg.Name(): tg}, jr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveChannel(gctx, tg, messageBus) })
	g.Go(func() error { return loop.Run(gctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics) })
	}

	logger.Info("imageinsight started. Press Ctrl+C to stop.",
		"version", version,
		"vision", c.vision.Name(),
		"chat", c.chat.Name(),
		"scope", cfg.Context.Scope,
	)

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Collector.Handler())
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", cfg.Addr, "path", cfg.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
