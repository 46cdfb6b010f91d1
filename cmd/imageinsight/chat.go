package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"imageinsight/internal/bus"
	"imageinsight/internal/channel"
	"imageinsight/internal/dispatch"
	"imageinsight/internal/domain"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the terminal",
		Long:  "Starts a local REPL with the same routing as the Telegram bot. Use /photo <path> to send an image. No Telegram token is needed.",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig("Telegram.Token")
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

	var jr dispatch.Journal
	store, err := openJournal(cfg)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if store != nil {
		defer store.Close()
		jr = store
	}

	messageBus := bus.New(cfg.Dispatch.Buffer, logger)
	cli := channel.NewCLI(channel.CLIConfig{Logger: logger, Spinner: true})
	loop := c.dispatcher(cfg, messageBus, map[string]domain.MediaSource{cli.Name(): cli}, jr)

	return serveInteractive(ctx, cli, messageBus, loop)
}

type runner interface {
	Run(ctx context.Context) error
}

// serveInteractive runs ch in the foreground and loop in the background. When
// ch returns on its own (EOF or /quit) the bus is closed and loop finishes the
// queued events before returning; an interrupt cancels both at once.
func serveInteractive(ctx context.Context, ch domain.Channel, b domain.MessageBus, loop runner) error {
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	err := serveChannel(ctx, ch, b)
	b.Close()
	if runErr := <-done; runErr != nil && err == nil {
		err = runErr
	}
	return err
}
