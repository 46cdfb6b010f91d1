package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"imageinsight/internal/config"
	"imageinsight/internal/domain"
)

const cliChatID = "direct"

// CLI implements domain.Channel for interactive terminal use. Local image
// files stand in for Telegram photos: "/photo <path>" submits one, and
// OpenMedia reads it back from disk.
type CLI struct {
	bus     domain.MessageBus
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	spinner bool
	nextID  int

	outMu     sync.Mutex
	thinking  bool
	thinkStop chan struct{}
}

type CLIConfig struct {
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	Spinner bool
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL and blocks until EOF, /quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound(c.Name(), func(msg domain.OutboundMessage) {
		if err := c.Send(ctx, msg.ChatID, msg.Content); err != nil {
			c.logger.Error("cli outbound", "err", err)
		}
	})

	c.print("ImageInsight CLI. Type a question, /photo <path> to send an image, /quit to exit.\nYou> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.print("You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		ev, err := c.parse(line)
		if err != nil {
			c.print(err.Error() + "\nYou> ")
			continue
		}
		if ev.Kind != domain.KindCommand {
			c.startThinking()
		}
		c.bus.Publish(ev)
	}
}

// parse turns one input line into an event.
func (c *CLI) parse(line string) (domain.InboundEvent, error) {
	c.nextID++
	ev := domain.InboundEvent{
		Channel:   c.Name(),
		ChatID:    cliChatID,
		MessageID: c.nextID,
		SenderID:  "user",
		Timestamp: time.Now(),
	}

	if !strings.HasPrefix(line, "/") {
		ev.Kind = domain.KindText
		ev.Text = line
		return ev, nil
	}

	name, args, _ := strings.Cut(line[1:], " ")
	args = strings.TrimSpace(args)
	if name == "photo" {
		if args == "" {
			return domain.InboundEvent{}, fmt.Errorf("usage: /photo <path>")
		}
		ev.Kind = domain.KindPhoto
		ev.Photo = &domain.PhotoRef{FileID: config.ExpandPath(args)}
		return ev, nil
	}
	ev.Kind = domain.KindCommand
	ev.Command = name
	ev.Text = args
	return ev, nil
}

// OpenMedia opens a local file named by a /photo command.
func (c *CLI) OpenMedia(ctx context.Context, fileID string) (io.ReadCloser, error) {
	f, err := os.Open(fileID)
	if err != nil {
		return nil, fmt.Errorf("open local image: %w", err)
	}
	return f, nil
}

func (c *CLI) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprint(c.out, s)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	stop := make(chan struct{})
	c.thinkStop = stop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.outMu.Lock()
				_, _ = fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				c.outMu.Unlock()
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

// Send prints a reply and the next prompt. There is only one chat, so chatID
// is ignored.
func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	c.stopThinking()
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.spinner {
		_, _ = fmt.Fprint(c.out, "\r\033[K")
	}
	_, err := fmt.Fprintf(c.out, "--- ImageInsight ---\n%s\n--------------------\nYou> ", content)
	return err
}
