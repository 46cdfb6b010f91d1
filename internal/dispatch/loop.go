// Package dispatch consumes inbound events from the bus, routes them, and
// sends the reply back. Every event is handled behind its own error barrier:
// a failing or panicking handler produces an apology, never a crash.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"imageinsight/internal/domain"
	"imageinsight/internal/journal"
	"imageinsight/internal/metrics"
	"imageinsight/internal/router"
)

const (
	defaultConcurrency = 1
	defaultTimeout     = 120 * time.Second
	journalTimeout     = 5 * time.Second
)

var errNoPhoto = errors.New("photo event without photo")

// Router is the routing core.
type Router interface {
	RouteText(ctx context.Context, chatID, message string) (router.Reply, error)
	RoutePhoto(ctx context.Context, chatID, savedPath string) (router.Reply, error)
}

// Saver stores an incoming photo and returns its path.
type Saver interface {
	Save(ctx context.Context, src domain.MediaSource, chatID string, messageID int, fileID string) (string, error)
}

// Journal records handled events.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Messages are the fixed replies that do not come from a backend.
type Messages struct {
	Welcome    string
	Help       string
	TextError  string
	PhotoError string
}

// Loop is the dispatcher.
type Loop struct {
	bus         domain.MessageBus
	router      Router
	saver       Saver
	media       map[string]domain.MediaSource
	messages    Messages
	timeout     time.Duration
	concurrency int
	journal     Journal
	logger      *slog.Logger
}

type Config struct {
	Bus         domain.MessageBus
	Router      Router
	Saver       Saver
	Media       map[string]domain.MediaSource // keyed by channel name
	Messages    Messages
	Timeout     time.Duration // per event
	Concurrency int           // 1 handles events strictly in arrival order
	Journal     Journal       // optional
	Logger      *slog.Logger
}

func New(cfg Config) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Media == nil {
		cfg.Media = map[string]domain.MediaSource{}
	}
	return &Loop{
		bus:         cfg.Bus,
		router:      cfg.Router,
		saver:       cfg.Saver,
		media:       cfg.Media,
		messages:    cfg.Messages,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		journal:     cfg.Journal,
		logger:      cfg.Logger,
	}
}

// Outcome describes how one event was handled.
type Outcome struct {
	EventID string
	Reply   string // empty when nothing is sent back
	Route   router.Route
	Status  string
	Err     error
	Latency time.Duration
}

// Run consumes events until ctx is cancelled or the bus is closed, then
// waits for handlers still running.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("dispatcher started", "concurrency", l.concurrency, "timeout", l.timeout)

	sem := make(chan struct{}, l.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("dispatcher stopping")
			return nil
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, dispatcher stopping")
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func(ev domain.InboundEvent) {
				defer wg.Done()
				defer func() { <-sem }()
				out := l.Handle(ctx, ev)
				if out.Reply != "" {
					l.bus.SendOutbound(domain.OutboundMessage{
						Channel: ev.Channel,
						ChatID:  ev.ChatID,
						Content: out.Reply,
					})
				}
			}(ev)
		}
	}
}

// Handle processes one event synchronously. It never panics and never
// returns without an Outcome.
func (l *Loop) Handle(ctx context.Context, ev domain.InboundEvent) (out Outcome) {
	out.EventID = uuid.NewString()
	start := time.Now()
	log := l.logger.With(
		"event", out.EventID,
		"channel", ev.Channel,
		"chat", ev.ChatID,
		"message", ev.MessageID,
		"kind", string(ev.Kind),
	)

	metrics.Events(string(ev.Kind)).Inc()
	metrics.InFlight.Inc()

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
			log.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
		if out.Err != nil {
			out.Status = journal.StatusFailed
			out.Reply = l.apology(ev.Kind)
			metrics.Failures(string(ev.Kind)).Inc()
			log.Error("event failed", "route", string(out.Route), "err", out.Err)
		}
		out.Latency = time.Since(start)
		metrics.InFlight.Dec()
		l.record(ev, out, log)
	}()

	switch ev.Kind {
	case domain.KindCommand:
		out.Reply, out.Status = l.command(ev.Command)
		log.Debug("command handled", "command", ev.Command, "status", out.Status)
		return out
	case domain.KindText:
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		reply, err := l.router.RouteText(ctx, ev.ChatID, ev.Text)
		l.finish(&out, reply, err, start, log)
		return out
	case domain.KindPhoto:
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		path, err := l.savePhoto(ctx, ev)
		if err != nil {
			out.Route = router.RouteDescribe
			out.Err = fmt.Errorf("save photo: %w", err)
			return out
		}
		log.Debug("photo saved", "path", path)
		reply, err := l.router.RoutePhoto(ctx, ev.ChatID, path)
		l.finish(&out, reply, err, start, log)
		return out
	default:
		out.Status = journal.StatusIgnored
		log.Warn("unknown event kind")
		return out
	}
}

func (l *Loop) finish(out *Outcome, reply router.Reply, err error, start time.Time, log *slog.Logger) {
	out.Route = reply.Route
	if reply.Route != "" {
		metrics.BackendLatency(string(reply.Route)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		out.Err = err
		return
	}
	metrics.Routes(string(reply.Route)).Inc()
	out.Reply = reply.Text
	out.Status = journal.StatusOK
	log.Info("event handled", "route", string(reply.Route), "reply_len", len(reply.Text))
}

// command answers /start and /help. Anything else gets no reply.
func (l *Loop) command(name string) (string, string) {
	switch name {
	case "start":
		return l.messages.Welcome, journal.StatusOK
	case "help":
		return l.messages.Help, journal.StatusOK
	default:
		return "", journal.StatusIgnored
	}
}

func (l *Loop) savePhoto(ctx context.Context, ev domain.InboundEvent) (string, error) {
	if ev.Photo == nil || ev.Photo.FileID == "" {
		return "", errNoPhoto
	}
	src, ok := l.media[ev.Channel]
	if !ok {
		return "", fmt.Errorf("channel %q cannot fetch media", ev.Channel)
	}
	if l.saver == nil {
		return "", fmt.Errorf("no media saver configured")
	}
	return l.saver.Save(ctx, src, ev.ChatID, ev.MessageID, ev.Photo.FileID)
}

func (l *Loop) apology(kind domain.EventKind) string {
	if kind == domain.KindPhoto {
		return l.messages.PhotoError
	}
	return l.messages.TextError
}

func (l *Loop) record(ev domain.InboundEvent, out Outcome, log *slog.Logger) {
	if l.journal == nil {
		return
	}
	e := journal.Entry{
		ID:        out.EventID,
		Channel:   ev.Channel,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		Kind:      string(ev.Kind),
		Route:     string(out.Route),
		Status:    out.Status,
		Latency:   out.Latency,
	}
	if out.Err != nil {
		e.Error = out.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := l.journal.Record(ctx, e); err != nil {
		log.Warn("journal write failed", "err", err)
	}
}
