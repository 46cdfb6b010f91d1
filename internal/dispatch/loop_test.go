package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"imageinsight/internal/bus"
	"imageinsight/internal/domain"
	"imageinsight/internal/imagectx"
	"imageinsight/internal/journal"
	"imageinsight/internal/media"
	"imageinsight/internal/router"
)

type fakeVision struct {
	mu    sync.Mutex
	calls []domain.VisionRequest
	reply func(req domain.VisionRequest) (string, error)
}

func (f *fakeVision) Name() string                      { return "fake-vision" }
func (f *fakeVision) Healthy(ctx context.Context) error { return nil }

func (f *fakeVision) Describe(ctx context.Context, req domain.VisionRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.reply(req)
}

type fakeChat struct {
	mu    sync.Mutex
	calls []domain.ChatRequest
	err   error
}

func (f *fakeChat) Name() string                      { return "fake-chat" }
func (f *fakeChat) Healthy(ctx context.Context) error { return nil }

func (f *fakeChat) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "chat: " + req.UserMessage, nil
}

type memMedia map[string]string

func (m memMedia) OpenMedia(ctx context.Context, fileID string) (io.ReadCloser, error) {
	data, ok := m[fileID]
	if !ok {
		return nil, errors.New("unknown file")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *memJournal) Record(ctx context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

var testMessages = Messages{
	Welcome:    "welcome",
	Help:       "help text",
	TextError:  "Sorry, I encountered an error processing your message.",
	PhotoError: "Sorry, I encountered an error processing your image.",
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	loop    *Loop
	vision  *fakeVision
	chat    *fakeChat
	store   imagectx.Store
	journal *memJournal
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		vision: &fakeVision{reply: func(req domain.VisionRequest) (string, error) {
			return "described " + filepath.Base(req.ImagePath), nil
		}},
		chat:    &fakeChat{},
		store:   imagectx.New(imagectx.ScopeGlobal),
		journal: &memJournal{},
		dir:     t.TempDir(),
	}
	r := router.New(router.Config{Vision: h.vision, Chat: h.chat, Store: h.store, Logger: testLogger()})
	h.loop = New(Config{
		Router:   r,
		Saver:    media.NewSaver(media.SaverConfig{Dir: h.dir}),
		Media:    map[string]domain.MediaSource{"telegram": memMedia{"f1": "first", "f2": "second"}},
		Messages: testMessages,
		Timeout:  5 * time.Second,
		Journal:  h.journal,
		Logger:   testLogger(),
	})
	return h
}

func textEvent(id int, text string) domain.InboundEvent {
	return domain.InboundEvent{Kind: domain.KindText, Channel: "telegram", ChatID: "7", MessageID: id, Text: text}
}

func photoEvent(id int, fileID string) domain.InboundEvent {
	return domain.InboundEvent{Kind: domain.KindPhoto, Channel: "telegram", ChatID: "7", MessageID: id, Photo: &domain.PhotoRef{FileID: fileID}}
}

func TestHandle_Scenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.loop.Handle(ctx, domain.InboundEvent{Kind: domain.KindCommand, Channel: "telegram", ChatID: "7", Command: "start"})
	if out.Reply != "welcome" {
		t.Fatalf("start reply = %q", out.Reply)
	}

	out = h.loop.Handle(ctx, textEvent(2, "What is the capital of France?"))
	if out.Route != router.RouteChat || out.Reply != "chat: What is the capital of France?" {
		t.Fatalf("unexpected text outcome %+v", out)
	}
	if len(h.vision.calls) != 0 {
		t.Fatal("vision must not be called before any photo")
	}

	out = h.loop.Handle(ctx, photoEvent(3, "f1"))
	if out.Err != nil || out.Route != router.RouteDescribe {
		t.Fatalf("photo failed: %+v", out)
	}
	if !strings.Contains(out.Reply, "described 3.jpg") {
		t.Fatalf("description not in reply: %q", out.Reply)
	}
	saved := filepath.Join(h.dir, "3.jpg")
	if p, ok := h.store.Get("7"); !ok || p != saved {
		t.Fatalf("store = %q, %v; want %s", p, ok, saved)
	}

	out = h.loop.Handle(ctx, textEvent(4, "What color is the object?"))
	if out.Route != router.RouteVision {
		t.Fatalf("expected vision route, got %+v", out)
	}
	last := h.vision.calls[len(h.vision.calls)-1]
	if last.Instruction != "What color is the object?" || last.ImagePath != saved {
		t.Fatalf("vision called with %+v", last)
	}
	if len(h.chat.calls) != 1 {
		t.Fatalf("chat backend called %d times, want 1", len(h.chat.calls))
	}

	if len(h.journal.entries) != 4 {
		t.Fatalf("journal has %d entries, want 4", len(h.journal.entries))
	}
	for _, e := range h.journal.entries {
		if e.Status != journal.StatusOK || e.ID == "" {
			t.Fatalf("unexpected journal entry %+v", e)
		}
	}
}

func TestHandle_UnknownCommandIgnored(t *testing.T) {
	h := newHarness(t)
	out := h.loop.Handle(context.Background(), domain.InboundEvent{Kind: domain.KindCommand, Channel: "telegram", ChatID: "7", Command: "reset"})
	if out.Reply != "" || out.Status != journal.StatusIgnored {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(h.chat.calls)+len(h.vision.calls) != 0 {
		t.Fatal("commands must not reach a backend")
	}
}

func TestHandle_HelpCommand(t *testing.T) {
	h := newHarness(t)
	out := h.loop.Handle(context.Background(), domain.InboundEvent{Kind: domain.KindCommand, Channel: "telegram", ChatID: "7", Command: "help"})
	if out.Reply != "help text" {
		t.Fatalf("help reply = %q", out.Reply)
	}
}

func TestHandle_ChatErrorApologizes(t *testing.T) {
	h := newHarness(t)
	h.chat.err = errors.New("503 from upstream")

	out := h.loop.Handle(context.Background(), textEvent(1, "hello"))
	if out.Reply != testMessages.TextError {
		t.Fatalf("reply = %q, want apology", out.Reply)
	}
	if out.Status != journal.StatusFailed || out.Err == nil {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !strings.Contains(h.journal.entries[0].Error, "503") {
		t.Fatalf("journal error = %q", h.journal.entries[0].Error)
	}
}

func TestHandle_DescribeFailureKeepsStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if out := h.loop.Handle(ctx, photoEvent(1, "f1")); out.Err != nil {
		t.Fatal(out.Err)
	}
	first, _ := h.store.Get("7")

	h.vision.reply = func(domain.VisionRequest) (string, error) { return "", errors.New("model crashed") }
	out := h.loop.Handle(ctx, photoEvent(2, "f2"))
	if out.Reply != testMessages.PhotoError {
		t.Fatalf("reply = %q, want photo apology", out.Reply)
	}
	if p, _ := h.store.Get("7"); p != first {
		t.Fatalf("store changed to %q after failed describe", p)
	}
	// the file is still written; only the remembered path is unchanged
	if _, err := os.Stat(filepath.Join(h.dir, "2.jpg")); err != nil {
		t.Fatalf("second photo not saved: %v", err)
	}
}

func TestHandle_MediaErrorApologizes(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		ev   domain.InboundEvent
	}{
		{"unknown file", photoEvent(1, "nope")},
		{"no photo ref", domain.InboundEvent{Kind: domain.KindPhoto, Channel: "telegram", ChatID: "7", MessageID: 2}},
		{"channel without media", domain.InboundEvent{Kind: domain.KindPhoto, Channel: "cli", ChatID: "7", MessageID: 3, Photo: &domain.PhotoRef{FileID: "f1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := h.loop.Handle(context.Background(), tt.ev)
			if out.Reply != testMessages.PhotoError || out.Err == nil {
				t.Fatalf("unexpected outcome %+v", out)
			}
		})
	}
	if _, ok := h.store.Get("7"); ok {
		t.Fatal("store must stay empty")
	}
	if len(h.vision.calls) != 0 {
		t.Fatal("vision must not be called when saving fails")
	}
}

func TestHandle_PanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.vision.reply = func(domain.VisionRequest) (string, error) { panic("boom") }

	out := h.loop.Handle(context.Background(), photoEvent(1, "f1"))
	if out.Reply != testMessages.PhotoError {
		t.Fatalf("reply = %q", out.Reply)
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "boom") {
		t.Fatalf("err = %v", out.Err)
	}
}

func TestHandle_Timeout(t *testing.T) {
	h := newHarness(t)
	h.loop.timeout = 20 * time.Millisecond
	h.vision.reply = func(domain.VisionRequest) (string, error) { return "late", nil }
	slow := &slowChat{}
	h.loop.router = router.New(router.Config{Vision: h.vision, Chat: slow, Store: h.store, Logger: testLogger()})

	out := h.loop.Handle(context.Background(), textEvent(1, "hi"))
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", out.Err)
	}
	if out.Reply != testMessages.TextError {
		t.Fatalf("reply = %q", out.Reply)
	}
}

type slowChat struct{}

func (slowChat) Name() string                      { return "slow" }
func (slowChat) Healthy(ctx context.Context) error { return nil }
func (slowChat) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRun_RepliesInOrder(t *testing.T) {
	h := newHarness(t)
	b := bus.New(16, testLogger())
	h.loop.bus = b

	var mu sync.Mutex
	var replies []string
	done := make(chan struct{})
	b.OnOutbound("telegram", func(m domain.OutboundMessage) {
		mu.Lock()
		defer mu.Unlock()
		replies = append(replies, m.Content)
		if len(replies) == 4 {
			close(done)
		}
	})

	b.Publish(domain.InboundEvent{Kind: domain.KindCommand, Channel: "telegram", ChatID: "7", Command: "start"})
	b.Publish(textEvent(2, "first"))
	b.Publish(domain.InboundEvent{Kind: domain.KindCommand, Channel: "telegram", ChatID: "7", Command: "unknown"})
	b.Publish(photoEvent(3, "f1"))
	b.Publish(textEvent(4, "second"))
	b.Close()

	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for replies")
	}

	if replies[0] != "welcome" || replies[1] != "chat: first" {
		t.Fatalf("unexpected replies %q", replies)
	}
	if !strings.Contains(replies[2], "described 3.jpg") {
		t.Fatalf("third reply should be the photo description, got %q", replies[2])
	}
	if replies[3] != "described 3.jpg" {
		t.Fatalf("text after photo should use vision, got %q", replies[3])
	}

}
