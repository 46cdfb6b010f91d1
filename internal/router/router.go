// Package router decides which inference backend answers an event.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"imageinsight/internal/domain"
	"imageinsight/internal/imagectx"
)

const (
	DefaultSystemPrompt        = "You are an assistant answering questions and helping."
	DefaultDescribeInstruction = "Can you describe this image in detail?"
	DefaultPhotoReply          = "🔍 *Image Analysis Complete!*\n\n{description}\n\n💡 Now you can ask me intelligent questions about this image!"
)

// Route names the backend path that produced a reply.
type Route string

const (
	RouteChat     Route = "chat"
	RouteVision   Route = "vision"
	RouteDescribe Route = "describe"
)

// Reply is the result of a routing operation. On error only Route is set.
type Reply struct {
	Text  string
	Route Route
}

// Router sends text and photos to the vision or chat backend. It never
// retries; backend errors are returned to the caller as-is.
type Router struct {
	vision   domain.VisionBackend
	chat     domain.ChatBackend
	store    imagectx.Store
	system   string
	describe string
	template string
	logger   *slog.Logger
}

type Config struct {
	Vision              domain.VisionBackend
	Chat                domain.ChatBackend
	Store               imagectx.Store
	SystemPrompt        string
	DescribeInstruction string
	PhotoReply          string // {description} is replaced by the vision output
	Logger              *slog.Logger
}

func New(cfg Config) *Router {
	if cfg.Store == nil {
		cfg.Store = imagectx.NewSlot()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.DescribeInstruction == "" {
		cfg.DescribeInstruction = DefaultDescribeInstruction
	}
	if cfg.PhotoReply == "" {
		cfg.PhotoReply = DefaultPhotoReply
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{
		vision:   cfg.Vision,
		chat:     cfg.Chat,
		store:    cfg.Store,
		system:   cfg.SystemPrompt,
		describe: cfg.DescribeInstruction,
		template: cfg.PhotoReply,
		logger:   cfg.Logger,
	}
}

// RouteText answers a text message. While a remembered image still exists on
// disk every message is treated as a question about it; there is no way back
// to plain chat short of a restart or the file disappearing.
func (r *Router) RouteText(ctx context.Context, chatID, message string) (Reply, error) {
	ic := imagectx.Resolve(r.store, chatID)
	switch ic.State {
	case imagectx.Valid:
		answer, err := r.vision.Describe(ctx, domain.VisionRequest{
			Instruction: message,
			ImagePath:   ic.Path,
		})
		if err != nil {
			return Reply{Route: RouteVision}, fmt.Errorf("%s vision: %w", r.vision.Name(), err)
		}
		return Reply{Text: answer, Route: RouteVision}, nil
	case imagectx.Stale:
		r.logger.Debug("remembered image is gone, using chat backend", "chat_id", chatID, "path", ic.Path)
	}

	completion, err := r.chat.Complete(ctx, domain.ChatRequest{
		SystemPrompt: r.system,
		UserMessage:  message,
	})
	if err != nil {
		return Reply{Route: RouteChat}, fmt.Errorf("%s chat: %w", r.chat.Name(), err)
	}
	return Reply{Text: completion, Route: RouteChat}, nil
}

// RoutePhoto describes a freshly saved image and, only on success, makes it
// the remembered image.
func (r *Router) RoutePhoto(ctx context.Context, chatID, savedPath string) (Reply, error) {
	description, err := r.vision.Describe(ctx, domain.VisionRequest{
		Instruction: r.describe,
		ImagePath:   savedPath,
	})
	if err != nil {
		return Reply{Route: RouteDescribe}, fmt.Errorf("%s describe: %w", r.vision.Name(), err)
	}

	r.store.Set(chatID, savedPath)
	return Reply{
		Text:  strings.ReplaceAll(r.template, "{description}", description),
		Route: RouteDescribe,
	}, nil
}
