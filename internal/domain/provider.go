package domain

import (
	"context"
	"errors"
)

var (
	// ErrEmptyResponse is returned when a backend answers without any text.
	ErrEmptyResponse = errors.New("backend returned an empty response")
	// ErrUnknownProvider is returned by the factory for unsupported provider names.
	ErrUnknownProvider = errors.New("unknown provider")
)

// VisionRequest asks a vision model a question about an image on disk.
type VisionRequest struct {
	Instruction string
	ImagePath   string
}

// ChatRequest is a single-turn conversation: one system prompt, one user turn.
type ChatRequest struct {
	SystemPrompt string
	UserMessage  string
}

// Backend is the part shared by every inference service.
type Backend interface {
	Name() string
	Healthy(ctx context.Context) error
}

// VisionBackend answers instructions about an image.
type VisionBackend interface {
	Backend
	Describe(ctx context.Context, req VisionRequest) (string, error)
}

// ChatBackend completes a short text conversation.
type ChatBackend interface {
	Backend
	Complete(ctx context.Context, req ChatRequest) (string, error)
}
