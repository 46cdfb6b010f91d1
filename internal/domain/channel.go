package domain

import (
	"context"
	"io"
)

// Channel is the interface for user-facing I/O (Telegram, CLI).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}

// MediaSource opens media referenced by a PhotoRef. Channels that accept
// photos implement it.
type MediaSource interface {
	OpenMedia(ctx context.Context, fileID string) (io.ReadCloser, error)
}
