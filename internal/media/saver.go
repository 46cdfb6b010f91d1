// Package media stores photos received by channels on local disk.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"imageinsight/internal/domain"
)

// Saver writes photos as <dir>/<message_id><ext>, or
// <dir>/<chat_id>/<message_id><ext> when PerChat is set. Files are never
// removed by the bot.
type Saver struct {
	dir     string
	ext     string
	perChat bool
}

type SaverConfig struct {
	Dir       string
	Extension string
	PerChat   bool
}

func NewSaver(cfg SaverConfig) *Saver {
	if cfg.Dir == "" {
		cfg.Dir = "images"
	}
	if cfg.Extension == "" {
		cfg.Extension = ".jpg"
	}
	return &Saver{dir: cfg.Dir, ext: cfg.Extension, perChat: cfg.PerChat}
}

// Path returns where the photo for a message is stored.
func (s *Saver) Path(chatID string, messageID int) string {
	name := strconv.Itoa(messageID) + s.ext
	if s.perChat {
		return filepath.Join(s.dir, safeSegment(chatID), name)
	}
	return filepath.Join(s.dir, name)
}

// Save fetches fileID from src and writes it to disk. The file appears
// under its final name only once fully written.
func (s *Saver) Save(ctx context.Context, src domain.MediaSource, chatID string, messageID int, fileID string) (string, error) {
	target := s.Path(chatID, messageID)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	rc, err := src.OpenMedia(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(target), ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = fmt.Errorf("empty media")
	}
	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("write image: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename image: %w", err)
	}
	return target, nil
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "_"
	}
	return s
}
