package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"imageinsight/internal/domain"
)

const (
	telegramMaxMsgLen       = 4000
	telegramDefaultPoll     = 30
	telegramDownloadLimit   = 20 << 20
	telegramDownloadTimeout = 60 * time.Second
)

// Telegram implements domain.Channel and domain.MediaSource for a Telegram bot
// using long polling.
type Telegram struct {
	token       string
	parseMode   string
	pollTimeout int
	client      *http.Client

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	ParseMode   string
	PollTimeout int
	Logger      *slog.Logger
}

// NewTelegram builds the channel. An empty ParseMode sends replies as plain
// text, so backend output reaches the user unchanged.
func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = telegramDefaultPoll
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:       cfg.Token,
		parseMode:   cfg.ParseMode,
		pollTimeout: cfg.PollTimeout,
		client:      &http.Client{Timeout: telegramDownloadTimeout},
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates. It blocks until
// ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound(t.Name(), func(msg domain.OutboundMessage) {
		if err := t.Send(ctx, msg.ChatID, msg.Content); err != nil {
			t.logger.Error("telegram outbound", "chat", msg.ChatID, "err", err)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started", "timeout", t.pollTimeout)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	if t.bot == nil {
		return fmt.Errorf("telegram bot not started")
	}
	t.sendMessage(id, content)
	return nil
}

// OpenMedia downloads a Telegram file by its file ID.
func (t *Telegram) OpenMedia(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if t.bot == nil {
		return nil, fmt.Errorf("telegram bot not started")
	}
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("telegram file url: %w", err)
	}
	return download(ctx, t.client, url)
}

func download(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, telegramDownloadLimit), resp.Body}, nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	ev, ok := toEvent(update)
	if !ok {
		return
	}

	t.logger.Info("telegram message received",
		"kind", string(ev.Kind),
		"chat", ev.ChatID,
		"message", ev.MessageID,
		"sender", ev.SenderID,
	)

	if ev.Kind != domain.KindCommand {
		typing := tgbotapi.NewChatAction(update.Message.Chat.ID, tgbotapi.ChatTyping)
		if _, err := t.bot.Request(typing); err != nil {
			t.logger.Debug("typing action failed", "err", err)
		}
	}

	t.bus.Publish(ev)
}

// toEvent classifies an update. Updates that carry neither a command, text
// nor a photo are dropped.
func toEvent(update tgbotapi.Update) (domain.InboundEvent, bool) {
	m := update.Message
	if m == nil || m.Chat == nil {
		return domain.InboundEvent{}, false
	}

	ev := domain.InboundEvent{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		MessageID: m.MessageID,
		Timestamp: time.Unix(int64(m.Date), 0),
	}
	if m.From != nil {
		ev.SenderID = strconv.FormatInt(m.From.ID, 10)
	}

	switch {
	case len(m.Photo) > 0:
		ev.Kind = domain.KindPhoto
		ev.Photo = &domain.PhotoRef{FileID: largestPhoto(m.Photo).FileID}
		ev.Text = m.Caption
	case m.IsCommand():
		ev.Kind = domain.KindCommand
		ev.Command = m.Command()
		ev.Text = m.CommandArguments()
	case strings.TrimSpace(m.Text) != "":
		ev.Kind = domain.KindText
		ev.Text = m.Text
	default:
		return domain.InboundEvent{}, false
	}
	return ev, true
}

// largestPhoto picks the highest resolution variant Telegram offers.
func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring
// newline boundaries in the second half of each chunk. Cuts never fall inside
// a multi-byte character.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = maxLen
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// sendChunk sends with the configured parse mode and falls back to plain text
// when Telegram rejects the markup.
func (t *Telegram) sendChunk(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = t.parseMode

	_, err := t.bot.Send(msg)
	if err == nil {
		return
	}
	if msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram markdown parse error, sending as plain text",
			"err", err, "parse_mode", t.parseMode,
		)
		if _, err = t.bot.Send(tgbotapi.NewMessage(chatID, text)); err == nil {
			return
		}
	}
	t.logger.Error("telegram send failed", "chat", chatID, "err", err)
}
