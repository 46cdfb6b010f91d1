package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	defaultWelcome = "🔍 Welcome to ImageInsight Bot! Send me an image and I'll provide intelligent analysis and answer your questions about it!"
	defaultHelp    = "📖 ImageInsight Bot\n\nSend a photo and I'll describe it. Every question you ask after that is answered about the latest photo you sent.\n\nWithout a photo I answer like a regular assistant.\n\nCommands:\n/start - Welcome message\n/help - Show this message"
	defaultPhoto   = "🔍 *Image Analysis Complete!*\n\n{description}\n\n💡 Now you can ask me intelligent questions about this image!"
)

// Defaults returns the built-in configuration without secrets. Base URLs are
// left empty so each provider falls back to its own endpoint.
func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Chat: ChatConfig{
			Provider:     "groq",
			Model:        "llama-3.3-70b-versatile",
			Temperature:  0.5,
			MaxTokens:    1024,
			TopP:         1,
			SystemPrompt: "You are an assistant answering questions and helping.",
		},
		Vision: VisionConfig{
			Provider: "ollama",
			Model:    "llava",
		},
		Backend: BackendConfig{
			Timeout: 120 * time.Second,
		},
		Images: ImagesConfig{
			Dir:       "images",
			Extension: ".jpg",
		},
		Context: ContextConfig{
			Scope: "global",
		},
		Messages: MessagesConfig{
			Welcome:             defaultWelcome,
			Help:                defaultHelp,
			DescribeInstruction: "Can you describe this image in detail?",
			PhotoReply:          defaultPhoto,
			TextError:           "Sorry, I encountered an error processing your message.",
			PhotoError:          "Sorry, I encountered an error processing your image.",
		},
		Dispatch: DispatchConfig{
			Concurrency: 1,
			Buffer:      100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
			Path:    "/metrics",
		},
		Journal: JournalConfig{
			Enabled:       false,
			DBPath:        "~/.imageinsight/journal.db",
			RetentionDays: 30,
			PruneSchedule: "0 3 * * *",
		},
	}
}

// setDefaults registers every default key with viper so that environment
// variables are picked up for keys absent from the file.
func setDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.parse_mode", d.Telegram.ParseMode)
	v.SetDefault("telegram.poll_timeout", d.Telegram.PollTimeout)

	v.SetDefault("chat.provider", d.Chat.Provider)
	v.SetDefault("chat.api_key", "")
	v.SetDefault("chat.base_url", d.Chat.BaseURL)
	v.SetDefault("chat.model", d.Chat.Model)
	v.SetDefault("chat.temperature", d.Chat.Temperature)
	v.SetDefault("chat.max_tokens", d.Chat.MaxTokens)
	v.SetDefault("chat.top_p", d.Chat.TopP)
	v.SetDefault("chat.system_prompt", d.Chat.SystemPrompt)

	v.SetDefault("vision.provider", d.Vision.Provider)
	v.SetDefault("vision.base_url", d.Vision.BaseURL)
	v.SetDefault("vision.model", d.Vision.Model)
	v.SetDefault("vision.api_key", "")

	v.SetDefault("backend.timeout", d.Backend.Timeout)

	v.SetDefault("images.dir", d.Images.Dir)
	v.SetDefault("images.extension", d.Images.Extension)

	v.SetDefault("context.scope", d.Context.Scope)

	v.SetDefault("messages.welcome", d.Messages.Welcome)
	v.SetDefault("messages.help", d.Messages.Help)
	v.SetDefault("messages.describe_instruction", d.Messages.DescribeInstruction)
	v.SetDefault("messages.photo_reply", d.Messages.PhotoReply)
	v.SetDefault("messages.text_error", d.Messages.TextError)
	v.SetDefault("messages.photo_error", d.Messages.PhotoError)

	v.SetDefault("dispatch.concurrency", d.Dispatch.Concurrency)
	v.SetDefault("dispatch.buffer", d.Dispatch.Buffer)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.db_path", d.Journal.DBPath)
	v.SetDefault("journal.retention_days", d.Journal.RetentionDays)
	v.SetDefault("journal.prune_schedule", d.Journal.PruneSchedule)
}
