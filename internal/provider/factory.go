package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"imageinsight/internal/config"
	"imageinsight/internal/domain"
)

// Factory builds the configured backends. Both share one HTTP client whose
// timeout is backend.timeout.
type Factory struct {
	cfg    *config.Config
	client *http.Client
	logger *slog.Logger
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		client: SharedHTTPClient(cfg.Backend.Timeout),
		logger: logger,
	}
}

// Vision returns the backend that answers questions about images.
func (f *Factory) Vision(ctx context.Context) (domain.VisionBackend, error) {
	vc := f.cfg.Vision
	switch vc.Provider {
	case "ollama", "":
		return NewOllama(OllamaConfig{
			APIBase: vc.BaseURL,
			Model:   vc.Model,
			Client:  f.client,
			Logger:  f.logger.With("backend", "vision"),
		}), nil
	case "gemini":
		return NewGemini(ctx, GeminiConfig{
			APIKey:  vc.APIKey,
			APIBase: vc.BaseURL,
			Model:   geminiModel(vc.Model, ollamaDefaultModel),
			Client:  f.client,
			Logger:  f.logger.With("backend", "vision"),
		})
	default:
		return nil, fmt.Errorf("vision provider %q: %w", vc.Provider, domain.ErrUnknownProvider)
	}
}

// Chat returns the backend used for plain text questions.
func (f *Factory) Chat(ctx context.Context) (domain.ChatBackend, error) {
	cc := f.cfg.Chat
	switch cc.Provider {
	case "groq", "openai", "":
		name := cc.Provider
		if name == "" {
			name = "groq"
		}
		base := cc.BaseURL
		if base == "" {
			base = GroqAPIBase
			if name == "openai" {
				base = OpenAIAPIBase
			}
		}
		return NewOpenAIChat(OpenAIConfig{
			Name:        name,
			APIKey:      cc.APIKey,
			APIBase:     base,
			Model:       cc.Model,
			Temperature: cc.Temperature,
			MaxTokens:   cc.MaxTokens,
			TopP:        cc.TopP,
			Client:      f.client,
			Logger:      f.logger.With("backend", "chat"),
		}), nil
	case "gemini":
		return NewGemini(ctx, GeminiConfig{
			APIKey:      cc.APIKey,
			APIBase:     cc.BaseURL,
			Model:       geminiModel(cc.Model, groqDefaultModel),
			Temperature: cc.Temperature,
			MaxTokens:   cc.MaxTokens,
			Client:      f.client,
			Logger:      f.logger.With("backend", "chat"),
		})
	default:
		return nil, fmt.Errorf("chat provider %q: %w", cc.Provider, domain.ErrUnknownProvider)
	}
}

// geminiModel drops the other provider's default model name, which is what
// the config holds when only the provider was switched.
func geminiModel(model, otherDefault string) string {
	if model == otherDefault {
		return ""
	}
	return model
}

// CheckHealth checks every backend and returns one result per role. One
// backend serving two roles is checked once per role.
func CheckHealth(ctx context.Context, backends map[string]domain.Backend) map[string]error {
	out := make(map[string]error, len(backends))
	for role, b := range backends {
		out[role] = b.Healthy(ctx)
	}
	return out
}
