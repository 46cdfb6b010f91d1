package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"imageinsight/internal/domain"
)

const geminiDefaultModel = "gemini-2.0-flash"

// Gemini implements both domain.VisionBackend and domain.ChatBackend through
// the Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	logger      *slog.Logger
}

type GeminiConfig struct {
	APIKey      string
	APIBase     string // empty selects the public Gemini endpoint
	Model       string
	Temperature float32
	MaxTokens   int
	Client      *http.Client
	Logger      *slog.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.Client,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.APIBase},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
		logger:      cfg.Logger,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Healthy(ctx context.Context) error {
	if _, err := g.client.Models.Get(ctx, g.model, nil); err != nil {
		return fmt.Errorf("gemini model %s not available: %w", g.model, err)
	}
	return nil
}

func (g *Gemini) Describe(ctx context.Context, req domain.VisionRequest) (string, error) {
	data, mimeType, err := loadImage(req.ImagePath)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(req.Instruction),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}
	return g.generate(ctx, contents, nil)
}

func (g *Gemini) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	contents := []*genai.Content{genai.NewContentFromText(req.UserMessage, genai.RoleUser)}
	return g.generate(ctx, contents, cfg)
}

func (g *Gemini) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	if cfg == nil {
		cfg = &genai.GenerateContentConfig{}
	}
	if g.temperature > 0 {
		temp := g.temperature
		cfg.Temperature = &temp
	}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = g.maxTokens
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" && pf.BlockReason != genai.BlockedReasonUnspecified {
		return "", fmt.Errorf("gemini blocked prompt: %s", pf.BlockReason)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", domain.ErrEmptyResponse
	}
	g.logger.Debug("gemini generate", "model", g.model, "chars", len(text))
	return text, nil
}
