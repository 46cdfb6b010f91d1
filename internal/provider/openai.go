package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"imageinsight/internal/domain"
)

const (
	GroqAPIBase      = "https://api.groq.com/openai/v1"
	OpenAIAPIBase    = "https://api.openai.com/v1"
	groqDefaultModel = "llama-3.3-70b-versatile"
)

// OpenAIChat implements domain.ChatBackend for OpenAI-compatible APIs
// (Groq by default, OpenAI itself, or any server speaking /chat/completions).
type OpenAIChat struct {
	name        string
	apiBase     string
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	topP        float32
	logger      *slog.Logger
}

type OpenAIConfig struct {
	Name        string // reported by Name(); defaults to "openai"
	APIKey      string
	APIBase     string
	Model       string
	Temperature float32
	MaxTokens   int
	TopP        float32
	Client      *http.Client
	Logger      *slog.Logger
}

func NewOpenAIChat(cfg OpenAIConfig) *OpenAIChat {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = GroqAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = groqDefaultModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.APIBase, "/")
	oc.HTTPClient = cfg.Client

	return &OpenAIChat{
		name:        cfg.Name,
		apiBase:     oc.BaseURL,
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		topP:        cfg.TopP,
		logger:      cfg.Logger,
	}
}

func (o *OpenAIChat) Name() string { return o.name }

func (o *OpenAIChat) Healthy(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%s: invalid API key", o.name)
		}
		return fmt.Errorf("%s not reachable at %s: %w", o.name, o.apiBase, err)
	}
	return nil
}

func (o *OpenAIChat) Complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserMessage},
		},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		TopP:        o.topP,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.ErrEmptyResponse
	}

	o.logger.Debug("chat completion",
		"provider", o.name,
		"model", o.model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason,
	)

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", domain.ErrEmptyResponse
	}
	return content, nil
}
