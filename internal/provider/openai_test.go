package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"imageinsight/internal/domain"
)

type chatCall struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float32 `json:"top_p"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, got *chatCall, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			if auth := r.Header.Get("Authorization"); auth != "Bearer gsk_test" {
				t.Errorf("unexpected auth header %q", auth)
			}
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode: %v", err)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":` +
				mustJSON(content) + `},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
		case "/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestOpenAIChat_Complete(t *testing.T) {
	var got chatCall
	srv := completionServer(t, &got, "Paris is the capital of France.")
	defer srv.Close()

	c := NewOpenAIChat(OpenAIConfig{
		Name:        "groq",
		APIKey:      "gsk_test",
		APIBase:     srv.URL,
		Model:       "llama-3.3-70b-versatile",
		Temperature: 0.5,
		MaxTokens:   1024,
		TopP:        1,
		Logger:      testLogger(),
	})
	text, err := c.Complete(context.Background(), domain.ChatRequest{
		SystemPrompt: "You are an assistant answering questions and helping.",
		UserMessage:  "What is the capital of France?",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Paris is the capital of France." {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "llama-3.3-70b-versatile" || got.MaxTokens != 1024 || got.Temperature != 0.5 || got.TopP != 1 {
		t.Fatalf("unexpected request parameters %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("expected system+user turns, got %+v", got.Messages)
	}
	if got.Messages[1].Content != "What is the capital of France?" {
		t.Fatalf("user turn not verbatim: %q", got.Messages[1].Content)
	}
	if c.Name() != "groq" {
		t.Fatalf("name = %q", c.Name())
	}
}

func TestOpenAIChat_EmptyContent(t *testing.T) {
	var got chatCall
	srv := completionServer(t, &got, "")
	defer srv.Close()

	c := NewOpenAIChat(OpenAIConfig{APIKey: "gsk_test", APIBase: srv.URL, Logger: testLogger()})
	_, err := c.Complete(context.Background(), domain.ChatRequest{UserMessage: "hi"})
	if !errors.Is(err, domain.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAIChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIChat(OpenAIConfig{APIKey: "bad", APIBase: srv.URL, Logger: testLogger()})
	if _, err := c.Complete(context.Background(), domain.ChatRequest{UserMessage: "hi"}); err == nil {
		t.Fatal("expected error for 401")
	}
	if err := c.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy for 401")
	}
}

func TestOpenAIChat_Healthy(t *testing.T) {
	var got chatCall
	srv := completionServer(t, &got, "ok")
	defer srv.Close()

	c := NewOpenAIChat(OpenAIConfig{APIKey: "gsk_test", APIBase: srv.URL, Logger: testLogger()})
	if err := c.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
}
