package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"imageinsight/internal/domain"
)

type geminiPart struct {
	Text       string `json:"text"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction"`
	GenerationConfig  struct {
		Temperature     float32 `json:"temperature"`
		MaxOutputTokens int32   `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

const geminiTextResponse = `{"candidates":[{"content":{"role":"model","parts":[{"text":"%s"}]},"finishReason":"STOP"}]}`

// fakeGemini answers generateContent calls with body and records the last
// request it saw.
func fakeGemini(t *testing.T, body string, got *geminiRequest) *Gemini {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/models/gemini-test:generateContent") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	g, err := NewGemini(context.Background(), GeminiConfig{
		APIKey:      "AIza-test",
		APIBase:     srv.URL,
		Model:       "gemini-test",
		Temperature: 0.5,
		MaxTokens:   256,
		Client:      srv.Client(),
		Logger:      testLogger(),
	})
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	return g
}

func TestGemini_DescribeSendsImage(t *testing.T) {
	img := writeImage(t)
	var got geminiRequest
	g := fakeGemini(t, fmt.Sprintf(geminiTextResponse, "A red apple."), &got)

	text, err := g.Describe(context.Background(), domain.VisionRequest{Instruction: "What is this?", ImagePath: img})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if text != "A red apple." {
		t.Fatalf("unexpected text %q", text)
	}

	if len(got.Contents) != 1 || got.Contents[0].Role != "user" || len(got.Contents[0].Parts) != 2 {
		t.Fatalf("unexpected contents %+v", got.Contents)
	}
	parts := got.Contents[0].Parts
	if parts[0].Text != "What is this?" {
		t.Fatalf("instruction = %q", parts[0].Text)
	}
	if parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/jpeg" {
		t.Fatalf("image part missing: %+v", parts[1])
	}
	if parts[1].InlineData.Data != base64.StdEncoding.EncodeToString(jpegBytes) {
		t.Fatalf("image bytes not sent")
	}
	if got.SystemInstruction != nil {
		t.Fatalf("describe must not set a system instruction")
	}
	if got.GenerationConfig.Temperature != 0.5 || got.GenerationConfig.MaxOutputTokens != 256 {
		t.Fatalf("unexpected generation config %+v", got.GenerationConfig)
	}
}

func TestGemini_CompleteSetsSystemInstruction(t *testing.T) {
	var got geminiRequest
	g := fakeGemini(t, fmt.Sprintf(geminiTextResponse, "Paris."), &got)

	text, err := g.Complete(context.Background(), domain.ChatRequest{
		SystemPrompt: "You are an assistant answering questions and helping.",
		UserMessage:  "Capital of France?",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Paris." {
		t.Fatalf("unexpected text %q", text)
	}
	if got.SystemInstruction == nil || len(got.SystemInstruction.Parts) != 1 ||
		got.SystemInstruction.Parts[0].Text != "You are an assistant answering questions and helping." {
		t.Fatalf("unexpected system instruction %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 1 || got.Contents[0].Parts[0].Text != "Capital of France?" {
		t.Fatalf("unexpected contents %+v", got.Contents)
	}
}

func TestGemini_BlockedPrompt(t *testing.T) {
	g := fakeGemini(t, `{"promptFeedback":{"blockReason":"SAFETY"}}`, nil)
	_, err := g.Complete(context.Background(), domain.ChatRequest{UserMessage: "x"})
	if err == nil || !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestGemini_EmptyResponse(t *testing.T) {
	g := fakeGemini(t, fmt.Sprintf(geminiTextResponse, "  "), nil)
	_, err := g.Complete(context.Background(), domain.ChatRequest{UserMessage: "x"})
	if !errors.Is(err, domain.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGemini_DescribeMissingImage(t *testing.T) {
	g := fakeGemini(t, fmt.Sprintf(geminiTextResponse, "unused"), nil)
	if _, err := g.Describe(context.Background(), domain.VisionRequest{Instruction: "x", ImagePath: "/nonexistent/1.jpg"}); err == nil {
		t.Fatal("expected error for missing image")
	}
}
