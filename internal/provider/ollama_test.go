package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"imageinsight/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jpegBytes is the smallest prefix http.DetectContentType reports as image/jpeg.
var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "1.jpg")
	if err := os.WriteFile(p, jpegBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestOllama_Describe(t *testing.T) {
	img := writeImage(t)
	var got ollamaGenerateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "A red apple.", Done: true})
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL + "/", Model: "llava", Logger: testLogger()})
	text, err := o.Describe(context.Background(), domain.VisionRequest{Instruction: "What is this?", ImagePath: img})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if text != "A red apple." {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "llava" || got.Prompt != "What is this?" || got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Images) != 1 || got.Images[0] != base64.StdEncoding.EncodeToString(jpegBytes) {
		t.Fatalf("image not attached as base64: %v", got.Images)
	}
}

func TestOllama_ServerError(t *testing.T) {
	img := writeImage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := o.Describe(context.Background(), domain.VisionRequest{Instruction: "x", ImagePath: img}); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOllama_EmptyResponse(t *testing.T) {
	img := writeImage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"  ","done":true}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := o.Describe(context.Background(), domain.VisionRequest{Instruction: "x", ImagePath: img})
	if !errors.Is(err, domain.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOllama_ErrorField(t *testing.T) {
	img := writeImage(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"out of memory"}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	if _, err := o.Describe(context.Background(), domain.VisionRequest{Instruction: "x", ImagePath: img}); err == nil {
		t.Fatal("expected error from error field")
	}
}

func TestOllama_MissingImage(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := o.Describe(context.Background(), domain.VisionRequest{Instruction: "x", ImagePath: filepath.Join(t.TempDir(), "gone.jpg")})
	if err == nil {
		t.Fatal("expected error for missing image")
	}
	if called {
		t.Fatal("server must not be called without an image")
	}
}

func TestOllama_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	if err := o.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	srv.Close()
	if err := o.Healthy(context.Background()); err == nil {
		t.Fatal("expected error after server closed")
	}
}

func TestOllama_Defaults(t *testing.T) {
	o := NewOllama(OllamaConfig{})
	if o.apiBase != ollamaDefaultBase || o.model != ollamaDefaultModel {
		t.Fatalf("unexpected defaults: %s %s", o.apiBase, o.model)
	}
	if o.Name() != "ollama" {
		t.Fatalf("name = %q", o.Name())
	}
}
