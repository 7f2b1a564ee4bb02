package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiGeneratorSendsSystemPromptAndTemperature(t *testing.T) {
	var got generateRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path + "?" + r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Try the "},{"text":"bundle."}]}}]}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(Config{Provider: "gemini", APIKey: "k", BaseURL: srv.URL, Temperature: 0.7})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.GenerateText(context.Background(), "be brief", "what is cheap?")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Try the bundle." {
		t.Fatalf("expected joined parts, got %q", text)
	}
	if path != "/models/gemini-2.5-flash:generateContent?key=k" {
		t.Fatalf("unexpected path %q", path)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("expected system instruction, got %+v", got.SystemInstruction)
	}
	if got.GenerationConfig == nil || got.GenerationConfig.Temperature != 0.7 {
		t.Fatalf("expected temperature 0.7, got %+v", got.GenerationConfig)
	}
}

func TestGeminiGeneratorSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"key revoked"}}`))
	}))
	defer srv.Close()

	gen, _ := NewGenerator(Config{Provider: "gemini", APIKey: "k", BaseURL: srv.URL})
	if _, err := gen.GenerateText(context.Background(), "", "hi"); err == nil || !strings.Contains(err.Error(), "key revoked") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	if _, err := NewGenerator(Config{Provider: "gemini"}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}

func TestOllamaGenerator(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":" ok "}}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(Config{Provider: "ollama", BaseURL: srv.URL, Model: "llama3"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.GenerateText(context.Background(), "sys", "user")
	if err != nil || text != "ok" {
		t.Fatalf("expected ok, got %q err=%v", text, err)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Stream {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOpenAICompatGenerator(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(Config{Provider: "openai-compat", BaseURL: srv.URL + "/v1/", APIKey: "sk", Model: "m"})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	text, err := gen.GenerateText(context.Background(), "", "hi")
	if err != nil || text != "hello" {
		t.Fatalf("expected hello, got %q err=%v", text, err)
	}
	if auth != "Bearer sk" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}
}

func TestUnknownProvider(t *testing.T) {
	if _, err := NewGenerator(Config{Provider: "parrot"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
