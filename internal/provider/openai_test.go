package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/vital/internal/config"
	"github.com/mohammad-safakhou/vital/internal/pipeline"
)

func testLLMConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider: config.LLMProvider{
			Type:    "openai",
			APIKey:  "test-key",
			BaseURL: baseURL,
			Timeout: 5 * time.Second,
			Models: map[string]config.LLMModel{
				"gpt-5": {Name: "gpt-5", APIName: "gpt-5-2025", MaxTokens: 4096},
			},
		},
		EmbeddingModel: "text-embedding-3-small",
	}
}

func TestCompleteResolvesModelAndJSONMode(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": `{"ok":true}`}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(testLLMConfig(srv.URL), nil)
	resp, err := c.Complete(context.Background(), pipeline.CompletionRequest{
		Model:    "gpt-5",
		System:   "be terse",
		Messages: []pipeline.Message{{Role: "user", Content: "hello"}},
		JSONOnly: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp != `{"ok":true}` {
		t.Fatalf("response = %q", resp)
	}
	if got.Model != "gpt-5-2025" {
		t.Fatalf("expected API model name, got %q", got.Model)
	}
	if got.MaxTokens != 4096 {
		t.Fatalf("max tokens = %d", got.MaxTokens)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("expected json_object response format, got %+v", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("expected system message first, got %+v", got.Messages)
	}
}

func TestCompleteUnroutedModelPassesThrough(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(testLLMConfig(srv.URL), nil)
	if _, err := c.Complete(context.Background(), pipeline.CompletionRequest{Model: "some-other-model"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Model != "some-other-model" {
		t.Fatalf("expected raw model key, got %q", got.Model)
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	c := NewOpenAIClient(testLLMConfig(srv.URL), nil)
	if _, err := c.Complete(context.Background(), pipeline.CompletionRequest{Model: "gpt-5"}); err == nil {
		t.Fatal("expected error for empty completion content")
	}
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient(testLLMConfig(srv.URL), nil)
	if _, err := c.Complete(context.Background(), pipeline.CompletionRequest{Model: "gpt-5"}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestEmbedReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	c := NewOpenAIClient(testLLMConfig(srv.URL), nil)
	vec := c.Embed(context.Background(), "chicken sandwich")
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("vector = %v", vec)
	}
}

func TestEmbedFailuresReturnNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenAIClient(testLLMConfig(srv.URL), nil)
	if vec := c.Embed(context.Background(), "anything"); vec != nil {
		t.Fatalf("expected nil on server error, got %v", vec)
	}
	if vec := c.Embed(context.Background(), ""); vec != nil {
		t.Fatalf("expected nil for empty text, got %v", vec)
	}
}

func TestNewCompletionClientUnknownType(t *testing.T) {
	if _, err := NewCompletionClient(config.LLMConfig{Provider: config.LLMProvider{Type: "llama-local"}}, nil); err == nil {
		t.Fatal("expected error for unsupported provider type")
	}
}
