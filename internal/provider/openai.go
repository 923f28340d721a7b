package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/mohammad-safakhou/vital/internal/config"
	"github.com/mohammad-safakhou/vital/internal/pipeline"
	"github.com/mohammad-safakhou/vital/internal/telemetry"
)

// NewCompletionClient creates a completion client based on configuration.
func NewCompletionClient(cfg config.LLMConfig, tele *telemetry.Telemetry) (pipeline.CompletionClient, error) {
	switch cfg.Provider.Type {
	case "openai":
		return NewOpenAIClient(cfg, tele), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider type: %s", cfg.Provider.Type)
	}
}

// OpenAIClient implements the completion and embedding contracts against
// the OpenAI HTTP API.
type OpenAIClient struct {
	config    config.LLMConfig
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	client    *http.Client
}

// NewOpenAIClient creates a new OpenAI-backed client.
func NewOpenAIClient(cfg config.LLMConfig, tele *telemetry.Telemetry) *OpenAIClient {
	return &OpenAIClient{
		config:    cfg,
		telemetry: tele,
		logger:    log.New(log.Writer(), "[OPENAI] ", log.LstdFlags),
		client:    &http.Client{Timeout: cfg.Provider.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion request. Empty content is a terminal
// error for this call only; callers degrade rather than propagate.
func (c *OpenAIClient) Complete(ctx context.Context, req pipeline.CompletionRequest) (string, error) {
	apiKey := c.apiKey()
	if apiKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	model, maxTokens := c.resolveModel(req.Model)

	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}
	if req.JSONOnly {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.telemetry.RecordLLMCall(req.Model, 0, 0, err)
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("OpenAI status %d", resp.StatusCode)
		c.telemetry.RecordLLMCall(req.Model, 0, 0, err)
		return "", err
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.telemetry.RecordLLMCall(req.Model, 0, 0, err)
		return "", fmt.Errorf("parse response: %w", err)
	}
	c.telemetry.RecordLLMCall(req.Model, out.Usage.PromptTokens, out.Usage.CompletionTokens, nil)

	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion content")
	}
	return out.Choices[0].Message.Content, nil
}

// Embed generates an embedding for the text. Returns nil on any failure,
// never an error; retrieval degrades to empty results.
func (c *OpenAIClient) Embed(ctx context.Context, text string) []float32 {
	apiKey := c.apiKey()
	if apiKey == "" || text == "" {
		return nil
	}

	requestBody := map[string]interface{}{
		"model": c.config.EmbeddingModel,
		"input": []string{text},
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		c.logger.Printf("embedding marshal failed: %v", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL()+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		c.logger.Printf("embedding request failed: %v", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Printf("embedding call failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Printf("embedding call returned status %d", resp.StatusCode)
		return nil
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.logger.Printf("embedding response unparseable: %v", err)
		return nil
	}
	if len(out.Data) == 0 {
		return nil
	}
	return out.Data[0].Embedding
}

func (c *OpenAIClient) apiKey() string {
	if c.config.Provider.APIKey != "" {
		return c.config.Provider.APIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

func (c *OpenAIClient) baseURL() string {
	if c.config.Provider.BaseURL != "" {
		return c.config.Provider.BaseURL
	}
	return "https://api.openai.com/v1"
}

func (c *OpenAIClient) resolveModel(key string) (string, int) {
	if m, ok := c.config.Provider.Models[key]; ok {
		name := m.APIName
		if name == "" {
			name = m.Name
		}
		if name == "" {
			name = key
		}
		return name, m.MaxTokens
	}
	return key, 0
}
