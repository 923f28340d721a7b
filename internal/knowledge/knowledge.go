package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/mohammad-safakhou/vital/internal/config"
	"github.com/mohammad-safakhou/vital/internal/pipeline"
)

const factsSystemPrompt = `You are a nutrition and exercise fact service.
Return only factual data relevant to the query: calorie and macronutrient
values, exercise energy expenditure, portion references, published dietary
reference intakes. No advice, no opinions, no coaching. If the query has no
factual nutrition or exercise angle, say "no relevant data".`

// Client answers queries with factual text plus citations via a
// Perplexity-compatible chat endpoint.
type Client struct {
	config config.KnowledgeConfig
	client *http.Client
}

// New creates a knowledge client.
func New(cfg config.KnowledgeConfig) *Client {
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Lookup queries the knowledge service. The caller treats any error as a
// missing knowledge payload and continues.
func (c *Client) Lookup(ctx context.Context, query string) (pipeline.KnowledgeResult, error) {
	apiKey := c.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("PERPLEXITY_API_KEY")
	}
	if apiKey == "" {
		return pipeline.KnowledgeResult{}, fmt.Errorf("knowledge API key not configured")
	}

	body := chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: factsSystemPrompt},
			{Role: "user", Content: query},
		},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return pipeline.KnowledgeResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return pipeline.KnowledgeResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return pipeline.KnowledgeResult{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pipeline.KnowledgeResult{}, fmt.Errorf("knowledge service status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return pipeline.KnowledgeResult{}, fmt.Errorf("parse response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return pipeline.KnowledgeResult{}, nil
	}

	content := out.Choices[0].Message.Content
	sources := make([]pipeline.Citation, 0, len(out.Citations))
	for _, url := range out.Citations {
		sources = append(sources, pipeline.Citation{URL: url})
	}

	return pipeline.KnowledgeResult{Content: &content, Sources: sources}, nil
}
