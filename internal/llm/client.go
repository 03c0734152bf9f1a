// Package llm wraps the Gemini API client with the calls the assistant needs.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	client *genai.Client
	model  string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		cc.HTTPOptions.Timeout = &timeout
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client, model: cfg.Model}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) GenerateContent(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	start := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		log.Error().Err(err).Str("model", c.model).Dur("elapsed", time.Since(start)).Msg("generate content failed")
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return resp, nil
}

func (c *Client) CountTokens(ctx context.Context, contents []*genai.Content) (int32, error) {
	resp, err := c.client.Models.CountTokens(ctx, c.model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return resp.TotalTokens, nil
}

// GenerateText runs a single-turn prompt without tools and returns the
// trimmed text of the first candidate.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := c.GenerateContent(ctx, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}
