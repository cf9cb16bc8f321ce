// Package adjudicator turns verdict requests into decision text using an
// OpenAI-compatible chat completions API.
package adjudicator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"jurisflow/proceeding"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.3-70b-versatile"
	defaultTemperature = 0.3
	defaultMaxTokens   = 1024
	defaultTopP        = 0.9
)

// Config selects the upstream model and its sampling parameters.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
	// Jurisdiction names the legal system judgments are framed in; see
	// LookupJurisdiction.
	Jurisdiction string
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

// Client calls a chat completions endpoint.
type Client struct {
	cfg    Config
	jur    Jurisdiction
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient builds a chat client. A nil httpClient gets a 90 second timeout;
// callers bound individual requests through the context.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.TopP == 0 {
		cfg.TopP = defaultTopP
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		jur:    LookupJurisdiction(cfg.Jurisdiction),
		http:   httpClient,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// New returns the chat client, or the development stand-in when no API key
// is configured.
func New(cfg Config, logger *slog.Logger) proceeding.Adjudicator {
	if cfg.APIKey == "" {
		if logger != nil {
			logger.Warn("adjudicator API key not set; using development stand-in")
		}
		return NewMockFor(LookupJurisdiction(cfg.Jurisdiction))
	}
	return NewClient(cfg, nil, logger)
}

// GenerateVerdict implements proceeding.Adjudicator.
func (c *Client) GenerateVerdict(ctx context.Context, req proceeding.VerdictRequest) (proceeding.VerdictResult, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: c.jur.SystemPrompt()},
			{Role: "user", Content: BuildPrompt(req, c.jur)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		TopP:        c.cfg.TopP,
	})
	if err != nil {
		return proceeding.VerdictResult{}, fmt.Errorf("adjudicator: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return proceeding.VerdictResult{}, fmt.Errorf("adjudicator: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	started := c.now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return proceeding.VerdictResult{}, fmt.Errorf("adjudicator: call %s: %w", c.cfg.Model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return proceeding.VerdictResult{}, fmt.Errorf("adjudicator: upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return proceeding.VerdictResult{}, fmt.Errorf("adjudicator: decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return proceeding.VerdictResult{}, fmt.Errorf("adjudicator: no content generated by %s", c.cfg.Model)
	}

	text, concluded := splitConclusion(out.Choices[0].Message.Content)
	if req.RequestType == proceeding.DecisionFinal {
		concluded = false
	}

	c.logger.Info("verdict generated",
		"case_id", req.Case.ID,
		"model", out.Model,
		"request_type", req.RequestType,
		"duration_ms", c.now().Sub(started).Milliseconds(),
		"concluded", concluded,
	)

	return proceeding.VerdictResult{
		Text: text,
		Provenance: map[string]any{
			"model":        out.Model,
			"usage":        out.Usage,
			"finishReason": out.Choices[0].FinishReason,
			"requestType":  string(req.RequestType),
			"timestamp":    c.now().Format(time.RFC3339Nano),
		},
		Concluded: concluded,
	}, nil
}
