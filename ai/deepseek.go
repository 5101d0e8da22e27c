package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/korjavin/voicenary/logger"
)

const (
	deepseekAPIURL       = "https://api.deepseek.com/v1/chat/completions"
	deepseekDefaultModel = "deepseek-chat"
	apiTimeoutSec        = 60
)

// DeepseekClient talks to an OpenAI-compatible chat-completions endpoint
type DeepseekClient struct {
	apiKey     string
	url        string
	model      string
	httpClient *http.Client
	log        *logger.Logger
}

// NewDeepseekClient creates a new Deepseek API client. An empty url selects
// the public endpoint.
func NewDeepseekClient(apiKey, url string, log *logger.Logger) *DeepseekClient {
	if url == "" {
		url = deepseekAPIURL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DeepseekClient{
		apiKey:     apiKey,
		url:        url,
		model:      deepseekDefaultModel,
		httpClient: &http.Client{Timeout: apiTimeoutSec * time.Second},
		log:        log.With("service", "DeepseekClient"),
	}
}

type deepseekMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type deepseekRequest struct {
	Model    string            `json:"model"`
	Messages []deepseekMessage `json:"messages"`
}

type deepseekResponseChoice struct {
	Message deepseekMessage `json:"message"`
}

type deepseekResponse struct {
	Choices []deepseekResponseChoice `json:"choices"`
	ID      string                   `json:"id,omitempty"`
}

func (c *DeepseekClient) Name() string { return "deepseek" }

// Generate sends a single user message and returns the first choice.
func (c *DeepseekClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	ctx, span := startSpan(ctx, "deepseek.chat_completions", attribute.String("ai.model", c.model))
	defer span.End()

	reqJSON, err := json.Marshal(deepseekRequest{
		Model:    c.model,
		Messages: []deepseekMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fail(span, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqJSON))
	if err != nil {
		return "", fail(span, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.log.Warn("Deepseek request timed out", "elapsed", time.Since(start).String())
		}
		return "", fail(span, fmt.Errorf("deepseek request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fail(span, fmt.Errorf("read response: %w", err))
	}
	c.log.Debug("Deepseek response", "status", resp.StatusCode, "elapsed", time.Since(start).String(), "bytes", len(body))

	if resp.StatusCode != http.StatusOK {
		return "", fail(span, &APIError{Provider: c.Name(), StatusCode: resp.StatusCode, Body: truncate(string(body), 300)})
	}

	var out deepseekResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fail(span, fmt.Errorf("parse response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", fail(span, ErrEmptyReply)
	}
	content := strings.TrimSpace(out.Choices[0].Message.Content)
	if content == "" {
		return "", fail(span, ErrEmptyReply)
	}
	return content, nil
}
