package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/korjavin/voicenary/logger"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-1.5-flash"
)

// GeminiClient calls the Generative Language generateContent endpoint.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *logger.Logger
}

// NewGeminiClient creates a client. Empty baseURL and model select the
// public endpoint and gemini-1.5-flash.
func NewGeminiClient(apiKey, baseURL, model string, log *logger.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	if model == "" {
		model = geminiDefaultModel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: apiTimeoutSec * time.Second},
		log:        log.With("service", "GeminiClient"),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

func (c *GeminiClient) Name() string { return "gemini" }

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	ctx, span := startSpan(ctx, "gemini.generate_content", attribute.String("ai.model", c.model))
	defer span.End()

	reqJSON, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fail(span, fmt.Errorf("marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return "", fail(span, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fail(span, fmt.Errorf("gemini request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fail(span, fmt.Errorf("read response: %w", err))
	}
	c.log.Debug("Gemini response", "status", resp.StatusCode, "elapsed", time.Since(start).String(), "bytes", len(body))

	if resp.StatusCode != http.StatusOK {
		return "", fail(span, &APIError{Provider: c.Name(), StatusCode: resp.StatusCode, Body: truncate(string(body), 300)})
	}

	var out geminiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fail(span, fmt.Errorf("parse response: %w", err))
	}
	var b strings.Builder
	for _, cand := range out.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fail(span, ErrEmptyReply)
	}
	return text, nil
}
