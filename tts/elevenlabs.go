// Package tts synthesizes speech for the tutor voices.
package tts

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/korjavin/voicenary/logger"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io"
	elevenLabsModel   = "eleven_monolingual_v1"

	// TeachPrefix frames text the learner should repeat.
	TeachPrefix = "Repeat after me: "
)

var (
	// ErrSystemBusy is the provider's transient "system busy" condition.
	ErrSystemBusy = errors.New("tts system busy")
	// ErrNotConfigured means no API key or voice is available.
	ErrNotConfigured = errors.New("tts not configured")
)

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs api error %d: %s", e.StatusCode, e.Body)
}

// Detail extracts detail.message from the provider's JSON error body.
func (e *APIError) Detail() string {
	var body struct {
		Detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"detail"`
	}
	if err := json.Unmarshal([]byte(e.Body), &body); err != nil {
		return ""
	}
	return body.Detail.Message
}

// Synthesizer turns text into audio/mpeg bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, teach bool) ([]byte, error)
}

// SpeechText is the text actually spoken for a request.
func SpeechText(text string, teach bool) string {
	if teach {
		return TeachPrefix + text
	}
	return text
}

// ElevenLabsClient calls the ElevenLabs text-to-speech API.
type ElevenLabsClient struct {
	apiKey       string
	baseURL      string
	defaultVoice string
	httpClient   *http.Client
	log          *logger.Logger
}

// NewElevenLabsClient creates a client. defaultVoice is used when a request
// names no voice.
func NewElevenLabsClient(apiKey, baseURL, defaultVoice string, log *logger.Logger) *ElevenLabsClient {
	if baseURL == "" {
		baseURL = elevenLabsBaseURL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ElevenLabsClient{
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultVoice: defaultVoice,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log.With("service", "ElevenLabsClient"),
	}
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, voiceID string, teach bool) ([]byte, error) {
	if voiceID == "" {
		voiceID = c.defaultVoice
	}
	if c.apiKey == "" || voiceID == "" {
		return nil, ErrNotConfigured
	}

	ctx, span := otel.Tracer("voicenary/tts").Start(ctx, "elevenlabs.text_to_speech",
		trace.WithAttributes(attribute.String("tts.voice", voiceID), attribute.Bool("tts.teach", teach)))
	defer span.End()

	audio, err := c.synthesize(ctx, SpeechText(text, teach), voiceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return audio, nil
}

func (c *ElevenLabsClient) synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	reqJSON, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: elevenLabsModel})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("ElevenLabs response", "status", resp.StatusCode, "elapsed", time.Since(start).String(), "bytes", len(body))

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(body)}
		if strings.Contains(apiErr.Body, "system_busy") {
			return nil, fmt.Errorf("%w: %v", ErrSystemBusy, apiErr)
		}
		return nil, apiErr
	}
	if len(body) == 0 {
		return nil, errors.New("tts returned empty audio")
	}
	return body, nil
}
