// Package speech recognizes what the learner said.
package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"github.com/korjavin/voicenary/logger"
)

// ErrUnsupported means no recognition backend is available.
var ErrUnsupported = errors.New("speech recognition not supported")

// Clip is a recorded utterance.
type Clip struct {
	Data     []byte
	MimeType string
}

// GoogleRecognizer uses Cloud Speech-to-Text synchronous recognition.
type GoogleRecognizer struct {
	client *gspeech.Client
	log    *logger.Logger
}

// NewGoogleRecognizer dials the Speech API with credentials from the
// environment.
func NewGoogleRecognizer(ctx context.Context, log *logger.Logger) (*GoogleRecognizer, error) {
	if log == nil {
		log = logger.Nop()
	}
	c, err := gspeech.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &GoogleRecognizer{client: c, log: log.With("service", "GoogleRecognizer")}, nil
}

// ClientOptionsFromEnv reads GOOGLE_APPLICATION_CREDENTIALS_JSON (inline
// JSON) or GOOGLE_APPLICATION_CREDENTIALS (a path).
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func (g *GoogleRecognizer) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Transcribe returns the best transcript of clip in the given locale.
func (g *GoogleRecognizer) Transcribe(ctx context.Context, clip Clip, locale string) (string, error) {
	if len(clip.Data) == 0 {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ctx, span := otel.Tracer("voicenary/speech").Start(ctx, "gcp.speech.recognize",
		trace.WithAttributes(attribute.String("speech.locale", locale), attribute.String("speech.mime", clip.MimeType)))
	defer span.End()

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: RecognitionConfig(clip.MimeType, locale),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: clip.Data}},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("speech recognize: %w", err)
	}
	transcript := JoinTranscript(resp.GetResults())
	g.log.Debug("Speech recognized", "locale", locale, "length", len(transcript))
	return transcript, nil
}

// RecognitionConfig builds the request config for a clip.
func RecognitionConfig(mimeType, locale string) *speechpb.RecognitionConfig {
	if locale == "" {
		locale = "en-US"
	}
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:    locale,
		MaxAlternatives: 1,
		Encoding:        InferEncoding(mimeType),
	}
	switch cfg.Encoding {
	case speechpb.RecognitionConfig_OGG_OPUS, speechpb.RecognitionConfig_WEBM_OPUS:
		cfg.SampleRateHertz = 48000
	}
	return cfg
}

// InferEncoding maps a MIME type to a Speech API encoding.
func InferEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	case strings.Contains(m, "ogg") || strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mpeg") || strings.Contains(m, "mp3"):
		return speechpb.RecognitionConfig_MP3
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// JoinTranscript concatenates the first alternative of every result.
func JoinTranscript(results []*speechpb.SpeechRecognitionResult) string {
	var b strings.Builder
	for _, r := range results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		t := strings.TrimSpace(r.Alternatives[0].Transcript)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}
