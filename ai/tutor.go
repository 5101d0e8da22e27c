package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/korjavin/voicenary/deck"
	"github.com/korjavin/voicenary/logger"
	"github.com/korjavin/voicenary/models"
)

var (
	// ErrNotConfigured means the provider has no API key.
	ErrNotConfigured = errors.New("ai provider not configured")
	// ErrEmptyReply means the provider answered without any text.
	ErrEmptyReply = errors.New("ai provider returned no text")
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Generator turns one prompt into one text reply.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// ReplyCache stores generated replies. Implemented by database.DB.
type ReplyCache interface {
	CachedReply(ctx context.Context, answerKey, inputKey string) (string, bool, error)
	CacheReply(ctx context.Context, answerKey, inputKey, reply string) error
}

// Tutor asks a generator for short spoken feedback and prompt explanations.
type Tutor struct {
	gen   Generator
	cache ReplyCache
	log   *logger.Logger
}

// NewTutor wraps gen. cache may be nil.
func NewTutor(gen Generator, cache ReplyCache, log *logger.Logger) *Tutor {
	if log == nil {
		log = logger.Nop()
	}
	return &Tutor{gen: gen, cache: cache, log: log.With("service", "Tutor", "provider", gen.Name())}
}

// Provider names the underlying generator.
func (t *Tutor) Provider() string { return t.gen.Name() }

// Evaluate returns the tutor's reply to what the learner said, given the
// correct answer.
func (t *Tutor) Evaluate(ctx context.Context, learnerText, correctAnswer string) (string, error) {
	answerKey := "eval:" + deck.NormalizeScript(correctAnswer)
	inputKey := deck.NormalizeScript(learnerText)
	return t.cached(ctx, answerKey, inputKey, func() string {
		return EvaluationPrompt(learnerText, correctAnswer)
	})
}

// Explain describes a prompt: translation, a memory aid and tricky words.
func (t *Tutor) Explain(ctx context.Context, course models.Course, index int) (string, error) {
	if index < 0 || index >= len(course.Prompts) {
		return "", fmt.Errorf("prompt %d out of range", index)
	}
	p := course.Prompts[index]
	answerKey := "explain:" + course.ID
	inputKey := fmt.Sprint(index)
	return t.cached(ctx, answerKey, inputKey, func() string {
		return ExplanationPrompt(course.Language, p)
	})
}

func (t *Tutor) cached(ctx context.Context, answerKey, inputKey string, prompt func() string) (string, error) {
	if t.cache != nil {
		reply, ok, err := t.cache.CachedReply(ctx, answerKey, inputKey)
		if err != nil {
			t.log.Warn("Reply cache lookup failed", "error", err)
		} else if ok {
			return reply, nil
		}
	}

	start := time.Now()
	reply, err := t.gen.Generate(ctx, prompt())
	if err != nil {
		return "", err
	}
	t.log.Debug("Tutor reply generated", "elapsed", time.Since(start).String(), "length", len(reply))

	if t.cache != nil {
		if err := t.cache.CacheReply(ctx, answerKey, inputKey, reply); err != nil {
			t.log.Warn("Reply cache store failed", "error", err)
		}
	}
	return reply, nil
}

// EvaluationPrompt is the instruction sent for a learner answer.
func EvaluationPrompt(learnerText, correctAnswer string) string {
	correctAnswer = strings.TrimPrefix(correctAnswer, "The correct answer is: ")
	return fmt.Sprintf("You are a friendly, encouraging language teacher. The correct answer is: %s "+
		"The student said: %q. Give a single, natural, supportive response as the teacher would say "+
		"to the student. Do not list options or explain what a teacher could say. Just say it as the teacher.",
		correctAnswer, learnerText)
}

// ExplanationPrompt asks for help with one prompt.
func ExplanationPrompt(language string, p models.Prompt) string {
	return fmt.Sprintf(`I am learning %s. Please help me with this phrase:

Phrase: %s
Expected reply: %s
Meaning: %s

1. Translate the phrase and the reply to English
2. Suggest a mnemonic or memory aid to help remember the reply
3. If there are challenging words, explain them and how to pronounce them

Be concise and answer in plain text.`, language, p.Text, p.Answer, p.English)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("voicenary/ai").Start(ctx, name, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
