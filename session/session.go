// Package session drives one learner through one course.
//
// A Controller is an explicit state machine:
//
//	Intro -> AwaitingAnswer <-> Evaluating -> ... -> Complete
//
// Every method may be called from any goroutine. State lives behind a mutex
// that is never held while waiting on a collaborator, and every resumption
// re-checks that the controller is still open before it applies a result.
package session

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/korjavin/voicenary/logger"
	"github.com/korjavin/voicenary/speech"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("operation not allowed in current session state")
	// ErrSessionClosed is returned once Close has been called.
	ErrSessionClosed = errors.New("session closed")
)

// State is the lesson phase.
type State int

const (
	StateIntro State = iota
	StateAwaitingAnswer
	StateEvaluating
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIntro:
		return "intro"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateEvaluating:
		return "evaluating"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Verdict is the result of a typed submission.
type Verdict int

const (
	VerdictIgnored Verdict = iota
	VerdictCorrect
	VerdictIncorrect
)

func (v Verdict) String() string {
	switch v {
	case VerdictCorrect:
		return "correct"
	case VerdictIncorrect:
		return "incorrect"
	default:
		return "ignored"
	}
}

// AudioOutcome reports what happened to an audio request.
type AudioOutcome int

const (
	// AudioPlayed means the clip was synthesized and played to the end.
	AudioPlayed AudioOutcome = iota
	// AudioDropped means another request held the audio lock.
	AudioDropped
	// AudioDegraded means synthesis or playback failed; the session is
	// flagged as demo mode when synthesis is the cause.
	AudioDegraded
	// AudioCanceled means the request was interrupted or the session closed.
	AudioCanceled
)

func (o AudioOutcome) String() string {
	switch o {
	case AudioPlayed:
		return "played"
	case AudioDropped:
		return "dropped"
	case AudioDegraded:
		return "degraded"
	case AudioCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Channel says how an attempt was made.
type Channel string

const (
	ChannelTyped  Channel = "typed"
	ChannelSpoken Channel = "spoken"
)

// Attempt is one checked learner answer.
type Attempt struct {
	CourseID    string
	PromptIndex int
	Input       string
	Channel     Channel
	Correct     bool
	At          time.Time
}

// Tutor produces spoken feedback for an answer.
type Tutor interface {
	Evaluate(ctx context.Context, learnerText, correctAnswer string) (string, error)
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, teach bool) ([]byte, error)
}

// Player plays audio and returns when playback is over. It must stop and
// return promptly when ctx is cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Recognizer transcribes a recorded clip.
type Recognizer interface {
	Transcribe(ctx context.Context, clip speech.Clip, locale string) (string, error)
}

// Notifier receives every observable change. Notify is called without any
// controller lock held and must not block for long.
type Notifier interface {
	Notify(Event)
}

// Recorder stores checked attempts.
type Recorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Deps are the collaborators and tunables of a Controller. Zero tunables
// take their defaults.
type Deps struct {
	Tutor      Tutor
	Synth      Synthesizer
	Player     Player
	Recognizer Recognizer
	Notifier   Notifier
	Recorder   Recorder
	Log        *logger.Logger

	RetryBackoff    time.Duration
	MaxSynthRetries int
	AdvanceDelay    time.Duration
	TutorTimeout    time.Duration
	// Intn returns a uniform value in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int
}

const (
	DefaultRetryBackoff    = time.Second
	DefaultMaxSynthRetries = 3
	DefaultAdvanceDelay    = 2 * time.Second
	DefaultTutorTimeout    = 15 * time.Second
)

func (d Deps) withDefaults() Deps {
	if d.RetryBackoff <= 0 {
		d.RetryBackoff = DefaultRetryBackoff
	}
	if d.MaxSynthRetries <= 0 {
		d.MaxSynthRetries = DefaultMaxSynthRetries
	}
	if d.AdvanceDelay <= 0 {
		d.AdvanceDelay = DefaultAdvanceDelay
	}
	if d.TutorTimeout <= 0 {
		d.TutorTimeout = DefaultTutorTimeout
	}
	if d.Intn == nil {
		d.Intn = rand.Intn
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return d
}
