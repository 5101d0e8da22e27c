package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/korjavin/voicenary/deck"
	"github.com/korjavin/voicenary/logger"
	"github.com/korjavin/voicenary/models"
	"github.com/korjavin/voicenary/speech"
)

// Controller is one learner's pass through one course.
type Controller struct {
	course models.Course
	deps   Deps
	log    *logger.Logger

	// ctx lives as long as the session; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	closed        bool
	state         State
	index         int
	attempts      []string
	feedback      string
	correct       bool
	tutorReply    string
	pronunciation string
	introShown    bool
	announced     int
	completed     bool
	demoMode      bool

	audioLock   bool
	playing     bool
	audioGen    int
	audioCancel context.CancelFunc
	audioDone   chan struct{}
}

// New creates a controller in the Intro state.
func New(course models.Course, deps Deps) (*Controller, error) {
	if len(course.Prompts) == 0 {
		return nil, fmt.Errorf("course %q has no prompts", course.ID)
	}
	if deps.Tutor == nil || deps.Synth == nil || deps.Player == nil {
		return nil, errors.New("session requires a tutor, a synthesizer and a player")
	}
	deps = deps.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		course:    course,
		deps:      deps,
		log:       deps.Log.With("course", course.ID),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIntro,
		announced: -1,
	}, nil
}

// Course returns the course being taught.
func (c *Controller) Course() models.Course { return c.course }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close ends the session. Playing audio stops and later results of
// suspended calls are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.log.Debug("Session closed")
}

// Start plays the course intro. It flips introShown before playing, so a
// failed intro never blocks the lesson. Calling it again is a no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state != StateIntro {
		c.mu.Unlock()
		return ErrInvalidState
	}
	if c.introShown {
		c.mu.Unlock()
		return nil
	}
	c.introShown = true
	text := fmt.Sprintf("%s. %s", c.course.DisplayName, c.course.IntroText)
	c.mu.Unlock()

	c.emit(EventIntro, text)
	ctx, cancel := c.bind(ctx)
	defer cancel()
	c.playSequence(ctx, segment{text: text})
	return nil
}

// AdvanceFromIntro leaves the intro and presents the first prompt.
func (c *Controller) AdvanceFromIntro(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state != StateIntro || !c.introShown {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.state = StateAwaitingAnswer
	c.mu.Unlock()

	c.interruptAudio()
	ctx, cancel := c.bind(ctx)
	defer cancel()
	c.presentPrompt(ctx)
	return nil
}

// SubmitAnswer checks a typed answer against the current prompt. Blank
// input is ignored.
func (c *Controller) SubmitAnswer(ctx context.Context, raw string) (Verdict, error) {
	if strings.TrimSpace(raw) == "" {
		return VerdictIgnored, nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return VerdictIgnored, ErrSessionClosed
	}
	if c.state != StateAwaitingAnswer {
		c.mu.Unlock()
		return VerdictIgnored, ErrInvalidState
	}
	c.attempts = append(c.attempts, raw)
	c.feedback = ""
	c.correct = false
	c.tutorReply = ""
	c.pronunciation = ""
	c.state = StateEvaluating
	index := c.index
	prompt := c.course.Prompts[index]
	c.mu.Unlock()
	c.emit(EventChanged, "")

	c.interruptAudio()
	ctx, cancel := c.bind(ctx)
	defer cancel()

	correct := deck.MatchTyped(raw, prompt.Answer)
	c.record(ctx, index, raw, ChannelTyped, correct)

	if !correct {
		return VerdictIncorrect, c.onIncorrect(ctx, index, raw, prompt)
	}

	feedback := "✅ " + pick(affirmations, c.deps.Intn)
	if err := c.update(func() {
		c.feedback = feedback
		c.correct = true
	}); err != nil {
		return VerdictCorrect, err
	}
	c.emit(EventFeedback, feedback)
	return VerdictCorrect, c.onCorrect(ctx, index, raw, prompt, "")
}

// PronunciationResult is the outcome of CheckPronunciation.
type PronunciationResult struct {
	Transcript string
	Matched    bool
	Feedback   string
}

// CheckPronunciation recognizes clip and, when the transcript contains the
// expected answer, advances as for a correct answer.
func (c *Controller) CheckPronunciation(ctx context.Context, clip speech.Clip) (PronunciationResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return PronunciationResult{}, ErrSessionClosed
	}
	if c.state != StateAwaitingAnswer {
		c.mu.Unlock()
		return PronunciationResult{}, ErrInvalidState
	}
	if c.deps.Recognizer == nil {
		c.pronunciation = unsupportedFeedback
		c.mu.Unlock()
		c.emit(EventPronunciation, unsupportedFeedback)
		return PronunciationResult{Feedback: unsupportedFeedback}, nil
	}
	c.state = StateEvaluating
	c.pronunciation = listeningFeedback
	index := c.index
	prompt := c.course.Prompts[index]
	locale := c.course.SpeechLocale
	c.mu.Unlock()
	c.emit(EventChanged, "")

	c.interruptAudio()
	ctx, cancel := c.bind(ctx)
	defer cancel()

	transcript, err := c.deps.Recognizer.Transcribe(ctx, clip, locale)
	if err != nil {
		msg := recognizeFailed
		if errors.Is(err, speech.ErrUnsupported) {
			msg = unsupportedFeedback
		}
		c.log.Warn("Speech recognition failed", "error", err)
		return PronunciationResult{Feedback: msg}, c.settlePronunciation(index, msg)
	}

	transcript = strings.ToLower(strings.TrimSpace(transcript))
	matched := deck.MatchSpoken(transcript, prompt.Answer)
	c.record(ctx, index, transcript, ChannelSpoken, matched)

	if !matched {
		msg := pronunciationMissed(transcript)
		return PronunciationResult{Transcript: transcript, Feedback: msg}, c.settlePronunciation(index, msg)
	}

	msg := pronunciationMatched(transcript)
	if err := c.update(func() {
		c.pronunciation = msg
		c.correct = true
	}); err != nil {
		return PronunciationResult{}, err
	}
	c.emit(EventPronunciation, msg)

	praise := c.course.Praise
	if praise == "" {
		praise = defaultPraise
	}
	res := PronunciationResult{Transcript: transcript, Matched: true, Feedback: msg}
	return res, c.onCorrect(ctx, index, transcript, prompt, praise)
}

// settlePronunciation reports msg and returns to AwaitingAnswer.
func (c *Controller) settlePronunciation(index int, msg string) error {
	if err := c.update(func() {
		c.pronunciation = msg
		if c.state == StateEvaluating && c.index == index {
			c.state = StateAwaitingAnswer
		}
	}); err != nil {
		return err
	}
	c.emit(EventPronunciation, msg)
	return nil
}

// ReplayPrompt speaks the current prompt again.
func (c *Controller) ReplayPrompt(ctx context.Context) (AudioOutcome, error) {
	return c.speakCurrent(ctx, func(p models.Prompt) segment {
		return segment{text: p.Text, teach: true}
	})
}

// SpeakAnswer speaks the expected answer.
func (c *Controller) SpeakAnswer(ctx context.Context) (AudioOutcome, error) {
	return c.speakCurrent(ctx, func(p models.Prompt) segment {
		return segment{text: p.Answer}
	})
}

// SpeakSlow spells out the pronunciation, or the prompt text when there is
// none.
func (c *Controller) SpeakSlow(ctx context.Context) (AudioOutcome, error) {
	return c.speakCurrent(ctx, func(p models.Prompt) segment {
		src := p.Pronunciation
		if src == "" {
			src = p.Text
		}
		return segment{text: spellOut(src)}
	})
}

func (c *Controller) speakCurrent(ctx context.Context, choose func(models.Prompt) segment) (AudioOutcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return AudioCanceled, ErrSessionClosed
	}
	switch c.state {
	case StateAwaitingAnswer:
	case StateEvaluating:
		// feedback and the next prompt own the audio until the answer settles
		c.mu.Unlock()
		return AudioDropped, nil
	default:
		c.mu.Unlock()
		return AudioDropped, ErrInvalidState
	}
	s := choose(c.course.Prompts[c.index])
	c.mu.Unlock()
	return c.RequestAudio(ctx, s.text, s.teach), nil
}

func (c *Controller) onIncorrect(ctx context.Context, index int, raw string, prompt models.Prompt) error {
	feedback := pick(discouragements, c.deps.Intn)
	if err := c.update(func() { c.feedback = feedback }); err != nil {
		return err
	}
	c.emit(EventFeedback, feedback)

	reply, tutorErr := c.evaluate(ctx, raw, prompt.Answer)
	if err := c.update(func() {
		if tutorErr != nil {
			c.feedback = checkFailedFeedback
		} else {
			c.tutorReply = reply
		}
		if c.state == StateEvaluating && c.index == index {
			c.state = StateAwaitingAnswer
		}
	}); err != nil {
		return err
	}
	if tutorErr != nil {
		c.emit(EventFeedback, checkFailedFeedback)
		return nil
	}
	c.emit(EventTutorReply, reply)
	c.RequestAudio(ctx, reply, false)
	return nil
}

// onCorrect speaks praise (or the tutor's reply when praise is empty) and
// moves to the next prompt.
func (c *Controller) onCorrect(ctx context.Context, index int, learnerText string, prompt models.Prompt, praise string) error {
	if praise == "" {
		reply, err := c.evaluate(ctx, learnerText, prompt.Answer)
		if err != nil {
			reply = fallbackCorrectReply
		}
		if err := c.update(func() { c.tutorReply = reply }); err != nil {
			return err
		}
		c.emit(EventTutorReply, reply)
		praise = reply
	}

	if c.RequestAudio(ctx, praise, false) != AudioPlayed {
		_ = sleep(ctx, c.deps.AdvanceDelay)
	}
	return c.advance(ctx, index)
}

// advance moves past prompt from. It is a no-op unless the session is
// still evaluating that prompt.
func (c *Controller) advance(ctx context.Context, from int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.state != StateEvaluating || c.index != from {
		c.mu.Unlock()
		return nil
	}
	c.index++
	c.attempts = nil
	c.feedback = ""
	c.correct = false
	c.tutorReply = ""
	c.pronunciation = ""
	finished := c.index >= len(c.course.Prompts)
	playCompletion := false
	if finished {
		c.state = StateComplete
		playCompletion = !c.completed
		c.completed = true
	} else {
		c.state = StateAwaitingAnswer
	}
	c.mu.Unlock()

	if !finished {
		c.presentPrompt(ctx)
		return nil
	}
	if playCompletion {
		text := c.course.Completion
		if text == "" {
			text = defaultCompletion
		}
		c.log.Info("Lesson complete", "prompts", len(c.course.Prompts))
		c.emit(EventComplete, text)
		c.RequestAudio(ctx, text, false)
	}
	return nil
}

// presentPrompt announces the current prompt once per index.
func (c *Controller) presentPrompt(ctx context.Context) {
	c.mu.Lock()
	if c.closed || c.index >= len(c.course.Prompts) {
		c.mu.Unlock()
		return
	}
	index := c.index
	p := c.course.Prompts[index]
	first := index > c.announced
	c.mu.Unlock()

	c.emit(EventPrompt, p.Text)
	if !first {
		return
	}
	outcomes := c.playSequence(ctx,
		segment{text: announcement(p.Text)},
		segment{text: p.Text, teach: true},
	)
	// a dropped or interrupted announcement may be retried for this prompt
	if len(outcomes) > 0 && (outcomes[0] == AudioPlayed || outcomes[0] == AudioDegraded) {
		c.mu.Lock()
		if index > c.announced {
			c.announced = index
		}
		c.mu.Unlock()
	}
}

func (c *Controller) evaluate(ctx context.Context, learnerText, answer string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.deps.TutorTimeout)
	defer cancel()

	reply, err := c.deps.Tutor.Evaluate(ctx, learnerText, answer)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("tutor returned an empty reply")
	}
	if err != nil {
		c.log.Warn("Tutor unavailable, using fallback", "error", err)
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (c *Controller) record(ctx context.Context, index int, input string, ch Channel, correct bool) {
	if c.deps.Recorder == nil {
		return
	}
	a := Attempt{
		CourseID:    c.course.ID,
		PromptIndex: index,
		Input:       input,
		Channel:     ch,
		Correct:     correct,
		At:          time.Now(),
	}
	if err := c.deps.Recorder.RecordAttempt(ctx, a); err != nil {
		c.log.Warn("Failed to record attempt", "error", err)
	}
}

// update applies fn under the lock unless the session has been closed.
func (c *Controller) update(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	fn()
	return nil
}

// bind derives a context that is also cancelled when the session closes.
func (c *Controller) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
