package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/korjavin/voicenary/models"
	"github.com/korjavin/voicenary/speech"
	"github.com/korjavin/voicenary/tts"
)

const introLine = "Pierre the French Chef. Bonjour! I'm Pierre."

func testCourse() models.Course {
	return models.Course{
		ID:             "french-basics",
		DisplayName:    "Pierre the French Chef",
		IntroText:      "Bonjour! I'm Pierre.",
		VoiceProfileID: "pierre-voice",
		SpeechLocale:   "fr-FR",
		Praise:         "Bien! Prochaine question!",
		Prompts: []models.Prompt{
			{Text: "Bonjour", Answer: "bonjour", English: "Hello", Hint: "Try saying: \"bonjour\"", Pronunciation: "bohn-ZHOOR"},
			{Text: "Merci", Answer: "merci", English: "Thank you"},
		},
	}
}

type fakeTutor struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   bool
	started chan struct{}
	release chan struct{}
	calls   int
}

func (f *fakeTutor) Evaluate(ctx context.Context, learnerText, correctAnswer string) (string, error) {
	f.mu.Lock()
	f.calls++
	block, release, reply, err := f.block, f.release, f.reply, f.err
	f.mu.Unlock()
	if block {
		close(f.started)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
		}
	}
	return reply, err
}

type fakeSynth struct {
	mu    sync.Mutex
	busy  int
	err   error
	calls int
	voice string
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, voiceID string, teach bool) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.voice = voiceID
	if f.busy > 0 {
		f.busy--
		return nil, fmt.Errorf("%w: try again later", tts.ErrSystemBusy)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(tts.SpeechText(text, teach)), nil
}

func (f *fakeSynth) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePlayer struct {
	mu      sync.Mutex
	played  []string
	hold    string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *fakePlayer) holdOn(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hold = text
	p.started = make(chan struct{})
	p.release = make(chan struct{})
}

func (p *fakePlayer) Play(ctx context.Context, audio []byte) error {
	text := string(audio)
	p.mu.Lock()
	p.played = append(p.played, text)
	hold, started, release := p.hold, p.started, p.release
	p.mu.Unlock()
	if hold == "" || text != hold {
		return nil
	}
	p.once.Do(func() { close(started) })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-release:
		return nil
	}
}

func (p *fakePlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

func (p *fakePlayer) count(text string) int {
	n := 0
	for _, s := range p.Played() {
		if s == text {
			n++
		}
	}
	return n
}

type fakeRecognizer struct {
	transcript string
	err        error
	locale     string
}

func (r *fakeRecognizer) Transcribe(ctx context.Context, clip speech.Clip, locale string) (string, error) {
	r.locale = locale
	return r.transcript, r.err
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) texts(kind EventKind) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e.Text)
		}
	}
	return out
}

type memRecorder struct {
	mu       sync.Mutex
	attempts []Attempt
}

func (r *memRecorder) RecordAttempt(ctx context.Context, a Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

type harness struct {
	c        *Controller
	tutor    *fakeTutor
	synth    *fakeSynth
	player   *fakePlayer
	events   *eventLog
	recorder *memRecorder
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		tutor:    &fakeTutor{reply: "Très bien!"},
		synth:    &fakeSynth{},
		player:   &fakePlayer{},
		events:   &eventLog{},
		recorder: &memRecorder{},
	}
	deps := Deps{
		Tutor:        h.tutor,
		Synth:        h.synth,
		Player:       h.player,
		Notifier:     h.events,
		Recorder:     h.recorder,
		RetryBackoff: time.Millisecond,
		AdvanceDelay: time.Millisecond,
		TutorTimeout: time.Second,
		Intn:         func(int) int { return 0 },
	}
	if mutate != nil {
		mutate(&deps)
	}
	c, err := New(testCourse(), deps)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(c.Close)
	h.c = c
	return h
}

func (h *harness) enterLesson(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.c.AdvanceFromIntro(ctx); err != nil {
		t.Fatalf("advance from intro: %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(testCourse(), Deps{}); err == nil {
		t.Fatal("expected error without collaborators")
	}
	empty := testCourse()
	empty.Prompts = nil
	if _, err := New(empty, Deps{Tutor: &fakeTutor{}, Synth: &fakeSynth{}, Player: &fakePlayer{}}); err == nil {
		t.Fatal("expected error for a course without prompts")
	}
}

func TestStartPlaysIntroOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.c.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := h.player.count(introLine); got != 1 {
		t.Fatalf("intro played %d times, want 1", got)
	}
	if h.synth.voice != "pierre-voice" {
		t.Fatalf("unexpected voice: %q", h.synth.voice)
	}
	if h.c.State() != StateIntro {
		t.Fatalf("state = %v, want intro", h.c.State())
	}
}

func TestStartFailureDoesNotBlockLesson(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.err = errors.New("quota exceeded")
	ctx := context.Background()

	if err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.c.Snapshot().DemoMode {
		t.Fatal("expected demo mode after synthesis failure")
	}
	if err := h.c.AdvanceFromIntro(ctx); err != nil {
		t.Fatalf("advance from intro: %v", err)
	}
	if h.c.State() != StateAwaitingAnswer {
		t.Fatalf("state = %v, want awaiting_answer", h.c.State())
	}
}

func TestAdvanceFromIntroRequiresIntro(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.c.AdvanceFromIntro(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before start, got %v", err)
	}
	h.enterLesson(t)
	if err := h.c.AdvanceFromIntro(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after leaving intro, got %v", err)
	}
}

func TestAdvanceFromIntroAnnouncesPromptInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLesson(t)

	want := []string{
		introLine,
		"Okay, let's learn how to say 'Bonjour' today!",
		"Repeat after me: Bonjour",
	}
	got := h.player.Played()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("played %q, want %q", got, want)
	}
	snap := h.c.Snapshot()
	if snap.Prompt == nil || snap.Prompt.Text != "Bonjour" || snap.Progress != 1 || snap.Total != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if prompts := h.events.texts(EventPrompt); len(prompts) != 1 || prompts[0] != "Bonjour" {
		t.Fatalf("unexpected prompt events: %q", prompts)
	}
}

func TestSubmitAnswerIgnoresBlankInput(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLesson(t)

	v, err := h.c.SubmitAnswer(context.Background(), "   ")
	if err != nil || v != VerdictIgnored {
		t.Fatalf("got %v, %v; want ignored", v, err)
	}
	if snap := h.c.Snapshot(); len(snap.Attempts) != 0 {
		t.Fatalf("blank input recorded: %q", snap.Attempts)
	}
}

func TestSubmitAnswerOutsideLesson(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.c.SubmitAnswer(context.Background(), "bonjour"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState in intro, got %v", err)
	}
}

func TestSubmitAnswerCorrectAdvances(t *testing.T) {
	for _, input := range []string{"bonjour!", "  BONJOUR ", "Bonjour"} {
		t.Run(input, func(t *testing.T) {
			h := newHarness(t, nil)
			h.enterLesson(t)

			v, err := h.c.SubmitAnswer(context.Background(), input)
			if err != nil || v != VerdictCorrect {
				t.Fatalf("got %v, %v; want correct", v, err)
			}
			snap := h.c.Snapshot()
			if snap.State != StateAwaitingAnswer || snap.Progress != 2 {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}
			if len(snap.Attempts) != 0 || snap.Feedback != "" {
				t.Fatalf("attempts and feedback must reset: %+v", snap)
			}
			if fb := h.events.texts(EventFeedback); len(fb) != 1 || fb[0] != "✅ "+affirmations[0] {
				t.Fatalf("unexpected feedback events: %q", fb)
			}
			if h.player.count("Très bien!") != 1 {
				t.Fatalf("tutor reply not played: %q", h.player.Played())
			}
			if h.player.count("Repeat after me: Merci") != 1 {
				t.Fatalf("next prompt not announced: %q", h.player.Played())
			}
		})
	}
}

func TestSubmitAnswerIncorrectKeepsPrompt(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLesson(t)
	ctx := context.Background()

	v, err := h.c.SubmitAnswer(ctx, "Bonjour please")
	if err != nil || v != VerdictIncorrect {
		t.Fatalf("got %v, %v; want incorrect", v, err)
	}
	v, _ = h.c.SubmitAnswer(ctx, "bonsoir")
	if v != VerdictIncorrect {
		t.Fatalf("got %v, want incorrect", v)
	}
	snap := h.c.Snapshot()
	if snap.Progress != 1 || snap.State != StateAwaitingAnswer {
		t.Fatalf("incorrect answer must not advance: %+v", snap)
	}
	if strings.Join(snap.Attempts, "|") != "Bonjour please|bonsoir" {
		t.Fatalf("attempts = %q", snap.Attempts)
	}
	if snap.Feedback != discouragements[0] || snap.TutorReply != "Très bien!" {
		t.Fatalf("unexpected feedback: %+v", snap)
	}

	if v, _ := h.c.SubmitAnswer(ctx, "bonjour"); v != VerdictCorrect {
		t.Fatalf("got %v, want correct", v)
	}
	if snap := h.c.Snapshot(); len(snap.Attempts) != 0 || snap.Progress != 2 {
		t.Fatalf("attempts must reset when the prompt changes: %+v", snap)
	}

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	if len(h.recorder.attempts) != 3 || h.recorder.attempts[2].Correct != true || h.recorder.attempts[0].Channel != ChannelTyped {
		t.Fatalf("unexpected recorded attempts: %+v", h.recorder.attempts)
	}
}

func TestTutorFailureOnCorrectAnswerFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.tutor.err = errors.New("gemini: quota exceeded")
	h.enterLesson(t)

	v, err := h.c.SubmitAnswer(context.Background(), "bonjour")
	if err != nil || v != VerdictCorrect {
		t.Fatalf("got %v, %v; want correct", v, err)
	}
	if replies := h.events.texts(EventTutorReply); len(replies) != 1 || replies[0] != fallbackCorrectReply {
		t.Fatalf("unexpected tutor replies: %q", replies)
	}
	if h.player.count(fallbackCorrectReply) != 1 {
		t.Fatalf("fallback not spoken: %q", h.player.Played())
	}
	if snap := h.c.Snapshot(); snap.Progress != 2 {
		t.Fatalf("session must still advance: %+v", snap)
	}
}

func TestTutorFailureOnIncorrectAnswer(t *testing.T) {
	h := newHarness(t, nil)
	h.tutor.err = errors.New("network down")
	h.enterLesson(t)

	if _, err := h.c.SubmitAnswer(context.Background(), "salut"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := h.c.Snapshot()
	if snap.Feedback != checkFailedFeedback || snap.State != StateAwaitingAnswer || snap.Progress != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestCompletionPlaysOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLesson(t)
	ctx := context.Background()

	for _, answer := range []string{"bonjour", "merci"} {
		if v, err := h.c.SubmitAnswer(ctx, answer); err != nil || v != VerdictCorrect {
			t.Fatalf("%s: got %v, %v", answer, v, err)
		}
	}
	snap := h.c.Snapshot()
	if !snap.Complete || snap.State != StateComplete || snap.Prompt != nil || snap.Progress != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// Re-evaluating the last transition must not replay anything.
	if err := h.c.advance(ctx, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := h.c.SubmitAnswer(ctx, "merci"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after completion, got %v", err)
	}
	if got := h.player.count(defaultCompletion); got != 1 {
		t.Fatalf("completion played %d times, want 1", got)
	}
	if got := h.events.texts(EventComplete); len(got) != 1 {
		t.Fatalf("completion events = %d, want 1", len(got))
	}
}

func TestRequestAudioRetriesBusyProvider(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.busy = 3

	out := h.c.RequestAudio(context.Background(), "Bonjour", true)
	if out != AudioPlayed {
		t.Fatalf("outcome = %v, want played", out)
	}
	if calls := h.synth.Calls(); calls != 4 {
		t.Fatalf("synth calls = %d, want 4 (3 retries)", calls)
	}
	if h.player.count("Repeat after me: Bonjour") != 1 {
		t.Fatalf("final audio not played: %q", h.player.Played())
	}
	snap := h.c.Snapshot()
	if snap.Loading || snap.DemoMode {
		t.Fatalf("unexpected flags: %+v", snap)
	}
}

func TestRequestAudioGivesUpAfterRetries(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.busy = 10

	if out := h.c.RequestAudio(context.Background(), "Bonjour", false); out != AudioDegraded {
		t.Fatalf("outcome = %v, want degraded", out)
	}
	if calls := h.synth.Calls(); calls != 4 {
		t.Fatalf("synth calls = %d, want 4", calls)
	}
	snap := h.c.Snapshot()
	if snap.Loading {
		t.Fatal("audio lock held after failure")
	}
	if !snap.DemoMode {
		t.Fatal("expected demo mode")
	}
}

func TestRequestAudioDoesNotRetryOtherErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.synth.err = &tts.APIError{StatusCode: 401, Body: "unauthorized"}

	if out := h.c.RequestAudio(context.Background(), "x", false); out != AudioDegraded {
		t.Fatalf("outcome = %v, want degraded", out)
	}
	if calls := h.synth.Calls(); calls != 1 {
		t.Fatalf("synth calls = %d, want 1", calls)
	}
	if h.c.Snapshot().Loading {
		t.Fatal("audio lock held after failure")
	}
}

func TestRequestAudioDropsWhileLocked(t *testing.T) {
	h := newHarness(t, nil)
	h.player.holdOn("first")

	done := make(chan AudioOutcome)
	go func() { done <- h.c.RequestAudio(context.Background(), "first", false) }()
	<-h.player.started

	if !h.c.Snapshot().Loading {
		t.Fatal("expected loading while audio plays")
	}
	if out := h.c.RequestAudio(context.Background(), "second", false); out != AudioDropped {
		t.Fatalf("outcome = %v, want dropped", out)
	}
	close(h.player.release)
	if out := <-done; out != AudioPlayed {
		t.Fatalf("outcome = %v, want played", out)
	}
	if h.player.count("second") != 0 {
		t.Fatal("dropped request must not play")
	}
	if h.c.Snapshot().Loading {
		t.Fatal("audio lock held after playback")
	}
}

func TestSubmitAnswerInterruptsAnnouncement(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.player.holdOn("Okay, let's learn how to say 'Bonjour' today!")

	done := make(chan error)
	go func() { done <- h.c.AdvanceFromIntro(ctx) }()
	<-h.player.started

	if v, err := h.c.SubmitAnswer(ctx, "salut"); err != nil || v != VerdictIncorrect {
		t.Fatalf("got %v, %v; want incorrect", v, err)
	}
	if err := <-done; err != nil {
		t.Fatalf("advance from intro: %v", err)
	}
	if h.player.count("Repeat after me: Bonjour") != 0 {
		t.Fatalf("interrupted sequence continued: %q", h.player.Played())
	}
}

func TestCloseStopsPlayingAudio(t *testing.T) {
	h := newHarness(t, nil)
	h.player.holdOn(introLine)

	done := make(chan error)
	go func() { done <- h.c.Start(context.Background()) }()
	<-h.player.started

	h.c.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audio did not stop on close")
	}
	if h.c.Snapshot().Loading {
		t.Fatal("audio lock held after close")
	}
	if err := h.c.AdvanceFromIntro(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestCloseDiscardsLateTutorReply(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLesson(t)
	h.tutor.block = true
	h.tutor.started = make(chan struct{})

	done := make(chan error)
	go func() {
		_, err := h.c.SubmitAnswer(context.Background(), "bonjour")
		done <- err
	}()
	<-h.tutor.started
	h.c.Close()

	if err := <-done; !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	snap := h.c.Snapshot()
	if snap.Progress != 1 || snap.TutorReply != "" {
		t.Fatalf("closed session was mutated: %+v", snap)
	}
}

func TestCheckPronunciationMatch(t *testing.T) {
	rec := &fakeRecognizer{transcript: "I think it is bonjour yes"}
	h := newHarness(t, func(d *Deps) { d.Recognizer = rec })
	h.enterLesson(t)

	res, err := h.c.CheckPronunciation(context.Background(), speech.Clip{Data: []byte("ogg"), MimeType: "audio/ogg"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Matched || res.Transcript != "i think it is bonjour yes" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rec.locale != "fr-FR" {
		t.Fatalf("locale = %q", rec.locale)
	}
	if h.player.count("Bien! Prochaine question!") != 1 {
		t.Fatalf("praise not played: %q", h.player.Played())
	}
	if snap := h.c.Snapshot(); snap.Progress != 2 || snap.State != StateAwaitingAnswer {
		t.Fatalf("matching pronunciation must advance: %+v", snap)
	}
	if h.tutor.calls != 0 {
		t.Fatalf("tutor called %d times for pronunciation", h.tutor.calls)
	}
}

func TestCheckPronunciationMiss(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Recognizer = &fakeRecognizer{transcript: "bonsoir"} })
	h.enterLesson(t)

	res, err := h.c.CheckPronunciation(context.Background(), speech.Clip{Data: []byte("ogg")})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Matched || !strings.HasPrefix(res.Feedback, "❌ Try again.") {
		t.Fatalf("unexpected result: %+v", res)
	}
	if snap := h.c.Snapshot(); snap.Progress != 1 || snap.State != StateAwaitingAnswer {
		t.Fatalf("miss must not advance: %+v", snap)
	}
}

func TestCheckPronunciationUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLesson(t)

	res, err := h.c.CheckPronunciation(context.Background(), speech.Clip{})
	if err != nil || res.Feedback != unsupportedFeedback {
		t.Fatalf("got %+v, %v", res, err)
	}

	h2 := newHarness(t, func(d *Deps) { d.Recognizer = &fakeRecognizer{err: errors.New("deadline exceeded")} })
	h2.enterLesson(t)
	res, err = h2.c.CheckPronunciation(context.Background(), speech.Clip{Data: []byte("x")})
	if err != nil || res.Feedback != recognizeFailed {
		t.Fatalf("got %+v, %v", res, err)
	}
	if h2.c.State() != StateAwaitingAnswer {
		t.Fatalf("state = %v, want awaiting_answer", h2.c.State())
	}
}

func TestSpeakHelpers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.c.SpeakSlow(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState in intro, got %v", err)
	}
	h.enterLesson(t)

	if out, err := h.c.SpeakSlow(ctx); err != nil || out != AudioPlayed {
		t.Fatalf("slow: %v, %v", out, err)
	}
	if out, err := h.c.SpeakAnswer(ctx); err != nil || out != AudioPlayed {
		t.Fatalf("answer: %v, %v", out, err)
	}
	if out, err := h.c.ReplayPrompt(ctx); err != nil || out != AudioPlayed {
		t.Fatalf("replay: %v, %v", out, err)
	}
	played := h.player.Played()
	tail := played[len(played)-3:]
	want := []string{"b o h n - Z H O O R", "bonjour", "Repeat after me: Bonjour"}
	if strings.Join(tail, "|") != strings.Join(want, "|") {
		t.Fatalf("played %q, want %q", tail, want)
	}
}

func TestSpeakDuringEvaluationKeepsFeedbackAndNextPrompt(t *testing.T) {
	h := newHarness(t, nil)
	h.enterLesson(t)
	h.tutor.block = true
	h.tutor.started = make(chan struct{})
	h.tutor.release = make(chan struct{})

	ctx := context.Background()
	type result struct {
		v   Verdict
		err error
	}
	done := make(chan result)
	go func() {
		v, err := h.c.SubmitAnswer(ctx, "bonjour")
		done <- result{v, err}
	}()
	<-h.tutor.started

	if out, err := h.c.ReplayPrompt(ctx); err != nil || out != AudioDropped {
		t.Fatalf("replay during evaluation: %v, %v", out, err)
	}
	if out, err := h.c.SpeakAnswer(ctx); err != nil || out != AudioDropped {
		t.Fatalf("answer during evaluation: %v, %v", out, err)
	}
	close(h.tutor.release)

	res := <-done
	if res.err != nil || res.v != VerdictCorrect {
		t.Fatalf("got %v, %v; want correct", res.v, res.err)
	}
	if snap := h.c.Snapshot(); snap.Progress != 2 || snap.State != StateAwaitingAnswer {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	for _, clip := range []string{"Très bien!", "Okay, let's learn how to say 'Merci' today!", "Repeat after me: Merci"} {
		if h.player.count(clip) != 1 {
			t.Fatalf("%q played %d times: %q", clip, h.player.count(clip), h.player.Played())
		}
	}
}

func TestDroppedAnnouncementIsRetried(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.player.holdOn("held")
	held := make(chan AudioOutcome)
	go func() { held <- h.c.RequestAudio(ctx, "held", false) }()
	<-h.player.started

	h.c.mu.Lock()
	h.c.state = StateAwaitingAnswer
	h.c.mu.Unlock()
	h.c.presentPrompt(ctx)
	announce := "Okay, let's learn how to say 'Bonjour' today!"
	if h.player.count(announce) != 0 {
		t.Fatalf("announcement played over a held clip: %q", h.player.Played())
	}
	close(h.player.release)
	<-held

	h.c.presentPrompt(ctx)
	if h.player.count(announce) != 1 || h.player.count("Repeat after me: Bonjour") != 1 {
		t.Fatalf("announcement not retried: %q", h.player.Played())
	}
	h.c.presentPrompt(ctx)
	if h.player.count(announce) != 1 {
		t.Fatalf("announcement repeated after it played: %q", h.player.Played())
	}
}

func TestSpellOut(t *testing.T) {
	if got := spellOut("감사"); got != "감 사" {
		t.Fatalf("spellOut = %q", got)
	}
	if got := spellOut(""); got != "" {
		t.Fatalf("spellOut(\"\") = %q", got)
	}
}
