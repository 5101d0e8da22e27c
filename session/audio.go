package session

import (
	"context"
	"errors"
	"time"

	"github.com/korjavin/voicenary/tts"
)

// RequestAudio synthesizes text in the course voice and plays it. Only one
// request runs at a time; a request made while another holds the audio lock
// is dropped. Failures never surface as errors: they come back as
// AudioDegraded and turn on demo mode.
func (c *Controller) RequestAudio(ctx context.Context, text string, teach bool) AudioOutcome {
	return c.play(ctx, text, teach, anyGen)
}

// anyGen lets a request run regardless of earlier interruptions.
const anyGen = -1

func (c *Controller) play(ctx context.Context, text string, teach bool, gen int) AudioOutcome {
	c.mu.Lock()
	if c.closed || (gen != anyGen && gen != c.audioGen) {
		c.mu.Unlock()
		return AudioCanceled
	}
	if c.audioLock {
		c.mu.Unlock()
		c.log.Debug("Audio request dropped", "text", text)
		return AudioDropped
	}
	c.audioLock = true
	actx, cancel := c.bind(ctx)
	done := make(chan struct{})
	c.audioCancel = cancel
	c.audioDone = done
	voice := c.course.VoiceProfileID
	c.mu.Unlock()
	c.emit(EventChanged, "")

	defer func() {
		cancel()
		c.mu.Lock()
		c.audioLock = false
		c.playing = false
		c.audioCancel = nil
		c.audioDone = nil
		c.mu.Unlock()
		close(done)
		c.emit(EventChanged, "")
	}()

	audio, err := c.synthesize(actx, text, voice, teach)
	if err != nil {
		if actx.Err() != nil {
			return AudioCanceled
		}
		c.mu.Lock()
		if !c.closed {
			c.demoMode = true
		}
		c.mu.Unlock()
		c.log.Warn("Speech synthesis failed, continuing without audio", "error", err)
		return AudioDegraded
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return AudioCanceled
	}
	c.playing = true
	c.mu.Unlock()
	c.emit(EventChanged, "")

	if err := c.deps.Player.Play(actx, audio); err != nil {
		if actx.Err() != nil {
			return AudioCanceled
		}
		c.log.Warn("Audio playback failed", "error", err)
		return AudioDegraded
	}
	return AudioPlayed
}

// synthesize retries a busy provider with a fixed backoff.
func (c *Controller) synthesize(ctx context.Context, text, voice string, teach bool) ([]byte, error) {
	for retries := 0; ; retries++ {
		audio, err := c.deps.Synth.Synthesize(ctx, text, voice, teach)
		if err == nil {
			return audio, nil
		}
		if !errors.Is(err, tts.ErrSystemBusy) || retries >= c.deps.MaxSynthRetries {
			return nil, err
		}
		c.log.Info("Speech provider busy, retrying", "retry", retries+1, "backoff", c.deps.RetryBackoff.String())
		if err := sleep(ctx, c.deps.RetryBackoff); err != nil {
			return nil, err
		}
	}
}

// playSequence plays segments in order and returns the outcome of each
// segment it reached. It stops at the first segment that is interrupted or
// when another caller interrupts audio in between.
func (c *Controller) playSequence(ctx context.Context, segments ...segment) []AudioOutcome {
	c.mu.Lock()
	gen := c.audioGen
	c.mu.Unlock()
	outcomes := make([]AudioOutcome, 0, len(segments))
	for _, s := range segments {
		out := c.play(ctx, s.text, s.teach, gen)
		outcomes = append(outcomes, out)
		if out == AudioCanceled {
			break
		}
	}
	return outcomes
}

type segment struct {
	text  string
	teach bool
}

// interruptAudio stops whatever is playing and waits for the audio lock to
// be released. Pending sequences are abandoned.
func (c *Controller) interruptAudio() {
	c.mu.Lock()
	c.audioGen++
	cancel, done := c.audioCancel, c.audioDone
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
