package session

// EventKind classifies a notification.
type EventKind int

const (
	// EventChanged covers flag changes such as loading or playing.
	EventChanged EventKind = iota
	EventIntro
	EventPrompt
	EventFeedback
	EventTutorReply
	EventPronunciation
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventIntro:
		return "intro"
	case EventPrompt:
		return "prompt"
	case EventFeedback:
		return "feedback"
	case EventTutorReply:
		return "tutor_reply"
	case EventPronunciation:
		return "pronunciation"
	case EventComplete:
		return "complete"
	default:
		return "changed"
	}
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is sent to the Notifier after every observable change. Text carries
// the message that caused it, if any.
type Event struct {
	Kind     EventKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
}

// PromptView is the learner-facing part of the current prompt.
type PromptView struct {
	Index         int    `json:"index"`
	Text          string `json:"text"`
	English       string `json:"english"`
	Hint          string `json:"hint"`
	Pronunciation string `json:"pronunciation,omitempty"`
	SlowPrompt    string `json:"slowPrompt,omitempty"`
	FunFact       string `json:"funFact,omitempty"`
	CulturalNote  string `json:"culturalNote,omitempty"`
}

// Snapshot is everything a host needs to render the session.
type Snapshot struct {
	State                 State       `json:"state"`
	CourseID              string      `json:"courseId"`
	DisplayName           string      `json:"displayName"`
	IntroText             string      `json:"introText,omitempty"`
	Prompt                *PromptView `json:"prompt,omitempty"`
	Attempts              []string    `json:"attempts"`
	Feedback              string      `json:"feedback"`
	Correct               bool        `json:"correct"`
	TutorReply            string      `json:"tutorReply,omitempty"`
	PronunciationFeedback string      `json:"pronunciationFeedback,omitempty"`
	Loading               bool        `json:"loading"`
	Playing               bool        `json:"playing"`
	DemoMode              bool        `json:"demoMode"`
	Progress              int         `json:"progress"`
	Total                 int         `json:"total"`
	Complete              bool        `json:"complete"`
}

// Snapshot returns the current view of the session.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	total := len(c.course.Prompts)
	s := Snapshot{
		State:                 c.state,
		CourseID:              c.course.ID,
		DisplayName:           c.course.DisplayName,
		Attempts:              append([]string{}, c.attempts...),
		Feedback:              c.feedback,
		Correct:               c.correct,
		TutorReply:            c.tutorReply,
		PronunciationFeedback: c.pronunciation,
		Loading:               c.audioLock,
		Playing:               c.playing,
		DemoMode:              c.demoMode,
		Total:                 total,
		Complete:              c.state == StateComplete,
	}
	if c.state == StateIntro {
		s.IntroText = c.course.IntroText
	}
	if c.index < total {
		p := c.course.Prompts[c.index]
		s.Prompt = &PromptView{
			Index:         c.index,
			Text:          p.Text,
			English:       p.English,
			Hint:          p.Hint,
			Pronunciation: p.Pronunciation,
			SlowPrompt:    p.SlowPrompt,
			FunFact:       p.FunFact,
			CulturalNote:  p.CulturalNote,
		}
		s.Progress = c.index + 1
	} else {
		s.Progress = total
	}
	return s
}

func (c *Controller) emit(kind EventKind, text string) {
	if c.deps.Notifier == nil {
		return
	}
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.deps.Notifier.Notify(Event{Kind: kind, Text: text, Snapshot: snap})
}
