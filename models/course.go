package models

// Prompt is one teaching unit of a course
type Prompt struct {
	Text          string `yaml:"text" json:"text"`
	Answer        string `yaml:"answer" json:"answer"`
	English       string `yaml:"english" json:"english"`
	Hint          string `yaml:"hint,omitempty" json:"hint,omitempty"`
	Pronunciation string `yaml:"pronunciation,omitempty" json:"pronunciation,omitempty"`
	SlowPrompt    string `yaml:"slowPrompt,omitempty" json:"slowPrompt,omitempty"`
	FunFact       string `yaml:"funFact,omitempty" json:"funFact,omitempty"`
	CulturalNote  string `yaml:"culturalNote,omitempty" json:"culturalNote,omitempty"`
}

// Course is a language track fronted by a tutor character
type Course struct {
	ID             string   `yaml:"id" json:"id"`
	Character      string   `yaml:"character" json:"character"`
	DisplayName    string   `yaml:"displayName" json:"displayName"`
	Title          string   `yaml:"title" json:"title"`
	Language       string   `yaml:"language" json:"language"`
	Level          string   `yaml:"level,omitempty" json:"level,omitempty"`
	IntroText      string   `yaml:"intro" json:"intro"`
	VoiceProfileID string   `yaml:"voiceId" json:"voiceId"`
	SpeechLocale   string   `yaml:"speechLocale" json:"speechLocale"`
	Praise         string   `yaml:"praise,omitempty" json:"praise,omitempty"`
	Completion     string   `yaml:"completion,omitempty" json:"completion,omitempty"`
	Prompts        []Prompt `yaml:"prompts" json:"prompts"`
}

// Intro is the metadata shown and spoken before the first prompt
type Intro struct {
	DisplayName    string `json:"displayName"`
	IntroText      string `json:"introText"`
	VoiceProfileID string `json:"voiceProfileId"`
}

// LearnerActivity stores one evaluated answer or pronunciation attempt
type LearnerActivity struct {
	Learner     string
	CourseID    string
	PromptIndex int
	Input       string
	Channel     string
	Correct     bool
	Timestamp   int64
}

// PromptStat counts misses for one prompt of a course
type PromptStat struct {
	CourseID    string
	PromptIndex int
	Misses      int
}
