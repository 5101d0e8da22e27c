package session

import (
	"fmt"
	"strings"
)

var affirmations = []string{
	"Bravo! That's perfect pronunciation!",
	"Excellent! You sound just like a native speaker!",
	"Great job! You nailed it!",
	"Fantastic! Your accent is impressive!",
	"Superb! Keep it up!",
}

var discouragements = []string{
	"Almost there! Try listening to the pronunciation again.",
	"Don't worry, practice makes perfect. Give it another shot!",
	"Not quite, but you're getting closer!",
	"Keep trying! You'll get it soon!",
	"Let's try that one more time together.",
}

const (
	fallbackCorrectReply = "That's right! Great job!"
	checkFailedFeedback  = "Could not check answer. Please try again."
	defaultPraise        = "Good! Next question!"
	defaultCompletion    = "Félicitations! You've completed the lesson. Keep practicing, and you'll be speaking like a local in no time! Would you like to try another language or review this lesson?"

	listeningFeedback   = "🎤 Listening..."
	unsupportedFeedback = "❌ Speech recognition not supported."
	recognizeFailed     = "❌ Could not recognize speech. Please try again."
)

func pick(pool []string, intn func(int) int) string {
	i := intn(len(pool))
	if i < 0 || i >= len(pool) {
		i = 0
	}
	return pool[i]
}

func announcement(promptText string) string {
	return fmt.Sprintf("Okay, let's learn how to say '%s' today!", promptText)
}

func pronunciationMatched(transcript string) string {
	return fmt.Sprintf("✅ Good pronunciation! You said: %q", transcript)
}

func pronunciationMissed(transcript string) string {
	return fmt.Sprintf("❌ Try again. You said: %q\nTip: Speak slowly and clearly for the best results.", transcript)
}

// spellOut separates every rune with a space.
func spellOut(s string) string {
	runes := []rune(s)
	parts := make([]string, 0, len(runes))
	for _, r := range runes {
		parts = append(parts, string(r))
	}
	return strings.Join(parts, " ")
}
