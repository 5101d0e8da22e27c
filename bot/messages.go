package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/korjavin/voicenary/session"
)

const hardestLimit = 5

// render turns session events into chat messages
func (b *Bot) render(chatID int64, l *lesson, e session.Event) {
	switch e.Kind {
	case session.EventIntro:
		b.sendMessage(chatID, "🎙 "+e.Text)
	case session.EventPrompt:
		b.sendMessage(chatID, promptCard(e.Snapshot))
	case session.EventFeedback, session.EventPronunciation:
		b.sendMessage(chatID, e.Text)
	case session.EventTutorReply:
		b.sendMessage(chatID, "💬 "+e.Text)
	case session.EventComplete:
		b.sendMessage(chatID, "🎉 "+e.Text+"\n\nUse /start to pick another course.")
	case session.EventChanged:
		if e.Snapshot.DemoMode && l.demoSent.CompareAndSwap(false, true) {
			b.sendMessage(chatID, "🔇 Voice is unavailable right now, so we'll continue in text.")
		}
	}
}

func promptCard(s session.Snapshot) string {
	p := s.Prompt
	if p == nil {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Phrase %d/%d: %s\n", s.Progress, s.Total, p.Text)
	if p.English != "" {
		fmt.Fprintf(&sb, "Meaning: %s\n", p.English)
	}
	if p.Pronunciation != "" {
		fmt.Fprintf(&sb, "Say it: %s\n", p.Pronunciation)
	}
	if p.CulturalNote != "" {
		fmt.Fprintf(&sb, "Note: %s\n", p.CulturalNote)
	}
	sb.WriteString("\nType your answer or send a voice note.")
	return sb.String()
}

func (b *Bot) handleHintCommand(chatID int64) {
	l, ok := b.activeLesson(chatID)
	if !ok {
		b.sendMessage(chatID, "Use /start to pick a course first.")
		return
	}
	p := l.ctrl.Snapshot().Prompt
	if p == nil {
		b.sendMessage(chatID, "There is no phrase to hint right now.")
		return
	}
	text := "💡 Hint: " + p.Hint
	if p.FunFact != "" {
		text += "\n\nFun fact: " + p.FunFact
	}
	b.sendMessage(chatID, text)
}

func (b *Bot) handleSpeakCommand(ctx context.Context, chatID int64, command string) {
	l, ok := b.activeLesson(chatID)
	if !ok {
		b.sendMessage(chatID, "Use /start to pick a course first.")
		return
	}
	var err error
	switch command {
	case cmdReplay:
		_, err = l.ctrl.ReplayPrompt(ctx)
	case cmdAnswer:
		_, err = l.ctrl.SpeakAnswer(ctx)
	case cmdSlow:
		_, err = l.ctrl.SpeakSlow(ctx)
	}
	b.reportSessionError(chatID, l, err)
}

// handleHelpCommand explains the current phrase
func (b *Bot) handleHelpCommand(ctx context.Context, chatID int64) {
	l, ok := b.activeLesson(chatID)
	if !ok || b.deps.Explainer == nil {
		b.sendMessage(chatID, "Use /start to pick a course, then /help explains the current phrase.")
		return
	}
	snap := l.ctrl.Snapshot()
	if snap.Prompt == nil {
		b.sendMessage(chatID, "There is no phrase to explain right now.")
		return
	}

	b.sendMessage(chatID, "Preparing an explanation, please wait...")
	explanation, err := b.deps.Explainer.Explain(ctx, l.ctrl.Course(), snap.Prompt.Index)
	if err != nil {
		b.log.Error("Error getting explanation", "error", err)
		b.sendMessage(chatID, "Sorry, I couldn't generate an explanation at this time. Please try again later.")
		return
	}
	b.sendMessage(chatID, explanation)
}

// handleStatCommand handles the /stat command
func (b *Bot) handleStatCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if b.deps.DB == nil {
		b.sendMessage(chatID, "Statistics are not available.")
		return
	}
	learner := learnerID(message.From, chatID)

	correct, incorrect, err := b.deps.DB.LearnerStats(ctx, learner)
	if err != nil {
		b.log.Error("Error getting learner stats", "error", err)
		b.sendMessage(chatID, "Sorry, I couldn't retrieve your statistics. Please try again later.")
		return
	}
	hardest, err := b.deps.DB.HardestPrompts(ctx, learner, hardestLimit)
	if err != nil {
		b.log.Error("Error getting hardest prompts", "error", err)
		b.sendMessage(chatID, "Sorry, I couldn't retrieve your statistics. Please try again later.")
		return
	}

	total := correct + incorrect
	accuracy := 0.0
	if total > 0 {
		accuracy = float64(correct) / float64(total) * 100
	}

	var sb strings.Builder
	sb.WriteString("📊 Your Statistics 📊\n\n")
	fmt.Fprintf(&sb, "Total answers: %d\n", total)
	fmt.Fprintf(&sb, "Correct: %d\n", correct)
	fmt.Fprintf(&sb, "Incorrect: %d\n", incorrect)
	fmt.Fprintf(&sb, "Accuracy: %.1f%%\n\n", accuracy)

	if len(hardest) > 0 {
		sb.WriteString("Most Challenging Phrases:\n")
		for i, stat := range hardest {
			fmt.Fprintf(&sb, "%d. %s (%d misses)\n", i+1, b.promptLabel(stat.CourseID, stat.PromptIndex), stat.Misses)
		}
	}

	if l, ok := b.activeLesson(chatID); ok {
		course := l.ctrl.Course()
		left, err := b.deps.DB.UnmasteredPrompts(ctx, learner, course.ID, len(course.Prompts))
		if err != nil {
			b.log.Warn("Error getting unmastered prompts", "error", err)
		} else {
			fmt.Fprintf(&sb, "\n%s: %d of %d phrases still to master", course.Title, len(left), len(course.Prompts))
		}
	}

	b.sendMessage(chatID, sb.String())
}

func (b *Bot) promptLabel(courseID string, index int) string {
	prompts, err := b.deps.Deck.Prompts(courseID)
	if err != nil || index < 0 || index >= len(prompts) {
		return fmt.Sprintf("%s #%d", courseID, index+1)
	}
	return fmt.Sprintf("%s: %s", courseID, prompts[index].Text)
}

var markdownPattern = regexp.MustCompile(`\*\*[^*]+\*\*|__[^_]+__|\x60[^\x60]+\x60`)

// sendMessage sends a text message, formatting it as Markdown when the
// text looks like Markdown and falling back to plain text on rejection
func (b *Bot) sendMessage(chatID int64, text string) {
	if text == "" {
		return
	}
	if markdownPattern.MatchString(text) {
		msg := tgbotapi.NewMessage(chatID, toMarkdownV2(text))
		msg.ParseMode = tgbotapi.ModeMarkdownV2
		_, err := b.api.Send(msg)
		if err == nil {
			return
		}
		b.log.Warn("Markdown message rejected, sending plain text", "error", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("Error sending message", "chat_id", chatID, "error", err)
	}
}

// toMarkdownV2 escapes text for MarkdownV2 while keeping bold and code spans
func toMarkdownV2(text string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range markdownPattern.FindAllStringIndex(text, -1) {
		sb.WriteString(escapeMarkdown(text[last:loc[0]]))
		span := text[loc[0]:loc[1]]
		switch {
		case strings.HasPrefix(span, "**"):
			sb.WriteString("*" + escapeMarkdown(span[2:len(span)-2]) + "*")
		case strings.HasPrefix(span, "__"):
			sb.WriteString("_" + escapeMarkdown(span[2:len(span)-2]) + "_")
		default:
			sb.WriteString(span)
		}
		last = loc[1]
	}
	sb.WriteString(escapeMarkdown(text[last:]))
	return sb.String()
}

// escapeMarkdown escapes the characters MarkdownV2 reserves
func escapeMarkdown(text string) string {
	special := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	for _, char := range special {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

// sendCallbackResponse answers a callback query
func (b *Bot) sendCallbackResponse(callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("Error sending callback response", "error", err)
	}
}
