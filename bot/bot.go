package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/korjavin/voicenary/database"
	"github.com/korjavin/voicenary/deck"
	"github.com/korjavin/voicenary/logger"
	"github.com/korjavin/voicenary/models"
	"github.com/korjavin/voicenary/session"
	"github.com/korjavin/voicenary/speech"
)

// API is the part of tgbotapi.BotAPI the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Explainer describes a prompt in detail
type Explainer interface {
	Explain(ctx context.Context, course models.Course, index int) (string, error)
}

// Deps are the collaborators of the bot
type Deps struct {
	Deck       *deck.Deck
	Tutor      session.Tutor
	Explainer  Explainer
	Synth      session.Synthesizer
	Recognizer session.Recognizer
	DB         *database.DB

	TutorTimeout time.Duration
	AdvanceDelay time.Duration
	RetryBackoff time.Duration
}

// Bot represents the Telegram bot
type Bot struct {
	api        API
	deps       Deps
	log        *logger.Logger
	httpClient *http.Client

	mu      sync.Mutex
	lessons map[int64]*lesson // keyed by chat ID
	stopped bool
}

// lesson is one chat's running session
type lesson struct {
	ctrl     *session.Controller
	demoSent atomic.Bool
}

const (
	cmdStart  = "start"
	cmdCourse = "course"
	cmdHint   = "hint"
	cmdReplay = "replay"
	cmdAnswer = "answer"
	cmdSlow   = "slow"
	cmdHelp   = "help"
	cmdStat   = "stat"
	cmdStop   = "stop"

	callbackCourse = "course:"

	maxVoiceBytes = 10 << 20
	chatQueueSize = 32
)

// New creates a new bot instance
func New(api API, deps Deps, log *logger.Logger) *Bot {
	if log == nil {
		log = logger.Nop()
	}
	return &Bot{
		api:        api,
		deps:       deps,
		log:        log.With("service", "TelegramBot"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		lessons:    make(map[int64]*lesson),
	}
}

// Run polls for updates until ctx is cancelled. Updates of one chat are
// handled in arrival order by that chat's worker.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("Starting bot polling")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	queues := make(map[int64]chan tgbotapi.Update)
	defer func() {
		cancel()
		b.api.StopReceivingUpdates()
		b.closeAll()
		wg.Wait()
		b.log.Info("Bot stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			chatID, ok := updateChatID(update)
			if !ok {
				continue
			}
			queue, ok := queues[chatID]
			if !ok {
				queue = make(chan tgbotapi.Update, chatQueueSize)
				queues[chatID] = queue
				wg.Add(1)
				go func() {
					defer wg.Done()
					b.chatWorker(ctx, queue)
				}()
			}
			select {
			case queue <- update:
			default:
				b.log.Warn("Chat queue full, dropping update", "chat_id", chatID)
			}
		}
	}
}

func updateChatID(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.Message != nil && update.Message.Chat != nil:
		return update.Message.Chat.ID, true
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	}
	return 0, false
}

func (b *Bot) chatWorker(ctx context.Context, queue <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-queue:
			b.safeHandleUpdate(ctx, update)
		}
	}
}

func (b *Bot) safeHandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Recovered from panic in update handler", "panic", r)
		}
	}()
	b.handleUpdate(ctx, update)
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// handleMessage processes incoming messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	b.log.Debug("Received message", "chat_id", chatID, "command", message.Command())

	if message.Voice != nil {
		b.handleVoice(ctx, message)
		return
	}
	if !message.IsCommand() {
		b.handleAnswer(ctx, message)
		return
	}

	switch message.Command() {
	case cmdStart:
		b.handleStartCommand(message)
	case cmdCourse:
		id := strings.TrimSpace(message.CommandArguments())
		if id == "" {
			b.sendCoursePicker(chatID)
			return
		}
		b.startLesson(ctx, chatID, message.From, id)
	case cmdHint:
		b.handleHintCommand(chatID)
	case cmdReplay, cmdAnswer, cmdSlow:
		b.handleSpeakCommand(ctx, chatID, message.Command())
	case cmdHelp:
		b.handleHelpCommand(ctx, chatID)
	case cmdStat:
		b.handleStatCommand(ctx, message)
	case cmdStop:
		if b.stopLesson(chatID) {
			b.sendMessage(chatID, "Lesson stopped. Use /start to pick a course.")
		} else {
			b.sendMessage(chatID, "There is no lesson to stop.")
		}
	default:
		b.sendMessage(chatID, "Unknown command. Use /start to pick a course, /hint for a hint, or /help for an explanation.")
	}
}

// handleStartCommand handles the /start command
func (b *Bot) handleStartCommand(message *tgbotapi.Message) {
	welcomeText := `Welcome to Voicenary!

Pick a tutor below. They will say a phrase and you answer by typing it or by sending a voice note.

Commands:
/start - Pick a course
/course <id> - Start a course directly
/hint - Show a hint for the current phrase
/replay - Hear the phrase again
/answer - Hear the expected answer
/slow - Hear the pronunciation slowly
/help - Get an explanation of the current phrase
/stat - View your statistics
/stop - Stop the lesson`

	b.sendMessage(message.Chat.ID, welcomeText)
	b.sendCoursePicker(message.Chat.ID)
}

func (b *Bot) sendCoursePicker(chatID int64) {
	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, c := range b.deps.Deck.Courses() {
		label := fmt.Sprintf("%s (%s)", c.Title, c.DisplayName)
		button := tgbotapi.NewInlineKeyboardButtonData(label, callbackCourse+c.ID)
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(button))
	}
	msg := tgbotapi.NewMessage(chatID, "Choose your course:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("Error sending course picker", "error", err)
	}
}

// handleCallback processes callback queries from inline buttons
func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || !strings.HasPrefix(callback.Data, callbackCourse) {
		b.log.Warn("Invalid callback", "data", callback.Data)
		return
	}
	b.sendCallbackResponse(callback.ID, "Starting lesson...")
	b.startLesson(ctx, callback.Message.Chat.ID, callback.From, strings.TrimPrefix(callback.Data, callbackCourse))
}

func learnerID(user *tgbotapi.User, chatID int64) string {
	if user != nil {
		return fmt.Sprintf("tg:%d", user.ID)
	}
	return fmt.Sprintf("tg:%d", chatID)
}

func (b *Bot) startLesson(ctx context.Context, chatID int64, user *tgbotapi.User, courseID string) {
	course, err := b.deps.Deck.Course(courseID)
	if deck.IsNotFound(err) {
		b.sendMessage(chatID, fmt.Sprintf("I don't know the course %q. Use /start to see the list.", courseID))
		return
	}
	if err != nil {
		b.log.Error("Error loading course", "course", courseID, "error", err)
		return
	}

	l := &lesson{}
	deps := session.Deps{
		Tutor:        b.deps.Tutor,
		Synth:        b.deps.Synth,
		Player:       &chatPlayer{api: b.api, chatID: chatID, title: course.DisplayName},
		Recognizer:   b.deps.Recognizer,
		Notifier:     session.NotifierFunc(func(e session.Event) { b.render(chatID, l, e) }),
		Log:          b.log.With("chat_id", chatID),
		TutorTimeout: b.deps.TutorTimeout,
		AdvanceDelay: b.deps.AdvanceDelay,
		RetryBackoff: b.deps.RetryBackoff,
	}
	if b.deps.DB != nil {
		deps.Recorder = b.deps.DB.Recorder(learnerID(user, chatID))
	}
	ctrl, err := session.New(course, deps)
	if err != nil {
		b.log.Error("Error creating session", "error", err)
		b.sendMessage(chatID, "Sorry, I couldn't start this lesson. Please try again later.")
		return
	}
	l.ctrl = ctrl

	b.mu.Lock()
	if b.stopped || ctx.Err() != nil {
		b.mu.Unlock()
		ctrl.Close()
		return
	}
	if old, ok := b.lessons[chatID]; ok {
		old.ctrl.Close()
	}
	b.lessons[chatID] = l
	b.mu.Unlock()

	b.log.Info("Lesson started", "chat_id", chatID, "course", course.ID)
	if err := ctrl.Start(ctx); err != nil {
		return
	}
	if err := ctrl.AdvanceFromIntro(ctx); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		b.log.Warn("Could not leave intro", "error", err)
	}
}

func (b *Bot) activeLesson(chatID int64) (*lesson, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lessons[chatID]
	return l, ok
}

func (b *Bot) stopLesson(chatID int64) bool {
	b.mu.Lock()
	l, ok := b.lessons[chatID]
	delete(b.lessons, chatID)
	b.mu.Unlock()
	if ok {
		l.ctrl.Close()
	}
	return ok
}

func (b *Bot) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	for id, l := range b.lessons {
		l.ctrl.Close()
		delete(b.lessons, id)
	}
}

func (b *Bot) handleAnswer(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	l, ok := b.activeLesson(chatID)
	if !ok {
		b.sendMessage(chatID, "Use /start to pick a course first.")
		return
	}
	_, err := l.ctrl.SubmitAnswer(ctx, message.Text)
	b.reportSessionError(chatID, l, err)
}

func (b *Bot) handleVoice(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	l, ok := b.activeLesson(chatID)
	if !ok {
		b.sendMessage(chatID, "Use /start to pick a course first.")
		return
	}
	data, err := b.downloadFile(ctx, message.Voice.FileID)
	if err != nil {
		b.log.Error("Error downloading voice note", "error", err)
		b.sendMessage(chatID, "Sorry, I couldn't read your voice note. Please try again.")
		return
	}
	mime := message.Voice.MimeType
	if mime == "" {
		mime = "audio/ogg"
	}
	_, err = l.ctrl.CheckPronunciation(ctx, speech.Clip{Data: data, MimeType: mime})
	b.reportSessionError(chatID, l, err)
}

func (b *Bot) reportSessionError(chatID int64, l *lesson, err error) {
	switch {
	case err == nil, errors.Is(err, session.ErrSessionClosed):
	case errors.Is(err, session.ErrInvalidState):
		if l.ctrl.State() == session.StateComplete {
			b.sendMessage(chatID, "This lesson is complete! Use /start to pick another course.")
			return
		}
		b.sendMessage(chatID, "One moment, I'm still listening to your last answer.")
	default:
		b.log.Error("Session error", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("get file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes))
}

// chatPlayer delivers clips as Telegram audio messages. Telegram plays them
// on the learner's side, so a clip counts as played once it is sent.
type chatPlayer struct {
	api    API
	chatID int64
	title  string
}

func (p *chatPlayer) Play(ctx context.Context, audio []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewAudio(p.chatID, tgbotapi.FileBytes{Name: "voicenary.mp3", Bytes: audio})
	msg.Performer = p.title
	_, err := p.api.Send(msg)
	return err
}
