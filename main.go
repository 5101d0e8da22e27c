package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/korjavin/voicenary/ai"
	"github.com/korjavin/voicenary/bot"
	"github.com/korjavin/voicenary/config"
	"github.com/korjavin/voicenary/database"
	"github.com/korjavin/voicenary/deck"
	"github.com/korjavin/voicenary/logger"
	"github.com/korjavin/voicenary/observability"
	"github.com/korjavin/voicenary/server"
	"github.com/korjavin/voicenary/session"
	"github.com/korjavin/voicenary/speech"
	"github.com/korjavin/voicenary/tts"
)

func main() {
	os.Exit(start())
}

// start returns the exit code once every deferred cleanup has run
func start() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	log.Info("Starting Voicenary...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("Voicenary stopped with error", "error", err)
		return 1
	}
	log.Info("Voicenary stopped")
	return 0
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	shutdownOtel := observability.Init(ctx, log, cfg.Otel)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(sctx)
	}()

	d, err := loadDeck(cfg.CoursesFile)
	if err != nil {
		return fmt.Errorf("load courses: %w", err)
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var gen ai.Generator
	switch cfg.TutorProvider {
	case config.ProviderDeepseek:
		gen = ai.NewDeepseekClient(cfg.DeepseekAPIKey, "", log)
	default:
		gen = ai.NewGeminiClient(cfg.GeminiAPIKey, "", cfg.GeminiModel, log)
	}
	tutor := ai.NewTutor(gen, db, log)
	log.Info("Tutor configured", "provider", tutor.Provider())

	var synth session.Synthesizer = tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, "", cfg.VoiceID, log)
	if cfg.RedisAddr != "" {
		store, err := tts.NewRedisStore(ctx, cfg.RedisAddr, cfg.TTSCacheTTL)
		if err != nil {
			log.Warn("Redis unavailable, audio cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer store.Close()
			synth = tts.NewCachedSynthesizer(synth, store, log)
		}
	}

	var recognizer session.Recognizer
	if cfg.SpeechEnabled {
		g, err := speech.NewGoogleRecognizer(ctx, log)
		if err != nil {
			log.Warn("Speech recognition unavailable", "error", err)
		} else {
			defer g.Close()
			recognizer = g
		}
	}

	srv := server.New(log, server.Options{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		TutorTimeout:   cfg.TutorTimeout,
	}, server.Services{
		Deck:       d,
		Tutor:      tutor,
		Synth:      synth,
		Recognizer: recognizer,
		Recorder:   func(learner string) session.Recorder { return db.Recorder(learner) },
		Health: server.Health{
			Gemini:     cfg.GeminiAPIKey != "",
			Deepseek:   cfg.DeepseekAPIKey != "",
			ElevenLabs: cfg.ElevenLabsAPIKey != "",
			Voice:      cfg.VoiceID != "",
			Speech:     recognizer != nil,
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })

	if cfg.BotToken != "" {
		api, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return fmt.Errorf("initialize telegram bot: %w", err)
		}
		log.Info("Authorized on account", "username", api.Self.UserName)
		b := bot.New(api, bot.Deps{
			Deck:         d,
			Tutor:        tutor,
			Explainer:    tutor,
			Synth:        synth,
			Recognizer:   recognizer,
			DB:           db,
			TutorTimeout: cfg.TutorTimeout,
		}, log)
		g.Go(func() error { return b.Run(gctx) })
	}

	return g.Wait()
}

func loadDeck(path string) (*deck.Deck, error) {
	if path == "" {
		return deck.Load()
	}
	return deck.LoadFile(path)
}
