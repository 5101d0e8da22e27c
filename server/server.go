// Package server exposes the tutor over HTTP and hosts web lesson sessions
// over websockets.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/korjavin/voicenary/deck"
	"github.com/korjavin/voicenary/logger"
	"github.com/korjavin/voicenary/session"
)

// Services are the collaborators behind the HTTP surface.
type Services struct {
	Deck  *deck.Deck
	Tutor session.Tutor
	Synth session.Synthesizer
	// Recognizer is nil when speech recognition is disabled.
	Recognizer session.Recognizer
	// Recorder returns an activity sink for a learner; may be nil.
	Recorder func(learner string) session.Recorder
	Health   Health
}

// Health reports which providers are configured.
type Health struct {
	Gemini     bool `json:"gemini"`
	Deepseek   bool `json:"deepseek"`
	ElevenLabs bool `json:"elevenlabs"`
	Voice      bool `json:"voice"`
	Speech     bool `json:"speech"`
}

// Options tune the server.
type Options struct {
	Port           string
	AllowedOrigins []string
	// AudioAckTimeout bounds how long a websocket session waits for the
	// browser to report that a clip finished.
	AudioAckTimeout time.Duration
	TutorTimeout    time.Duration
	AdvanceDelay    time.Duration
	RetryBackoff    time.Duration
}

type Server struct {
	opts    Options
	svc     Services
	log     *logger.Logger
	engine  *gin.Engine
	started time.Time

	mu    sync.Mutex
	conns map[*safeConn]struct{}
}

// New builds the router.
func New(log *logger.Logger, opts Options, svc Services) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Port == "" {
		opts.Port = "5000"
	}
	if opts.AudioAckTimeout <= 0 {
		opts.AudioAckTimeout = 60 * time.Second
	}
	s := &Server{
		opts:    opts,
		svc:     svc,
		log:     log.With("service", "HTTPServer"),
		started: time.Now(),
		conns:   make(map[*safeConn]struct{}),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("voicenary"))
	r.Use(CORS(opts.AllowedOrigins))
	r.Use(RequestLogger(s.log))

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/status", s.handleStatus)
	r.GET("/voices", s.handleVoices)
	r.GET("/courses", s.handleCourses)
	r.GET("/courses/:id", s.handleCourse)
	r.POST("/chat", s.handleChat)
	r.POST("/speak", s.handleSpeak)
	r.POST("/transcribe", s.handleTranscribe)
	r.GET("/ws", s.handleWebSocket)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.opts.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeSockets()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("Server stopped")
	return nil
}

func (s *Server) track(c *safeConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *safeConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// closeSockets closes hijacked websocket connections, which Shutdown
// does not track.
func (s *Server) closeSockets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.conn.Close()
	}
}
