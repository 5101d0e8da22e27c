package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/korjavin/voicenary/deck"
	"github.com/korjavin/voicenary/logger"
	"github.com/korjavin/voicenary/session"
	"github.com/korjavin/voicenary/speech"
)

// Client -> server message types.
const (
	TypeStart         = "start"
	TypeAdvance       = "advance"
	TypeAnswer        = "answer"
	TypePronunciation = "pronunciation"
	TypeReplay        = "replay"
	TypeSpeakAnswer   = "speak_answer"
	TypeSpeakSlow     = "speak_slow"
	TypeAudioEnded    = "audio_ended"
)

const commandQueueSize = 64

// Server -> client message types.
const (
	TypeSnapshot = "snapshot"
	TypeAudio    = "audio"
	TypeStop     = "stop"
	TypeError    = "error"
)

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AnswerPayload struct {
	Text string `json:"text"`
}

type PronunciationPayload struct {
	Audio []byte `json:"audio"`
	Mime  string `json:"mime"`
}

type AudioPayload struct {
	ID   string `json:"id"`
	Data []byte `json:"data,omitempty"`
	Mime string `json:"mime,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type safeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (sc *safeConn) send(msgType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return sc.conn.WriteJSON(WSMessage{Type: msgType, Payload: data})
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := s.opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = DefaultOrigins
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	course, err := s.svc.Deck.Course(c.Query("course"))
	if deck.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxClipBytes * 2)

	sconn := &safeConn{conn: conn}
	s.track(sconn)
	defer s.untrack(sconn)

	sessionID := uuid.New().String()
	log := s.log.With("session_id", sessionID, "course", course.ID)
	player := newWSPlayer(sconn, s.opts.AudioAckTimeout, log)

	deps := session.Deps{
		Tutor:      s.svc.Tutor,
		Synth:      s.svc.Synth,
		Player:     player,
		Recognizer: s.svc.Recognizer,
		Notifier: session.NotifierFunc(func(e session.Event) {
			if err := sconn.send(TypeSnapshot, e); err != nil {
				log.Debug("Snapshot not delivered", "error", err)
			}
		}),
		Log:          log,
		TutorTimeout: s.opts.TutorTimeout,
		AdvanceDelay: s.opts.AdvanceDelay,
		RetryBackoff: s.opts.RetryBackoff,
	}
	if s.svc.Recorder != nil {
		deps.Recorder = s.svc.Recorder("ws:" + sessionID)
	}
	ctrl, err := session.New(course, deps)
	if err != nil {
		_ = sconn.send(TypeError, ErrorPayload{Message: err.Error()})
		return
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// commands run one at a time in arrival order; acks bypass the queue
	commands := make(chan WSMessage, commandQueueSize)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-commands:
				s.dispatch(ctx, ctrl, sconn, msg, log)
			}
		}
	}()

	log.Info("Web session opened")
	_ = sconn.send(TypeSnapshot, session.Event{Kind: session.EventChanged, Snapshot: ctrl.Snapshot()})

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Websocket read ended", "error", err)
			}
			break
		}
		if msg.Type == TypeAudioEnded {
			var p AudioPayload
			if err := json.Unmarshal(msg.Payload, &p); err == nil {
				player.ack(p.ID)
			}
			continue
		}
		select {
		case commands <- msg:
		default:
			_ = sconn.send(TypeError, ErrorPayload{Message: "too many pending commands"})
		}
	}
	log.Info("Web session closed")
}

func (s *Server) dispatch(ctx context.Context, ctrl *session.Controller, sconn *safeConn, msg WSMessage, log *logger.Logger) {
	var err error
	switch msg.Type {
	case TypeStart:
		err = ctrl.Start(ctx)
	case TypeAdvance:
		err = ctrl.AdvanceFromIntro(ctx)
	case TypeAnswer:
		var p AnswerPayload
		if err = json.Unmarshal(msg.Payload, &p); err == nil {
			_, err = ctrl.SubmitAnswer(ctx, p.Text)
		}
	case TypePronunciation:
		var p PronunciationPayload
		if err = json.Unmarshal(msg.Payload, &p); err == nil {
			_, err = ctrl.CheckPronunciation(ctx, speech.Clip{Data: p.Audio, MimeType: p.Mime})
		}
	case TypeReplay:
		_, err = ctrl.ReplayPrompt(ctx)
	case TypeSpeakAnswer:
		_, err = ctrl.SpeakAnswer(ctx)
	case TypeSpeakSlow:
		_, err = ctrl.SpeakSlow(ctx)
	case TypeSnapshot:
		err = sconn.send(TypeSnapshot, session.Event{Kind: session.EventChanged, Snapshot: ctrl.Snapshot()})
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}
	if err == nil || errors.Is(err, session.ErrSessionClosed) {
		return
	}
	log.Debug("Websocket command rejected", "type", msg.Type, "error", err)
	_ = sconn.send(TypeError, ErrorPayload{Message: err.Error()})
}

// wsPlayer sends clips to the browser and waits for it to report the end
// of playback.
type wsPlayer struct {
	conn       *safeConn
	ackTimeout time.Duration
	log        *logger.Logger

	mu      sync.Mutex
	waiting map[string]chan struct{}
}

func newWSPlayer(conn *safeConn, ackTimeout time.Duration, log *logger.Logger) *wsPlayer {
	return &wsPlayer{conn: conn, ackTimeout: ackTimeout, log: log, waiting: make(map[string]chan struct{})}
}

func (p *wsPlayer) Play(ctx context.Context, audio []byte) error {
	id := uuid.New().String()
	done := make(chan struct{})
	p.mu.Lock()
	p.waiting[id] = done
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.waiting, id)
		p.mu.Unlock()
	}()

	if err := p.conn.send(TypeAudio, AudioPayload{ID: id, Data: audio, Mime: "audio/mpeg"}); err != nil {
		return err
	}

	timer := time.NewTimer(p.ackTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		_ = p.conn.send(TypeStop, AudioPayload{ID: id})
		return ctx.Err()
	case <-timer.C:
		// the clip was delivered; assume it played
		p.log.Debug("No playback ack", "audio_id", id)
		return nil
	}
}

func (p *wsPlayer) ack(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done, ok := p.waiting[id]; ok {
		close(done)
		delete(p.waiting, id)
	}
}
