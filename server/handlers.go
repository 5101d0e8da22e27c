package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/korjavin/voicenary/deck"
	"github.com/korjavin/voicenary/models"
	"github.com/korjavin/voicenary/speech"
	"github.com/korjavin/voicenary/tts"
)

const maxClipBytes = 10 << 20

func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "Voicenary backend is running.")
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  s.svc.Health,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"port":      s.opts.Port,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleVoices(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Deck.Voices())
}

func (s *Server) handleCourses(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Deck.Courses())
}

type courseResponse struct {
	models.Course
	Intro models.Intro `json:"introCard"`
}

func (s *Server) handleCourse(c *gin.Context) {
	id := c.Param("id")
	course, err := s.svc.Deck.Course(id)
	if deck.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	intro, _ := s.svc.Deck.Intro(id)
	c.JSON(http.StatusOK, courseResponse{Course: course, Intro: intro})
}

type chatRequest struct {
	Message string `json:"message"`
	Context string `json:"context"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}
	reply, err := s.svc.Tutor.Evaluate(c.Request.Context(), req.Message, req.Context)
	if err != nil {
		s.log.Error("/chat failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

type speakRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
	Teach   bool   `json:"teach"`
}

func (s *Server) handleSpeak(c *gin.Context) {
	var req speakRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Text is required"})
		return
	}
	audio, err := s.svc.Synth.Synthesize(c.Request.Context(), req.Text, req.VoiceID, req.Teach)
	if err != nil {
		s.log.Error("/speak failed", "error", err)
		if errors.Is(err, tts.ErrSystemBusy) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "system_busy"})
			return
		}
		details := err.Error()
		var apiErr *tts.APIError
		if errors.As(err, &apiErr) && apiErr.Detail() != "" {
			details = apiErr.Detail()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TTS failed", "details": details})
		return
	}
	c.Data(http.StatusOK, "audio/mpeg", audio)
}

func (s *Server) handleTranscribe(c *gin.Context) {
	if s.svc.Recognizer == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": speech.ErrUnsupported.Error()})
		return
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxClipBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read audio"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Audio is required"})
		return
	}
	if len(data) > maxClipBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio too large"})
		return
	}
	clip := speech.Clip{Data: data, MimeType: c.ContentType()}
	transcript, err := s.svc.Recognizer.Transcribe(c.Request.Context(), clip, c.DefaultQuery("locale", "en-US"))
	if err != nil {
		s.log.Error("/transcribe failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": transcript})
}
