package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	apierrors "github.com/tygr/ragserve/internal/errors"
	"github.com/tygr/ragserve/internal/generation"
	"github.com/tygr/ragserve/internal/models"
)

const streamKeepaliveInterval = 15 * time.Second

// StreamEvent is the wire form of one SSE payload
type StreamEvent struct {
	Type     string             `json:"type"`
	Text     string             `json:"text,omitempty"`
	FullText string             `json:"full_text,omitempty"`
	Usage    *models.TokenUsage `json:"usage,omitempty"`
	Message  string             `json:"message,omitempty"`
}

func (s *APIServer) handleChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	// The request context is cancelled when the client disconnects, which
	// stops the upstream relay.
	ctx := c.Request.Context()

	events, refusal, err := s.deps.Chat.AskStream(ctx, req.toChatRequest())
	if err != nil {
		respondError(c, chatErrorToAPIError(err))
		return
	}
	if refusal != nil {
		s.respondRefusal(c, refusal)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(streamKeepaliveInterval)
	defer keepalive.Stop()

	writeEvent := func(ev StreamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal stream event")
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			flusher.Flush()

		case ev, open := <-events:
			if !open {
				fmt.Fprint(c.Writer, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			switch e := ev.(type) {
			case generation.Chunk:
				writeEvent(StreamEvent{Type: "chunk", Text: e.Text})
			case generation.Complete:
				usage := e.Usage
				writeEvent(StreamEvent{Type: "complete", FullText: e.FullText, Usage: &usage})
			case generation.Failure:
				writeEvent(StreamEvent{Type: "error", Message: e.Err.Error()})
			}
		}
	}
}
