package handlers

import (
	"net/http"
	"time"

	"bimhub-api/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// streamInterval is how often the websocket stream re-emits the current
// snapshot until the job reaches a terminal state.
const streamInterval = time.Second

type StatusHandler struct {
	pipeline Pipeline
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewStatusHandler(p Pipeline, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		pipeline: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin policy is enforced at the gateway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "status-handler").Logger(),
	}
}

// Get handles GET /api/uploads/:id. Jobs evicted past their retention window
// are indistinguishable from jobs that never existed.
func (h *StatusHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, ok := h.pipeline.Snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, errors.ErrorResponse{
				Error:   errors.ErrNotFound.Code,
				Message: "Job not found",
			})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// Stream handles GET /api/uploads/:id/stream: a websocket that re-emits the
// snapshot on a fixed interval and closes on terminal state or disconnect.
// Read-only; it never mutates job state.
func (h *StatusHandler) Stream() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if _, ok := h.pipeline.Snapshot(jobID); !ok {
			c.JSON(http.StatusNotFound, errors.ErrorResponse{
				Error:   errors.ErrNotFound.Code,
				Message: "Job not found",
			})
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		// Consume control frames and detect client disconnect.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(streamInterval)
		defer ticker.Stop()

		for {
			snap, ok := h.pipeline.Snapshot(jobID)
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job expired"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
			if snap.Terminal() {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}

			select {
			case <-done:
				return
			case <-c.Request.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}
