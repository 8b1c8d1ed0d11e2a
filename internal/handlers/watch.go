package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/deepfence/ThreatMapper-sub005/internal/models"
	"github.com/deepfence/ThreatMapper-sub005/internal/topology"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Watch upgrades to a websocket and pushes the result of a refresh action
// every refresh interval until the client goes away.
func (h *Handler) Watch(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	logger := h.logger.With(zap.String("session", session.ID))
	logger.Info("topology watch started")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The reader only notices the client closing; clients send nothing.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("topology watch stopped")
			return
		case <-ticker.C:
			result, err := h.topology.Apply(ctx, session.Owner, session.ID, models.RefreshAction())
			var msg interface{} = result
			switch {
			case err == nil:
			case errors.Is(err, topology.ErrRequestInFlight), errors.Is(err, topology.ErrStaleSnapshot):
				// A user action is being served; the next tick catches up.
				continue
			case errors.Is(err, topology.ErrSessionNotFound):
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return
			default:
				if ctx.Err() != nil {
					return
				}
				msg = gin.H{"error": err.Error()}
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				logger.Info("topology watch write failed", zap.Error(err))
				return
			}
		}
	}
}
