package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect cross-origin; bearer auth gates the endpoint.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleRealtimeStream upgrades the request to a websocket and forwards change
// events for the requested tables until the client disconnects.
func (h *httpHandler) handleRealtimeStream(c *gin.Context) {
	tables := splitTables(c.Query("tables"))
	if len(tables) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_tables"})
		return
	}
	userID := c.GetString(userIDContextKey)

	conn, err := streamUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cleanup := h.realtime.Subscribe(c.Request.Context(), userID, tables)
	defer cleanup()

	// Reader goroutine: we never expect client frames, but reading is what
	// surfaces the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(streamPingInterval)
	defer pings.Stop()

	h.logger.Debug("realtime stream opened",
		zap.String("user_id", userID),
		zap.Strings("tables", tables))

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("realtime stream write failed", zap.Error(err))
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func splitTables(raw string) []string {
	parts := strings.Split(raw, ",")
	tables := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tables = append(tables, trimmed)
		}
	}
	return tables
}
