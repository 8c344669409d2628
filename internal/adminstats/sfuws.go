package adminstats

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sfuStatsMessage is what a remote SFU pushes on its stats socket.
type sfuStatsMessage struct {
	Type     string            `json:"type"`
	Channels map[string]Counts `json:"channels"`
}

// ServeSFUStats handles GET /ws/sfu-stats?secretKey=<sfuSecret>: a remote
// SFU pushes stats-update messages that are diffed into the aggregate. On
// disconnect every previously-reported channel is zeroed out.
func (a *Aggregator) ServeSFUStats(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || subtle.ConstantTimeCompare([]byte(c.Query("secretKey")), []byte(secret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret key"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			a.log.Warn("sfu stats websocket upgrade failed", zap.Error(err))
			return
		}
		connID := uuid.NewString()
		defer func() {
			a.RemoteDisconnected(connID)
			_ = conn.Close()
		}()

		conn.SetReadLimit(1 << 20)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			var msg sfuStatsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			if msg.Type != "stats-update" {
				continue
			}
			if msg.Channels == nil {
				msg.Channels = make(map[string]Counts)
			}
			a.RemoteStats(connID, msg.Channels)
		}
	}
}
