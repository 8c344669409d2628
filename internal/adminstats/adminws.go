package adminstats

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// statsFrame is the admin-facing envelope.
type statsFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// AdminConn is one authenticated admin WebSocket.
type AdminConn struct {
	tenantID uuid.UUID
	conn     *websocket.Conn
	out      chan statsFrame
	done     chan struct{}
	log      *zap.Logger
}

func (c *AdminConn) send(frameType string, data interface{}) {
	select {
	case <-c.done:
	case c.out <- statsFrame{Type: frameType, Data: data}:
	default:
		c.log.Warn("admin stats buffer full, dropping frame", zap.String("type", frameType))
	}
}

// APIKeyValidator authenticates an admin connection's credential and
// resolves the tenant it acts for.
type APIKeyValidator func(apiKey string) (uuid.UUID, error)

// ServeAdmin handles GET /ws/admin?apiKey=<tenantApiKey>: on connect one
// full channel-stats snapshot, then incremental channel-update frames.
func (a *Aggregator) ServeAdmin(validate APIKeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := validate(c.Query("apiKey"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			a.log.Warn("admin websocket upgrade failed", zap.Error(err))
			return
		}

		admin := &AdminConn{
			tenantID: tenantID,
			conn:     conn,
			out:      make(chan statsFrame, sendBuffer),
			done:     make(chan struct{}),
			log:      a.log.With(zap.String("tenant_id", tenantID.String())),
		}
		a.registerAdmin(admin)
		admin.send("channel-stats", gin.H{"rooms": a.snapshotFor(tenantID)})

		go admin.writePump()
		admin.readPump(a)
	}
}

func (c *AdminConn) readPump(a *Aggregator) {
	defer func() {
		a.unregisterAdmin(c)
		close(c.done)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// admins only listen; frames from them are drained and dropped
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *AdminConn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
