package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/registry"
	"github.com/aura-soundcast/core/internal/sfuadapter"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Role is a session's elected role, sticky once assigned per connection.
type Role string

const (
	RoleNone      Role = "none"
	RoleAdmin     Role = "admin"
	RolePublisher Role = "publisher"
	RoleListener  Role = "listener"
)

// Session is the per-WebSocket state machine. Message handling is
// serial: the read loop processes one frame to completion before reading
// the next. Fields below the mutex are read by fan-out paths running on
// other sessions' goroutines and must be accessed through the accessors.
type Session struct {
	ID     string
	server *Server
	conn   *websocket.Conn
	send   chan Frame
	log    *zap.Logger

	mu             sync.Mutex
	role           Role
	channelKey     registry.Key
	displayName    string
	sourceLanguage string
	transport      sfuadapter.Transport
	connected      bool
	producerID     string // internal id, not the SFU's
	consumerIDs    map[string]struct{}
	receiverCaps   *sfuadapter.RTPCapabilities
}

func newSession(server *Server, conn *websocket.Conn, log *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		ID:          id,
		server:      server,
		conn:        conn,
		send:        make(chan Frame, sendBuffer),
		log:         log.With(zap.String("client_id", id)),
		role:        RoleNone,
		consumerIDs: make(map[string]struct{}),
	}
}

// ServeWS handles the signaling WebSocket upgrade and runs the session loop.
func (srv *Server) ServeWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			srv.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s := newSession(srv, conn, srv.log)
		srv.register(s)
		go s.writePump()
		s.readPump()
	}
}

func (s *Session) readPump() {
	defer func() {
		s.server.closeSession(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(65536)
	_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		s.server.handleFrame(s, frame)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendFrame enqueues a frame for the write pump. A backed-up session drops
// the frame rather than blocking the sender's goroutine.
func (s *Session) sendFrame(frame Frame) {
	select {
	case s.send <- frame:
	default:
		s.log.Warn("session send buffer full, dropping frame", zap.String("action", frame.Action))
	}
}

func (s *Session) sendError(message string) {
	s.sendFrame(mustFrame(actionError, errorPayload{Message: message}))
}

// electRole assigns role if the session has none yet; a session already
// holding a different role keeps it and the caller gets ok=false.
func (s *Session) electRole(role Role) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role == RoleNone {
		s.role = role
		return true
	}
	return s.role == role
}

func (s *Session) currentRole() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// listenerView snapshots the fields the fan-out engine needs; ok is false
// unless the session is a listener with cached capabilities and a transport.
func (s *Session) listenerView(key registry.Key) (caps sfuadapter.RTPCapabilities, transport sfuadapter.Transport, displayName string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.role != RoleListener || s.channelKey != key || s.receiverCaps == nil || s.transport == nil {
		return sfuadapter.RTPCapabilities{}, nil, "", false
	}
	return *s.receiverCaps, s.transport, s.displayName, true
}

func (s *Session) trackConsumer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumerIDs[id] = struct{}{}
}

func (s *Session) untrackConsumer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consumerIDs, id)
}
