package signaling

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/internal/publishers"
	"github.com/aura-soundcast/core/internal/rooms"
)

// roomConfigFrame is the envelope of the room-scoped config socket; unlike
// the signaling envelope this one is {type, data}.
type roomConfigFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// RoomSocketHandler serves the room-scoped config sockets: listen requires
// no credential, publish authenticates a publisher join token.
type RoomSocketHandler struct {
	roomRepo      *rooms.Repository
	publisherRepo *publishers.Repository
	registry      interface{ LiveChannelNames(roomSlug string) []string }
	httpsPort     string
	log           *zap.Logger
}

// NewRoomSocketHandler constructs a RoomSocketHandler. channels supplies the
// live channel names of a room for the listener config payload.
func NewRoomSocketHandler(roomRepo *rooms.Repository, publisherRepo *publishers.Repository, channels interface{ LiveChannelNames(roomSlug string) []string }, httpsPort string, log *zap.Logger) *RoomSocketHandler {
	return &RoomSocketHandler{
		roomRepo:      roomRepo,
		publisherRepo: publisherRepo,
		registry:      channels,
		httpsPort:     httpsPort,
		log:           log,
	}
}

// Listen handles GET /ws/room/:slug/listen.
func (h *RoomSocketHandler) Listen(c *gin.Context) {
	room, err := h.roomRepo.GetBySlug(c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	h.serveConfig(c, room, "")
}

// Publish handles GET /ws/room/:slug/publish?token=<joinToken>. An invalid
// token closes the connection before the upgrade.
func (h *RoomSocketHandler) Publish(c *gin.Context) {
	room, err := h.roomRepo.GetBySlug(c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	publisher, err := h.publisherRepo.AuthenticateByRoomToken(room.ID, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid join token"})
		return
	}
	h.serveConfig(c, room, publisher.ChannelName)
}

// serveConfig upgrades the connection and replies one config frame per
// get-config request until the client goes away.
func (h *RoomSocketHandler) serveConfig(c *gin.Context, room *models.Room, channelName string) {
	secure := rooms.IsSecureRequest(c.Request)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("room socket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(4096)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		var req struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data,omitempty"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Type != "get-config" {
			continue
		}

		cfg, err := rooms.BuildConfig(room, secure, h.httpsPort, time.Now())
		if err != nil {
			h.log.Error("build room config failed", zap.String("room", room.Slug), zap.Error(err))
			_ = conn.WriteJSON(roomConfigFrame{Type: "error", Data: map[string]string{"message": "config unavailable"}})
			continue
		}
		if channelName != "" {
			cfg.ChannelName = channelName
		} else if h.registry != nil {
			cfg.Channels = h.registry.LiveChannelNames(room.Slug)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(roomConfigFrame{Type: "config", Data: cfg}); err != nil {
			return
		}
	}
}
