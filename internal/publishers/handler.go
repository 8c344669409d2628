package publishers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/pkg/response"
)

// Handler is the thin REST boundary over publisher CRUD.
type Handler struct {
	repo *Repository
}

// NewHandler constructs a publisher REST handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type createPublisherRequest struct {
	RoomID         string `json:"room_id" binding:"required"`
	Name           string `json:"name" binding:"required"`
	ChannelName    string `json:"channel_name" binding:"required"`
	SourceLanguage string `json:"source_language"`
}

type createPublisherResponse struct {
	Publisher *models.Publisher `json:"publisher"`
	JoinToken string            `json:"join_token"`
}

// Create handles POST /publishers. The join token is returned exactly once
// in this response; the server retains only its bcrypt hash thereafter.
func (h *Handler) Create(c *gin.Context) {
	var req createPublisherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	roomID, err := uuid.Parse(req.RoomID)
	if err != nil {
		response.BadRequest(c, "invalid room_id")
		return
	}
	p := &models.Publisher{
		RoomID:         roomID,
		Name:           req.Name,
		ChannelName:    req.ChannelName,
		SourceLanguage: req.SourceLanguage,
	}
	token, err := h.repo.Create(p)
	if err != nil {
		response.Internal(c, "failed to create publisher")
		return
	}
	response.Created(c, createPublisherResponse{Publisher: p, JoinToken: token})
}

// ListByRoom handles GET /rooms-by-id/:id/publishers.
func (h *Handler) ListByRoom(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid room id")
		return
	}
	list, err := h.repo.ListByRoom(roomID)
	if err != nil {
		response.Internal(c, "failed to list publishers")
		return
	}
	response.OK(c, list)
}
