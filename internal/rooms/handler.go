package rooms

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-soundcast/core/internal/models"
	"github.com/aura-soundcast/core/pkg/response"
)

// Handler is the thin REST boundary over room CRUD; it is a collaborator
// of the core, not part of it, but the core must expose Repository so
// this layer has something to call.
type Handler struct {
	repo *Repository
}

// NewHandler constructs a room REST handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

type createRoomRequest struct {
	Name           string `json:"name" binding:"required"`
	Slug           string `json:"slug" binding:"required"`
	IsLocalOnly    bool   `json:"is_local_only"`
	SFUURL         string `json:"sfu_url"`
	ICEServersJSON string `json:"ice_servers_json"`
}

// Create handles POST /rooms.
func (h *Handler) Create(c *gin.Context) {
	tenantID, ok := c.Get("tenant_id")
	if !ok {
		response.Unauthorized(c, "missing tenant context")
		return
	}
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	room := &models.Room{
		TenantID:       tenantID.(uuid.UUID),
		Slug:           req.Slug,
		Name:           req.Name,
		IsLocalOnly:    req.IsLocalOnly,
		SFUURL:         req.SFUURL,
		ICEServersJSON: req.ICEServersJSON,
	}
	if err := h.repo.Create(room); err != nil {
		response.Conflict(c, "room slug or name already in use")
		return
	}
	response.Created(c, room)
}

// Get handles GET /rooms/:slug.
func (h *Handler) Get(c *gin.Context) {
	room, err := h.repo.GetBySlug(c.Param("slug"))
	if err != nil {
		response.NotFound(c, "room not found")
		return
	}
	response.OK(c, room)
}

// List handles GET /rooms.
func (h *Handler) List(c *gin.Context) {
	tenantID, ok := c.Get("tenant_id")
	if !ok {
		response.Unauthorized(c, "missing tenant context")
		return
	}
	list, err := h.repo.ListByTenant(tenantID.(uuid.UUID))
	if err != nil {
		response.Internal(c, "failed to list rooms")
		return
	}
	response.OK(c, list)
}
