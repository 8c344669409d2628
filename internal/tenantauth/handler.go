package tenantauth

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-soundcast/core/pkg/response"
)

// Handler exchanges tenant API keys for bearer tokens.
type Handler struct {
	repo *Repository
	jwt  *JWTService
}

// NewHandler constructs a tenantauth REST handler.
func NewHandler(repo *Repository, jwt *JWTService) *Handler {
	return &Handler{repo: repo, jwt: jwt}
}

type tokenRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// Token handles POST /auth/token: validates the API key and returns a JWT
// the tenant uses as a Bearer token on subsequent requests.
func (h *Handler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	tenant, err := h.repo.Validate(req.APIKey)
	if err != nil {
		response.Unauthorized(c, "invalid api key")
		return
	}
	token, err := h.jwt.Generate(tenant.ID)
	if err != nil {
		response.Internal(c, "failed to issue token")
		return
	}
	response.OK(c, gin.H{"token": token, "tenant_id": tenant.ID})
}
