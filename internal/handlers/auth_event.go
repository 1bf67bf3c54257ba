package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/gatehouse/backend/internal/middleware"
	"github.com/huangang/gatehouse/backend/internal/services"
	"github.com/huangang/gatehouse/backend/pkg/response"
)

type AuthEventHandler struct {
	events *services.AuthEventService
}

func NewAuthEventHandler(events *services.AuthEventService) *AuthEventHandler {
	return &AuthEventHandler{events: events}
}

// List returns the signed-in user's own sign-in history.
// GET /api/auth-events
func (h *AuthEventHandler) List(c *gin.Context) {
	var req services.AuthEventListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	req.Username = middleware.GetUsername(c)

	resp, err := h.events.List(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, "failed to list events")
		return
	}
	response.Success(c, resp)
}
