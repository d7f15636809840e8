package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/middleware"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

type JoinRequestHandler struct {
	joinRequestService *services.JoinRequestService
}

func NewJoinRequestHandler(joinRequestService *services.JoinRequestService) *JoinRequestHandler {
	return &JoinRequestHandler{joinRequestService: joinRequestService}
}

// Submit
// POST /api/join-requests
func (h *JoinRequestHandler) Submit(c *gin.Context) {
	var req services.SubmitJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.joinRequestService.Submit(middleware.Detached(c), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, result)
}

// ListMine
// GET /api/join-requests/mine
func (h *JoinRequestHandler) ListMine(c *gin.Context) {
	result, err := h.joinRequestService.ListMine(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// List
// GET /api/contractor/join-requests
func (h *JoinRequestHandler) List(c *gin.Context) {
	var req services.JoinRequestListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.joinRequestService.List(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// Approve takes an optional body; without one the requested level is granted.
// POST /api/contractor/join-requests/:id/approve
func (h *JoinRequestHandler) Approve(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.ApproveJoinRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.joinRequestService.Approve(middleware.Detached(c), middleware.GetUserID(c), id, &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// Reject
// POST /api/contractor/join-requests/:id/reject
func (h *JoinRequestHandler) Reject(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.RejectJoinRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	result, err := h.joinRequestService.Reject(middleware.Detached(c), middleware.GetUserID(c), id, &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}
