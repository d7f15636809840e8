package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/middleware"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

// TeamHandler serves the contractor team-management endpoints and the
// public invitation accept flow.
type TeamHandler struct {
	teamService       *services.TeamService
	invitationService *services.InvitationService
}

func NewTeamHandler(teamService *services.TeamService, invitationService *services.InvitationService) *TeamHandler {
	return &TeamHandler{
		teamService:       teamService,
		invitationService: invitationService,
	}
}

// ListMembers
// GET /api/contractor/team-members
func (h *TeamHandler) ListMembers(c *gin.Context) {
	result, err := h.teamService.ListMembers(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// Invite
// POST /api/contractor/invite-team-member
func (h *TeamHandler) Invite(c *gin.Context) {
	var req services.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.invitationService.Invite(middleware.Detached(c), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, result)
}

// UpdatePermissions
// PATCH /api/contractor/update-permissions
func (h *TeamHandler) UpdatePermissions(c *gin.Context) {
	var req services.UpdatePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.teamService.UpdatePermissions(middleware.Detached(c), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// TransferOwnership
// PATCH /api/contractor/transfer-ownership
func (h *TeamHandler) TransferOwnership(c *gin.Context) {
	var req services.TransferOwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.teamService.TransferOwnership(middleware.Detached(c), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// DeleteMember accepts user_id in a JSON body or as a query parameter.
// DELETE /api/contractor/delete-member
func (h *TeamHandler) DeleteMember(c *gin.Context) {
	var req services.DeleteMemberRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.teamService.DeleteMember(middleware.Detached(c), middleware.GetUserID(c), &req); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}

// ListInvitations
// GET /api/contractor/team-invitations
func (h *TeamHandler) ListInvitations(c *gin.Context) {
	var req services.InvitationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.invitationService.List(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// RevokeInvitation
// DELETE /api/contractor/team-invitations/:id
func (h *TeamHandler) RevokeInvitation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.invitationService.Revoke(middleware.Detached(c), middleware.GetUserID(c), id); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}

// ResendInvitation
// POST /api/contractor/team-invitations/:id/resend
func (h *TeamHandler) ResendInvitation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.invitationService.Resend(middleware.Detached(c), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// PreviewInvitation is public; the token is the only credential.
// GET /api/team/invitations/:token
func (h *TeamHandler) PreviewInvitation(c *gin.Context) {
	result, err := h.invitationService.Preview(c.Request.Context(), c.Param("token"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// AcceptInvitation creates the invited account from {password}, or joins the
// signed-in caller when a bearer token is sent.
// POST /api/team/accept-invitation/:token
func (h *TeamHandler) AcceptInvitation(c *gin.Context) {
	if userID := middleware.GetUserID(c); userID != 0 {
		result, err := h.invitationService.AcceptAsUser(middleware.Detached(c), userID, c.Param("token"))
		if err != nil {
			fail(c, err)
			return
		}
		response.Success(c, result)
		return
	}

	var req services.AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.invitationService.Accept(middleware.Detached(c), c.Param("token"), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}
