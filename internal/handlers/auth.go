package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/middleware"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

type AuthHandler struct {
	authService *services.AuthService
}

func NewAuthHandler(authService *services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles user login by username or e-mail
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Login(middleware.Detached(c), &req)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, result)
}

// Refresh rotates a refresh token
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.authService.Refresh(middleware.Detached(c), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, result)
}

// Me returns the current user with company membership and capabilities
// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	result, err := h.authService.Me(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, result)
}

// Logout revokes the refresh token if one is supplied; the access token
// simply expires.
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshTokenRequest
	_ = c.ShouldBindJSON(&req)

	if req.RefreshToken != "" {
		if err := h.authService.RevokeRefreshToken(middleware.Detached(c), req.RefreshToken); err != nil {
			fail(c, err)
			return
		}
	}

	response.Success(c, gin.H{"message": "logged out successfully"})
}

// ChangePassword
// POST /api/auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req services.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.authService.ChangePassword(middleware.Detached(c), middleware.GetUserID(c), &req); err != nil {
		fail(c, err)
		return
	}

	response.Success(c, gin.H{"message": "password updated"})
}
