package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

// List returns every runtime setting, optionally filtered by ?group=.
// GET /api/system-config
func (h *SystemConfigHandler) List(c *gin.Context) {
	var (
		result interface{}
		err    error
	)
	if group := c.Query("group"); group != "" {
		result, err = h.configService.GetByGroup(group)
	} else {
		result, err = h.configService.List()
	}
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// Update
// PUT /api/system-config
func (h *SystemConfigHandler) Update(c *gin.Context) {
	var req services.UpdateSystemConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.configService.Update(&req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}
