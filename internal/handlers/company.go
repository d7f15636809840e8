package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/middleware"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

type CompanyHandler struct {
	companyService *services.CompanyService
}

func NewCompanyHandler(companyService *services.CompanyService) *CompanyHandler {
	return &CompanyHandler{companyService: companyService}
}

// Directory lists company ids and names for the join-request picker.
// GET /api/companies
func (h *CompanyHandler) Directory(c *gin.Context) {
	result, err := h.companyService.ListDirectory(c.Request.Context(), c.Query("search"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// Create registers a company together with its owner account.
// POST /api/admin/companies
func (h *CompanyHandler) Create(c *gin.Context) {
	var req services.CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.companyService.CreateWithOwner(middleware.Detached(c), middleware.GetUserID(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, result)
}
