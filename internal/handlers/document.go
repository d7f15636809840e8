package handlers

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/middleware"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

type DocumentHandler struct {
	documentService *services.DocumentService
}

func NewDocumentHandler(documentService *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Download streams the stored bytes. ?preview=true renders inline, anything
// else is served as an attachment.
// GET /api/documents/:id/download
func (h *DocumentHandler) Download(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	doc, err := h.documentService.Download(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}

	disposition := "attachment"
	if c.Query("preview") == "true" {
		disposition = "inline"
	}
	c.Header("Content-Disposition", contentDisposition(disposition, doc.FileName))
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, doc.ContentType, doc.Data)
}

func contentDisposition(disposition, fileName string) string {
	if fileName == "" {
		return disposition
	}
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": fileName}); v != "" {
		return v
	}
	return disposition
}

// SignedURL
// GET /api/documents/:id/url
func (h *DocumentHandler) SignedURL(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.documentService.SignedURL(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// Delete
// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.documentService.Delete(middleware.Detached(c), middleware.GetUserID(c), id); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"success": true})
}
