package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/middleware"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/internal/storage"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

// maxFilesPerApplication bounds the multipart body together with the
// per-file ceiling.
const maxFilesPerApplication = 10

type ApplicationHandler struct {
	applicationService *services.ApplicationService
	maxFileSize        int64
}

func NewApplicationHandler(applicationService *services.ApplicationService, maxFileSize int64) *ApplicationHandler {
	return &ApplicationHandler{
		applicationService: applicationService,
		maxFileSize:        maxFileSize,
	}
}

// Create accepts a multipart form with facility fields and any number of
// file parts; each file part keeps its form field name.
// POST /api/applications
func (h *ApplicationHandler) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxFileSize*maxFilesPerApplication+1<<20)

	var req services.CreateApplicationRequest
	if err := c.ShouldBind(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(c, "request body too large")
			return
		}
		response.BadRequest(c, err.Error())
		return
	}

	uploads, err := h.readUploads(c)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.applicationService.Create(middleware.Detached(c), middleware.GetUserID(c), &req, uploads)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, result)
}

func (h *ApplicationHandler) readUploads(c *gin.Context) ([]*storage.FileUpload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}

	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var uploads []*storage.FileUpload
	for _, field := range fields {
		for _, fh := range form.File[field] {
			if len(uploads) == maxFilesPerApplication {
				return nil, fmt.Errorf("at most %d files per application", maxFilesPerApplication)
			}
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, err
			}
			uploads = append(uploads, &storage.FileUpload{
				FieldName:   field,
				FileName:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}
	return uploads, nil
}

// List
// GET /api/applications
func (h *ApplicationHandler) List(c *gin.Context) {
	result, err := h.applicationService.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// Get
// GET /api/applications/:id
func (h *ApplicationHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	result, err := h.applicationService.Get(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}
