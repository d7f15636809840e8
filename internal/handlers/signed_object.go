package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/storage"
	"github.com/huangang/contractorhub/backend/pkg/response"
)

// SignedObjectRoute matches the links produced by MemoryStore.CreateSignedURL.
const SignedObjectRoute = "/storage/v1/object/sign/:bucket/*path"

// SignedObjectHandler serves objects of the in-process store to holders of a
// valid signed link. No session is needed; the signature is the credential.
type SignedObjectHandler struct {
	store *storage.MemoryStore
}

func NewSignedObjectHandler(store *storage.MemoryStore) *SignedObjectHandler {
	return &SignedObjectHandler{store: store}
}

// Serve
// GET /storage/v1/object/sign/:bucket/*path?expires=&token=
func (h *SignedObjectHandler) Serve(c *gin.Context) {
	bucket := c.Param("bucket")
	path := strings.TrimPrefix(c.Param("path"), "/")

	if !h.store.VerifySignedURL(bucket, path, c.Query("expires"), c.Query("token")) {
		response.Forbidden(c, "invalid or expired link")
		return
	}

	data, contentType, err := h.store.Download(c.Request.Context(), bucket, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			response.NotFound(c, "file not found")
			return
		}
		fail(c, err)
		return
	}

	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, contentType, data)
}
