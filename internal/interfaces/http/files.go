package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
)

// FileHandler serves documents from the local object store behind signed URLs
type FileHandler struct {
	store  SignedFileStore
	logger Logger
}

// NewFileHandler creates a FileHandler
func NewFileHandler(store SignedFileStore, logger Logger) *FileHandler {
	return &FileHandler{store: store, logger: logger}
}

// Download handles GET /files/*key?expires=...&signature=...
func (h *FileHandler) Download(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "not found"})
		return
	}

	if err := h.store.VerifySignature(key, c.Query("expires"), c.Query("signature")); err != nil {
		h.logger.Info("Rejected file download", "key", key, "error", err)
		c.JSON(http.StatusForbidden, Response{Success: false, Error: err.Error()})
		return
	}

	data, err := h.store.Get(c.Request.Context(), key)
	if errors.Is(err, port.ErrObjectNotFound) {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read object", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "internal error"})
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.Header("Content-Disposition", "attachment")
	c.Data(http.StatusOK, "application/octet-stream", data)
}
