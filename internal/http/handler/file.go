package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"masterchain.app/orchestrator/internal/storage"
)

// maxUploadBytes caps audio uploads. Large masters go through pre-signed
// object storage in front of this service.
const maxUploadBytes = 100 << 20

type FileHandler struct {
	storage storage.Storage
}

func NewFileHandler(st storage.Storage) *FileHandler {
	return &FileHandler{storage: st}
}

// Upload accepts raw audio bytes and returns the reference to submit as a
// job input.
func (h *FileHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()

	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxUploadBytes+1))
	if err != nil {
		slog.WarnContext(ctx, "reading upload failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty upload"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds size limit"})
		return
	}

	ref, err := h.storage.Put(ctx, data, contentType)
	if err != nil {
		slog.ErrorContext(ctx, "storing upload failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ref": ref, "size": len(data)})
}

// Download resolves a blob reference, typically a job's result_ref.
func (h *FileHandler) Download(c *gin.Context) {
	ctx := c.Request.Context()

	ref := c.Query("ref")
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ref is required"})
		return
	}

	data, contentType, err := h.storage.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		slog.ErrorContext(ctx, "fetching blob failed", "ref", ref, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch file"})
		return
	}

	c.Data(http.StatusOK, contentType, data)
}
