package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/talksphere/internal/models"
	"github.com/lalith-99/talksphere/internal/upload"
	"go.uber.org/zap"
)

type UploadHandler struct {
	blobs  *upload.Store
	logger *zap.Logger
}

func NewUploadHandler(blobs *upload.Store, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{blobs: blobs, logger: logger}
}

// Create handles POST /v1/uploads (multipart field "file") and returns the
// attachment descriptor to put on a message.
func (h *UploadHandler) Create(c *gin.Context) {
	att, ok := h.store(c, "file")
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, att)
}

// Get handles GET /v1/uploads/:id
func (h *UploadHandler) Get(c *gin.Context) {
	blob, err := h.blobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, upload.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to read upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, blob.MimeType, blob.Data)
}

// multipartOverhead is the room left for boundaries and part headers on
// top of the file size cap.
const multipartOverhead = 64 << 10

// store reads one multipart file and saves it. It writes the error
// response itself and reports whether the caller should continue.
func (h *UploadHandler) store(c *gin.Context, field string) (*models.Attachment, bool) {
	limit := h.blobs.MaxBytes()
	if limit > 0 {
		if c.Request.ContentLength > limit+multipartOverhead {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return nil, false
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}

	fh, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field " + field + " is required"})
		return nil, false
	}
	if limit > 0 && fh.Size > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, false
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return nil, false
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return nil, false
	}

	att, err := h.blobs.Put(c.Request.Context(), fh.Filename, data)
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, false
	case errors.Is(err, upload.ErrEmpty):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
		return nil, false
	case err != nil:
		h.logger.Error("failed to store upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return nil, false
	}
	return att, true
}
