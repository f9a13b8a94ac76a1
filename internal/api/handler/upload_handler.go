package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/textjob/internal/api/dto"
	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/gin-gonic/gin"
)

// GetUploadURL handles POST /get-presigned-url
// Returns a URL that permits one PUT of fileName with content type fileType
func (h *UploadHandler) GetUploadURL(c *gin.Context) {
	h.logger.Info("GetUploadURL called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	capability, err := h.uploads.Authorize(c.Request.Context(), req.FileName, req.FileType)
	if err != nil {
		h.logger.Error("Failed to authorize upload",
			slog.String("file_name", req.FileName),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Could not generate a presigned URL"})
		return
	}

	c.JSON(http.StatusOK, dto.UploadURLResponse{
		URL:       capability.URL,
		Method:    capability.Method,
		ExpiresAt: capability.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
}

// PutObject handles PUT /objects/:bucket/*key
// Stores the body if the query string carries a valid capability for this key
func (h *UploadHandler) PutObject(c *gin.Context) {
	bucket := c.Param("bucket")
	key := strings.TrimPrefix(c.Param("key"), "/")

	h.logger.Info("PutObject called",
		slog.String("bucket", bucket),
		slog.String("key", key),
	)

	if h.objects == nil {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Object uploads are not served here"})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "Object too large"})
			return
		}
		h.logger.Error("Failed to read object body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Failed to read body"})
		return
	}

	err = h.objects.PutWithCapability(c.Request.Context(), bucket, key, c.ContentType(), c.Request.URL.Query(), data)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, domain.ErrCapabilityInvalid),
		errors.Is(err, domain.ErrCapabilityExpired),
		errors.Is(err, domain.ErrCapabilityUsed):
		h.logger.Warn("Upload capability rejected",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrObjectExists):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("Failed to store object",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to store object"})
	}
}
