package http

import (
	"errors"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/filegate/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filegate/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/filegate/internal/providers/filesystem"
)

// UploadLimits bounds multipart uploads.
type UploadLimits struct {
	// MaxBytes caps the whole request body.
	MaxBytes int64
	// MemoryBytes is how much of the form is held in memory before parts
	// spill to temp files.
	MemoryBytes int64
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	gateway *filesystem.Gateway
	metrics *monitoring.Metrics
	limits  UploadLimits
	logger  *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(gateway *filesystem.Gateway, metrics *monitoring.Metrics, limits UploadLimits, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		gateway: gateway,
		metrics: metrics,
		limits:  limits,
		logger:  logger,
	}
}

// Register mounts every route on router.
func (h *Handlers) Register(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	api := router.Group("/api")
	api.GET("/files", h.ListDirectory)
	api.POST("/files", h.CreateDirectory)
	api.DELETE("/files", h.DeleteEntry)
	api.PUT("/files", h.RenameEntry)
	api.GET("/download", h.DownloadFile)
	api.GET("/downloadDir", h.DownloadDirectory)
	api.POST("/upload", h.Upload)
}

// Health reports whether the gateway's directories are usable and a metrics
// summary. Server paths are only logged at startup.
func (h *Handlers) Health(c *gin.Context) {
	ready := h.gateway.Ready()
	status := "healthy"
	if !ready.RootReadable || !ready.TempDirWritable {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"checks":  ready,
		"format":  h.gateway.DefaultFormat(),
		"metrics": h.metrics.Snapshot(),
	})
}

// statusFor maps a gateway failure kind to an HTTP status.
func statusFor(kind filesystem.Kind) int {
	switch kind {
	case filesystem.KindInvalidPath, filesystem.KindIsADirectory:
		return http.StatusBadRequest
	case filesystem.KindForbidden, filesystem.KindPermissionDenied:
		return http.StatusForbidden
	case filesystem.KindNotFound:
		return http.StatusNotFound
	case filesystem.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes an error response. Forbidden and internal failures get a
// generic message; the detail stays in the logs.
func (h *Handlers) fail(c *gin.Context, err error) {
	kind := filesystem.KindOf(err)
	status := statusFor(kind)

	message := err.Error()
	switch kind {
	case filesystem.KindForbidden:
		message = "access denied"
	case filesystem.KindIOError:
		message = "internal error"
		h.logger.Error("Request failed",
			append([]zap.Field{zap.String("route", c.FullPath()), zap.Error(err)},
				tracing.Fields(c.Request.Context())...)...)
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"kind":    kind.String(),
	})
}

func (h *Handlers) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   message,
		"kind":    filesystem.KindInvalidPath.String(),
	})
}

// attachment builds a Content-Disposition header value. Non-ASCII names are
// encoded per RFC 2231.
func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
