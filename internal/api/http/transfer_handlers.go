package http

import (
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/filegate/internal/providers/filesystem"
)

// DownloadFile streams a single file. Range requests are honoured.
func (h *Handlers) DownloadFile(c *gin.Context) {
	download, err := h.gateway.DownloadFile(c.Request.Context(), c.Query("path"))
	if err != nil {
		h.fail(c, err)
		return
	}
	defer download.Content.Close()

	c.Header("Content-Disposition", attachment(download.Name))
	c.Header("Content-Type", download.ContentType)
	http.ServeContent(c.Writer, c.Request, download.Name, download.ModTime, download.Content)
}

// DownloadDirectory packs a directory into an archive and streams it. The
// archive's temp files are removed when the handler returns, whether or not
// the client read the whole body.
func (h *Handlers) DownloadDirectory(c *gin.Context) {
	format := filesystem.ArchiveFormat(c.Query("format"))

	stream, err := h.gateway.DownloadDirectoryArchive(c.Request.Context(), c.Query("path"), format)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			h.logger.Warn("Archive cleanup failed", zap.String("archive", stream.Name), zap.Error(err))
		}
	}()

	c.DataFromReader(http.StatusOK, stream.Size, stream.ContentType, stream, map[string]string{
		"Content-Disposition": attachment(stream.Name),
		"X-Archive-Files":     strconv.Itoa(stream.Files),
		"X-Archive-Skipped":   strconv.Itoa(stream.Skipped),
	})
}

// Upload accepts a multipart form with a target "path", an optional
// "folderName" and one or more "files" parts.
func (h *Handlers) Upload(c *gin.Context) {
	if h.limits.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.limits.MaxBytes)
	}
	if err := c.Request.ParseMultipartForm(h.limits.MemoryBytes); err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error":   "upload exceeds size limit",
			})
			return
		}
		h.badRequest(c, "invalid multipart form")
		return
	}
	form := c.Request.MultipartForm
	defer func() {
		if err := form.RemoveAll(); err != nil {
			h.logger.Warn("Failed to remove multipart temp files", zap.Error(err))
		}
	}()

	headers := form.File["files"]
	if len(headers) == 0 {
		h.badRequest(c, "no files in upload")
		return
	}
	items := make([]filesystem.UploadItem, 0, len(headers))
	for _, fh := range headers {
		items = append(items, partItem(fh))
	}

	result, err := h.gateway.UploadFiles(c.Request.Context(), c.PostForm("path"), c.PostForm("folderName"), items)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// partItem keeps the client's relative file name. FileHeader.Filename has
// directories stripped, which would flatten folder uploads.
func partItem(fh *multipart.FileHeader) filesystem.UploadItem {
	name := fh.Filename
	if _, params, err := mime.ParseMediaType(fh.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return filesystem.UploadItem{
		Name: name,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}
