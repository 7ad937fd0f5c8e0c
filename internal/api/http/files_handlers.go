package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListDirectory lists the children of ?path=
func (h *Handlers) ListDirectory(c *gin.Context) {
	rel := c.Query("path")

	entries, err := h.gateway.ListDirectory(c.Request.Context(), rel)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"path":    rel,
		"entries": entries,
	})
}

// CreateDirectory creates a directory
func (h *Handlers) CreateDirectory(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "path is required")
		return
	}

	created, err := h.gateway.CreateDirectory(c.Request.Context(), req.Path)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"path":    created.String(),
	})
}

// DeleteEntry deletes the file or directory at ?path=
func (h *Handlers) DeleteEntry(c *gin.Context) {
	result, err := h.gateway.DeleteEntry(c.Request.Context(), c.Query("path"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// RenameEntry moves oldPath to newPath
func (h *Handlers) RenameEntry(c *gin.Context) {
	var req struct {
		OldPath string `json:"oldPath" binding:"required"`
		NewPath string `json:"newPath" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "oldPath and newPath are required")
		return
	}

	moved, err := h.gateway.RenameEntry(c.Request.Context(), req.OldPath, req.NewPath)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"path":    moved.String(),
	})
}
