// Package export holds the HTTP handlers for export job endpoints.
package export

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"photomap/internal/api/respond"
	"photomap/internal/model"
)

// manager defines the export operations used by the handlers.
type manager interface {
	CreateExport(ctx context.Context, photoIDs []string, format model.ExportFormat, opts model.ExportOptions, requesterID string) (model.ExportJob, error)
	GetJob(id string) (model.ExportJob, error)
	Cancel(id string) error
	Delete(id string) error
	ExportFile(id string) (string, model.ExportJob, error)
	Statistics() model.ExportStats
}

// Handler provides HTTP handlers for export endpoints.
type Handler struct {
	manager manager
}

func NewHandler(m manager) *Handler {
	return &Handler{manager: m}
}

type createRequest struct {
	PhotoIDs    []string             `json:"photo_ids" binding:"required"`
	Format      model.ExportFormat   `json:"format" binding:"required"`
	Options     *model.ExportOptions `json:"options"`
	RequesterID string               `json:"requester_id"`
}

// Create queues a new export job.
func (h *Handler) Create(c *ginext.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	opts := model.DefaultExportOptions()
	if req.Options != nil {
		opts = *req.Options
	}

	job, err := h.manager.CreateExport(c.Request.Context(), req.PhotoIDs, req.Format, opts, req.RequesterID)
	if err != nil {
		zlog.Logger.Err(err).Str("format", string(req.Format)).Msg("export rejected")
		respond.FromError(c, err)
		return
	}
	respond.Accepted(c, job)
}

// Get returns the current state of an export job.
func (h *Handler) Get(c *ginext.Context) {
	job, err := h.manager.GetJob(c.Param("id"))
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, job)
}

// Download streams the finished artifact.
func (h *Handler) Download(c *ginext.Context) {
	path, job, err := h.manager.ExportFile(c.Param("id"))
	if err != nil {
		respond.FromError(c, err)
		return
	}

	c.Header("Content-Type", job.Format.ContentType())
	c.FileAttachment(path, job.OutputFilename)
}

// Cancel stops a queued job; DELETE on a terminal job removes it together
// with its artifact.
func (h *Handler) Cancel(c *ginext.Context) {
	id := c.Param("id")

	err := h.manager.Cancel(id)
	if err == nil {
		respond.OK(c, map[string]string{"id": id, "status": "cancelled"})
		return
	}
	// Terminal jobs cannot be cancelled, but deleting them is fine.
	if delErr := h.manager.Delete(id); delErr != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, map[string]string{"id": id, "status": "deleted"})
}

// Stats reports job counts by status.
func (h *Handler) Stats(c *ginext.Context) {
	respond.OK(c, h.manager.Statistics())
}
