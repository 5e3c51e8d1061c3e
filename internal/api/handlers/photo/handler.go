// Package photo holds the HTTP handlers for photo endpoints.
package photo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"photomap/internal/api/respond"
	"photomap/internal/model"
	photosvc "photomap/internal/service/photo"
	"photomap/internal/upload"
)

// maxMultipartMemory bounds the in-memory part of multipart parsing; larger
// files spill to disk.
const maxMultipartMemory = 32 << 20

// service defines the photo operations used by the handlers.
type service interface {
	Upload(ctx context.Context, req upload.Request) (photosvc.UploadResponse, error)
	GetPhoto(ctx context.Context, id string) (*model.Photo, error)
	ListPhotos(ctx context.Context, filters model.PhotoFilters) ([]model.Photo, int64, error)
	DeletePhoto(ctx context.Context, id string) error
	DownloadURL(ctx context.Context, id string) (string, error)
	UpdateCoordinates(ctx context.Context, id string, lat, lng float64, altitude *float64) (*model.Photo, error)
	Stats(ctx context.Context) (photosvc.ProcessingStats, error)
}

// Handler provides HTTP handlers for photo endpoints.
type Handler struct {
	service service
}

func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// Upload accepts a multipart photo submission and queues it for ingestion.
// Coordinates, tags and description come from form fields next to the file.
func (h *Handler) Upload(c *ginext.Context) {
	if err := c.Request.ParseMultipartForm(maxMultipartMemory); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form: %v", err))
		return
	}

	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		zlog.Logger.Err(err).Msg("missing photo form file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("photo file is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, upload.MaxFileSize+1))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("read photo: %v", err))
		return
	}

	req := upload.Request{
		Content:     content,
		Filename:    header.Filename,
		MimeType:    header.Header.Get("Content-Type"),
		Description: c.PostForm("description"),
		UploaderID:  c.PostForm("uploader_id"),
		Tags:        splitTags(c.PostForm("tags")),
	}

	req.Latitude, err = optionalFloat(c.PostForm("latitude"))
	if err == nil {
		req.Longitude, err = optionalFloat(c.PostForm("longitude"))
	}
	if err == nil {
		req.Altitude, err = optionalFloat(c.PostForm("altitude"))
	}
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid coordinate field: %v", err))
		return
	}

	resp, err := h.service.Upload(c.Request.Context(), req)
	if err != nil {
		zlog.Logger.Err(err).Str("filename", header.Filename).Msg("upload rejected")
		respond.FromError(c, err)
		return
	}
	if resp.Duplicate {
		respond.OK(c, resp)
		return
	}
	respond.Accepted(c, resp)
}

// List returns photos matching the query filters, newest first.
func (h *Handler) List(c *ginext.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, err)
		return
	}

	photos, total, err := h.service.ListPhotos(c.Request.Context(), filters)
	if err != nil {
		zlog.Logger.Err(err).Msg("list photos failed")
		respond.FromError(c, err)
		return
	}
	respond.OK(c, map[string]interface{}{
		"photos": photos,
		"total":  total,
	})
}

// Get returns one photo record by id.
func (h *Handler) Get(c *ginext.Context) {
	photo, err := h.service.GetPhoto(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, photo)
}

// Download returns a time-limited link to the original photo blob.
func (h *Handler) Download(c *ginext.Context) {
	url, err := h.service.DownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, map[string]string{"url": url})
}

// Delete removes a photo record and its stored blobs.
func (h *Handler) Delete(c *ginext.Context) {
	id := c.Param("id")
	if err := h.service.DeletePhoto(c.Request.Context(), id); err != nil {
		zlog.Logger.Err(err).Str("photo_id", id).Msg("delete photo failed")
		respond.FromError(c, err)
		return
	}
	respond.OK(c, map[string]string{"id": id, "status": "deleted"})
}

// Pointers so zero coordinates (the equator, the prime meridian) survive
// the required check.
type coordinatesRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
	Altitude  *float64 `json:"altitude"`
}

// UpdateCoordinates reassigns a photo's location by hand.
func (h *Handler) UpdateCoordinates(c *ginext.Context) {
	var req coordinatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	photo, err := h.service.UpdateCoordinates(c.Request.Context(), c.Param("id"), *req.Latitude, *req.Longitude, req.Altitude)
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, photo)
}

// Stats reports pipeline and storage statistics.
func (h *Handler) Stats(c *ginext.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respond.FromError(c, err)
		return
	}
	respond.OK(c, stats)
}

func parseFilters(c *ginext.Context) (model.PhotoFilters, error) {
	filters := model.PhotoFilters{
		UploaderID: c.Query("uploader_id"),
		Tags:       splitTags(c.Query("tags")),
	}

	var err error
	if filters.Limit, err = optionalInt(c.Query("limit")); err != nil {
		return filters, fmt.Errorf("invalid limit: %v", err)
	}
	if filters.Offset, err = optionalInt(c.Query("offset")); err != nil {
		return filters, fmt.Errorf("invalid offset: %v", err)
	}

	if filters.StartDate, err = optionalTime(c.Query("start_date")); err != nil {
		return filters, fmt.Errorf("invalid start_date: %v", err)
	}
	if filters.EndDate, err = optionalTime(c.Query("end_date")); err != nil {
		return filters, fmt.Errorf("invalid end_date: %v", err)
	}

	for name, dst := range map[string]**float64{
		"min_lat": &filters.MinLat,
		"max_lat": &filters.MaxLat,
		"min_lng": &filters.MinLng,
		"max_lng": &filters.MaxLng,
	} {
		if *dst, err = optionalFloat(c.Query(name)); err != nil {
			return filters, fmt.Errorf("invalid %s: %v", name, err)
		}
	}
	return filters, nil
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func optionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func optionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Plain dates are accepted too.
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}
