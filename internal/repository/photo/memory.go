package photo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"photomap/internal/apperr"
	"photomap/internal/geo"
	"photomap/internal/model"
)

// MemoryRepository is a map-backed photo store with the same behavior as
// the Mongo repository. It backs tests and local development without a
// database.
type MemoryRepository struct {
	mu     sync.RWMutex
	photos map[string]model.Photo
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{photos: make(map[string]model.Photo)}
}

func (r *MemoryRepository) CreatePhoto(_ context.Context, photo *model.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.photos[photo.ID] = *photo
	return nil
}

func (r *MemoryRepository) GetPhoto(_ context.Context, id string) (*model.Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.photos[id]
	if !ok {
		return nil, apperr.NotFound("photo %s not found", id)
	}
	return &p, nil
}

func (r *MemoryRepository) GetPhotos(_ context.Context, filters model.PhotoFilters) ([]model.Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Photo
	for _, p := range r.photos {
		if matches(p, filters) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })

	if filters.Offset > 0 {
		if filters.Offset >= len(out) {
			return nil, nil
		}
		out = out[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(out) {
		out = out[:filters.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) UpdatePhoto(_ context.Context, photo *model.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.photos[photo.ID]; !ok {
		return apperr.NotFound("photo %s not found", photo.ID)
	}
	photo.UpdatedAt = time.Now().UTC()
	r.photos[photo.ID] = *photo
	return nil
}

func (r *MemoryRepository) DeletePhoto(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.photos[id]; !ok {
		return apperr.NotFound("photo %s not found", id)
	}
	delete(r.photos, id)
	return nil
}

func (r *MemoryRepository) GetPhotosByHash(_ context.Context, hash string) ([]model.Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Photo
	for _, p := range r.photos {
		if p.HashMD5 == hash {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) GetPhotosInBounds(_ context.Context, minLat, maxLat, minLng, maxLng float64) ([]model.Photo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Photo
	for _, p := range r.photos {
		if geo.InBounds(p.Latitude, p.Longitude, minLat, maxLat, minLng, maxLng) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (r *MemoryRepository) HealthCheck(context.Context) error {
	return nil
}

func (r *MemoryRepository) CountPhotos(_ context.Context, filters model.PhotoFilters) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, p := range r.photos {
		if matches(p, filters) {
			n++
		}
	}
	return n, nil
}

func matches(p model.Photo, f model.PhotoFilters) bool {
	if f.StartDate != nil && p.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && p.Timestamp.After(*f.EndDate) {
		return false
	}
	if f.UploaderID != "" && p.UploaderID != f.UploaderID {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(p.Tags, f.Tags) {
		return false
	}
	if f.MinLat != nil && f.MaxLat != nil && (p.Latitude < *f.MinLat || p.Latitude > *f.MaxLat) {
		return false
	}
	if f.MinLng != nil && f.MaxLng != nil && (p.Longitude < *f.MinLng || p.Longitude > *f.MaxLng) {
		return false
	}
	return true
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
