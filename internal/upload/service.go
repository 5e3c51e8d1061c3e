// Package upload validates incoming photo submissions and prepares them for
// the ingestion pipeline.
package upload

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"

	"photomap/internal/apperr"
	"photomap/internal/exif"
	"photomap/internal/geo"
	"photomap/internal/model"
)

// MaxFileSize is the upload ceiling.
const MaxFileSize = 50 * 1024 * 1024

// supportedMimeTypes lists accepted content types. application/octet-stream
// is allowed because browsers send it for HEIC.
var supportedMimeTypes = map[string]bool{
	"image/jpeg":               true,
	"image/jpg":                true,
	"image/png":                true,
	"image/tiff":               true,
	"image/heic":               true,
	"image/heif":               true,
	"application/octet-stream": true,
}

type metadataExtractor interface {
	Extract(content []byte) exif.Metadata
}

// Request is one incoming photo submission. Latitude/Longitude are the
// optional manual coordinates, which take precedence over anything embedded
// in the image.
type Request struct {
	Content  []byte
	Filename string
	MimeType string

	Latitude  *float64
	Longitude *float64
	Altitude  *float64

	Tags        []string
	Description string
	UploaderID  string
}

// Service turns validated submissions into ingest payloads.
type Service struct {
	extractor metadataExtractor
	now       func() time.Time
}

func NewService(extractor metadataExtractor) *Service {
	return &Service{extractor: extractor, now: time.Now}
}

// Prepare validates the submission, hashes it, extracts metadata and
// resolves coordinates. The returned payload is ready for the pipeline
// queue.
func (s *Service) Prepare(req Request) (model.IngestPayload, error) {
	if err := s.validate(req); err != nil {
		return model.IngestPayload{}, err
	}

	sum := md5.Sum(req.Content)
	hash := hex.EncodeToString(sum[:])

	md := s.extractor.Extract(req.Content)

	lat, lng, alt, source, err := resolveCoordinates(req, md)
	if err != nil {
		return model.IngestPayload{}, err
	}
	if err := geo.ValidateCoordinates(lat, lng, alt); err != nil {
		return model.IngestPayload{}, err
	}

	ts := s.now().UTC()
	if md.DateTimeTaken != nil {
		ts = md.DateTimeTaken.UTC()
	}

	payload := model.IngestPayload{
		Content:          req.Content,
		Filename:         uniqueFilename(req.Filename, hash, s.now().UTC()),
		OriginalFilename: req.Filename,
		MimeType:         req.MimeType,
		FileSize:         int64(len(req.Content)),
		Latitude:         lat,
		Longitude:        lng,
		Altitude:         alt,
		CoordinateSource: source,
		Timestamp:        ts,
		CameraMake:       md.CameraMake,
		CameraModel:      md.CameraModel,
		CameraSettings:   md.CameraSettings,
		Tags:             req.Tags,
		Description:      req.Description,
		UploaderID:       req.UploaderID,
		HashMD5:          hash,
	}

	zlog.Logger.Info().
		Str("filename", payload.Filename).
		Str("hash", hash).
		Str("coordinate_source", string(source)).
		Msg("submission prepared")

	return payload, nil
}

func (s *Service) validate(req Request) error {
	if len(req.Content) == 0 {
		return apperr.Invalid("empty file")
	}
	if len(req.Content) > MaxFileSize {
		return apperr.Invalid("file too large: %d bytes, limit is %d", len(req.Content), MaxFileSize)
	}
	if !supportedMimeTypes[req.MimeType] {
		return apperr.Invalid("unsupported content type %q", req.MimeType)
	}

	// HEIC is verified later during conversion; the stdlib decoders do not
	// understand it.
	switch req.MimeType {
	case "image/heic", "image/heif", "application/octet-stream":
		return nil
	}
	if _, err := imaging.Decode(bytes.NewReader(req.Content)); err != nil {
		return apperr.Invalid("corrupted image: %v", err)
	}
	return nil
}

// resolveCoordinates applies the precedence rule: manual coordinates beat
// EXIF, and a submission with neither is rejected.
func resolveCoordinates(req Request, md exif.Metadata) (lat, lng float64, alt *float64, source model.CoordinateSource, err error) {
	if req.Latitude != nil && req.Longitude != nil {
		return *req.Latitude, *req.Longitude, req.Altitude, model.CoordinateSourceManual, nil
	}
	if md.HasGPS() {
		return *md.Latitude, *md.Longitude, md.Altitude, model.CoordinateSourceEXIF, nil
	}
	return 0, 0, nil, model.CoordinateSourceNone,
		apperr.Invalid("no GPS coordinates in image and no manual coordinates provided")
}

// uniqueFilename builds the stored name from the upload time and a hash
// prefix, so concurrent uploads of distinct files never collide.
func uniqueFilename(original, hash string, ts time.Time) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("photo_%s_%s%s", ts.Format("20060102_150405"), hash[:8], ext)
}
