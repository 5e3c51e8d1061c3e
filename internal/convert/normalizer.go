// Package convert normalizes uploads into web-friendly formats. HEIC/HEIF
// files become JPEG, oversized images of other formats are recompressed.
// Normalization is best effort: on failure the original bytes pass through
// and the problem is recorded on the result.
package convert

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/wb-go/wbf/zlog"
)

const (
	// recompressThreshold is the size above which non-HEIC images are
	// re-encoded instead of stored as is.
	recompressThreshold = 10 * 1024 * 1024

	// maxDimension bounds the longest side after recompression.
	maxDimension = 4000

	heicQuality       = 85
	recompressQuality = 80
)

// Result carries the normalized bytes plus what happened along the way.
type Result struct {
	Content  []byte
	MimeType string
	Filename string

	// Converted is true when the bytes differ from the input.
	Converted bool

	// Warning holds a non-fatal normalization problem. The original
	// content passed through unchanged when it is set.
	Warning string
}

// Normalizer converts uploads to the stored representation.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts HEIC/HEIF content to JPEG, preserving the EXIF block,
// and recompresses other formats above the size threshold.
func (n *Normalizer) Normalize(content []byte, mimeType, filename string) Result {
	if isHEIC(mimeType, filename) {
		return n.heicToJPEG(content, filename)
	}
	if len(content) > recompressThreshold {
		return n.recompress(content, mimeType, filename)
	}
	return Result{Content: content, MimeType: mimeType, Filename: filename}
}

func isHEIC(mimeType, filename string) bool {
	switch mimeType {
	case "image/heic", "image/heif":
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".heic" || ext == ".heif"
}

func (n *Normalizer) heicToJPEG(content []byte, filename string) Result {
	passthrough := Result{Content: content, MimeType: "image/heic", Filename: filename}

	img, err := goheif.Decode(bytes.NewReader(content))
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("filename", filename).Msg("heic decode failed, storing original")
		passthrough.Warning = fmt.Sprintf("heic decode: %v", err)
		return passthrough
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(heicQuality)); err != nil {
		zlog.Logger.Warn().Err(err).Str("filename", filename).Msg("jpeg encode failed, storing original")
		passthrough.Warning = fmt.Sprintf("jpeg encode: %v", err)
		return passthrough
	}

	out := buf.Bytes()
	if raw, err := goheif.ExtractExif(bytes.NewReader(content)); err == nil && len(raw) > 0 {
		if withExif, err := insertExif(out, raw); err == nil {
			out = withExif
		} else {
			zlog.Logger.Warn().Err(err).Str("filename", filename).Msg("exif carry-through failed")
		}
	}

	return Result{
		Content:   out,
		MimeType:  "image/jpeg",
		Filename:  replaceExt(filename, ".jpg"),
		Converted: true,
	}
}

func (n *Normalizer) recompress(content []byte, mimeType, filename string) Result {
	passthrough := Result{Content: content, MimeType: mimeType, Filename: filename}

	img, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("filename", filename).Msg("decode failed, storing original")
		passthrough.Warning = fmt.Sprintf("decode: %v", err)
		return passthrough
	}

	b := img.Bounds()
	if b.Dx() > maxDimension || b.Dy() > maxDimension {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(recompressQuality)); err != nil {
		zlog.Logger.Warn().Err(err).Str("filename", filename).Msg("jpeg encode failed, storing original")
		passthrough.Warning = fmt.Sprintf("jpeg encode: %v", err)
		return passthrough
	}

	return Result{
		Content:   buf.Bytes(),
		MimeType:  "image/jpeg",
		Filename:  replaceExt(filename, ".jpg"),
		Converted: true,
	}
}

func replaceExt(filename, ext string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}

// insertExif splices a raw EXIF payload into JPEG bytes as an APP1 segment
// right after the SOI marker.
func insertExif(jpeg, rawExif []byte) ([]byte, error) {
	if len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
		return nil, fmt.Errorf("not a jpeg stream")
	}

	payload := rawExif
	header := []byte("Exif\x00\x00")
	if !bytes.HasPrefix(payload, header) {
		payload = append(header, payload...)
	}
	if len(payload)+2 > 0xFFFF {
		return nil, fmt.Errorf("exif payload too large: %d bytes", len(payload))
	}

	out := make([]byte, 0, len(jpeg)+len(payload)+4)
	out = append(out, 0xFF, 0xD8, 0xFF, 0xE1)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)+2))
	out = append(out, payload...)
	out = append(out, jpeg[2:]...)
	return out, nil
}
