// Package thumbnail produces the fixed thumbnail set for stored photos.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/wb-go/wbf/zlog"

	"photomap/internal/model"
)

// maxSourceSize is the cutoff above which thumbnail generation is skipped
// entirely to bound memory use.
const maxSourceSize = 10 * 1024 * 1024

const quality = 85

type dimensions struct {
	width  int
	height int
}

var sizes = map[string]dimensions{
	model.ThumbSizeSmall:  {150, 150},
	model.ThumbSizeMedium: {300, 300},
	model.ThumbSizeLarge:  {800, 600},
}

// Generator renders JPEG thumbnails in the standard sizes.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns thumbnail JPEG bytes keyed by size name. Sources above
// the size cutoff yield an empty map. A failure in one size does not stop
// the others.
func (g *Generator) Generate(content []byte) map[string][]byte {
	if len(content) > maxSourceSize {
		zlog.Logger.Info().Int("size", len(content)).Msg("source too large, skipping thumbnails")
		return map[string][]byte{}
	}

	src, err := imaging.Decode(bytes.NewReader(content), imaging.AutoOrientation(true))
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("thumbnail decode failed")
		return map[string][]byte{}
	}

	out := make(map[string][]byte, len(sizes))
	for name, dim := range sizes {
		b, err := g.render(src, dim)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("size", name).Msg("thumbnail render failed")
			continue
		}
		out[name] = b
	}
	return out
}

func (g *Generator) render(src image.Image, dim dimensions) ([]byte, error) {
	thumb := imaging.Fit(src, dim.width, dim.height, imaging.Lanczos)

	// JPEG has no alpha channel, so transparent sources are flattened
	// onto white.
	flat := imaging.New(thumb.Bounds().Dx(), thumb.Bounds().Dy(), color.White)
	flat = imaging.Overlay(flat, thumb, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
