package convert

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, color.NRGBA{200, 100, 50, 255}), imaging.JPEG))
	return buf.Bytes()
}

func TestNormalizeSmallJPEGPassthrough(t *testing.T) {
	content := encodeJPEG(t, 32, 32)

	res := NewNormalizer().Normalize(content, "image/jpeg", "trip.jpg")
	assert.False(t, res.Converted)
	assert.Empty(t, res.Warning)
	assert.Equal(t, content, res.Content)
	assert.Equal(t, "image/jpeg", res.MimeType)
	assert.Equal(t, "trip.jpg", res.Filename)
}

func TestNormalizeCorruptHEICPassthrough(t *testing.T) {
	content := []byte("definitely not heic")

	res := NewNormalizer().Normalize(content, "image/heic", "IMG_0001.heic")
	assert.False(t, res.Converted)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, content, res.Content, "original bytes must survive a failed conversion")
}

func TestNormalizeOversizedCorruptPassthrough(t *testing.T) {
	content := bytes.Repeat([]byte{0xAB}, recompressThreshold+1)

	res := NewNormalizer().Normalize(content, "image/jpeg", "huge.jpg")
	assert.False(t, res.Converted)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, len(content), len(res.Content))
}

func TestRecompressBoundsDimensions(t *testing.T) {
	content := encodeJPEG(t, maxDimension+1000, 400)

	res := NewNormalizer().recompress(content, "image/jpeg", "pano.jpeg")
	require.Empty(t, res.Warning)
	require.True(t, res.Converted)
	assert.Equal(t, "image/jpeg", res.MimeType)
	assert.Equal(t, "pano.jpg", res.Filename)

	img, err := imaging.Decode(bytes.NewReader(res.Content))
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), maxDimension)
	assert.LessOrEqual(t, img.Bounds().Dy(), maxDimension)
}

func TestIsHEIC(t *testing.T) {
	assert.True(t, isHEIC("image/heic", "a.jpg"))
	assert.True(t, isHEIC("image/heif", "a.jpg"))
	assert.True(t, isHEIC("application/octet-stream", "IMG.HEIC"))
	assert.False(t, isHEIC("image/jpeg", "a.jpg"))
}

func TestInsertExif(t *testing.T) {
	jpeg := encodeJPEG(t, 8, 8)
	raw := []byte{0x4D, 0x4D, 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08}

	out, err := insertExif(jpeg, raw)
	require.NoError(t, err)

	// SOI then APP1 with the Exif header.
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE1}, out[:4])
	segLen := int(out[4])<<8 | int(out[5])
	assert.Equal(t, len(raw)+len("Exif\x00\x00")+2, segLen)
	assert.Equal(t, []byte("Exif\x00\x00"), out[6:12])

	// The spliced stream must still decode.
	_, err = imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	_, err = insertExif([]byte{0x00, 0x01}, raw)
	assert.Error(t, err)
}
