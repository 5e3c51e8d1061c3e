// Package storage defines the blob path layout shared by the storage
// backends. Photos land under uploads/YYYY/MM/ and their thumbnails in a
// thumbnails/ subdirectory next to them.
package storage

import (
	"path"
	"strings"
	"time"
)

const uploadsPrefix = "uploads"

// BlobPath places a photo by its upload month.
func BlobPath(ts time.Time, filename string) string {
	return path.Join(uploadsPrefix, ts.Format("2006"), ts.Format("01"), filename)
}

// ThumbnailPath derives the thumbnail object path for a stored photo.
// Thumbnails are always JPEG regardless of the source format.
func ThumbnailPath(blobPath, size string) string {
	dir, name := path.Split(blobPath)
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return path.Join(dir, "thumbnails", size+"_"+base+".jpg")
}

// IsThumbnail reports whether an object path points into a thumbnails
// directory.
func IsThumbnail(objectPath string) bool {
	return strings.Contains(objectPath, "/thumbnails/")
}
