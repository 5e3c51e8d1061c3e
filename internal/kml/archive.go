package kml

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/wb-go/wbf/zlog"

	"photomap/internal/model"
)

// downloadTimeout bounds each photo fetch while building an archive.
const downloadTimeout = 30 * time.Second

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.\-_]`)

// SafeFilename replaces everything outside the archive-safe character set.
func SafeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// Archiver builds KMZ and ZIP exports. Photo bytes are fetched over HTTP;
// a photo that cannot be fetched is skipped, never failing the whole
// archive.
type Archiver struct {
	fetch func(ctx context.Context, url string) ([]byte, error)
}

func NewArchiver() *Archiver {
	client := &http.Client{Timeout: downloadTimeout}
	return &Archiver{
		fetch: func(ctx context.Context, url string) ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("unexpected status %s", resp.Status)
			}
			return io.ReadAll(resp.Body)
		},
	}
}

type fetched struct {
	name    string
	content []byte
}

// WriteKMZ writes a KMZ archive: doc.kml plus the photo files under files/.
// Placemark photo links are rewritten to the archived copies. progress is
// called after each photo and may be nil.
func (a *Archiver) WriteKMZ(ctx context.Context, w io.Writer, photos []model.Photo, opts model.ExportOptions, title string, progress func(done int)) error {
	var files []fetched
	rewritten := make([]model.Photo, len(photos))
	copy(rewritten, photos)

	for i, p := range photos {
		if opts.IncludePhotos {
			name := SafeFilename(p.Filename)
			content, err := a.fetchOne(ctx, p.BlobURL)
			if err != nil {
				zlog.Logger.Warn().Err(err).Str("photo_id", p.ID).Msg("photo fetch failed, skipping in archive")
			} else {
				files = append(files, fetched{name: "files/" + name, content: content})
				rewritten[i].BlobURL = "files/" + name
			}

			if opts.IncludeThumbnails {
				if thumbURL, ok := p.ThumbnailURLs[model.ThumbSizeSmall]; ok {
					if tb, err := a.fetchOne(ctx, thumbURL); err == nil {
						files = append(files, fetched{name: "files/" + thumbName(name), content: tb})
					}
				}
			}
		}
		report(progress, i+1)
	}

	doc, err := BuildKML(rewritten, opts, title)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	if err := writeZipFile(zw, "doc.kml", doc); err != nil {
		return err
	}
	for _, f := range files {
		if err := writeZipFile(zw, f.name, f.content); err != nil {
			return err
		}
	}
	return zw.Close()
}

// WriteZIP writes a plain ZIP with photos.kml at the root and, when
// requested, the photo files under photos/.
func (a *Archiver) WriteZIP(ctx context.Context, w io.Writer, photos []model.Photo, opts model.ExportOptions, title string, progress func(done int)) error {
	doc, err := BuildKML(photos, opts, title)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	if err := writeZipFile(zw, "photos.kml", doc); err != nil {
		return err
	}
	if opts.IncludePhotos {
		if err := a.addPhotoFiles(ctx, zw, photos, "photos/", progress); err != nil {
			return err
		}
	} else {
		report(progress, len(photos))
	}
	return zw.Close()
}

// WritePhotosOnly writes a ZIP containing just the photo files.
func (a *Archiver) WritePhotosOnly(ctx context.Context, w io.Writer, photos []model.Photo, progress func(done int)) error {
	zw := zip.NewWriter(w)
	if err := a.addPhotoFiles(ctx, zw, photos, "", progress); err != nil {
		return err
	}
	return zw.Close()
}

func (a *Archiver) addPhotoFiles(ctx context.Context, zw *zip.Writer, photos []model.Photo, prefix string, progress func(done int)) error {
	for i, p := range photos {
		content, err := a.fetchOne(ctx, p.BlobURL)
		if err != nil {
			zlog.Logger.Warn().Err(err).Str("photo_id", p.ID).Msg("photo fetch failed, skipping in archive")
			report(progress, i+1)
			continue
		}
		if err := writeZipFile(zw, prefix+SafeFilename(p.Filename), content); err != nil {
			return err
		}
		report(progress, i+1)
	}
	return nil
}

func (a *Archiver) fetchOne(ctx context.Context, url string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()
	return a.fetch(fetchCtx, url)
}

func writeZipFile(zw *zip.Writer, name string, content []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s in archive: %w", name, err)
	}
	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("write %s to archive: %w", name, err)
	}
	return nil
}

func thumbName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_thumb" + ext
}

func report(progress func(int), done int) {
	if progress != nil {
		progress(done)
	}
}
