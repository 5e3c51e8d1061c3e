// Package exif reads camera and GPS metadata from image bytes. Two
// independent tag readers are used: the primary pass handles the common
// JPEG/TIFF cases, and a secondary reader is consulted only to backfill GPS
// coordinates the primary pass missed. Primary data always wins.
package exif

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	exifv3 "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/wb-go/wbf/zlog"

	"photomap/internal/geo"
)

// Metadata is what an extraction pass produced. Nil coordinate pointers mean
// the pass found no GPS data.
type Metadata struct {
	Latitude  *float64
	Longitude *float64
	Altitude  *float64

	CameraMake     string
	CameraModel    string
	CameraSettings map[string]string
	DateTimeTaken  *time.Time
}

// HasGPS reports whether both coordinates were found.
func (m Metadata) HasGPS() bool {
	return m.Latitude != nil && m.Longitude != nil
}

type pass func(content []byte) (Metadata, error)

// Extractor merges the two extraction passes.
type Extractor struct {
	primary   pass
	secondary pass
}

// NewExtractor returns an extractor with the default readers.
func NewExtractor() *Extractor {
	return &Extractor{
		primary:   goexifPass,
		secondary: gpsBackfillPass,
	}
}

// Extract runs the primary pass, then the secondary pass if GPS data is
// still missing. Extraction never fails: images without metadata yield an
// empty result.
func (e *Extractor) Extract(content []byte) Metadata {
	md, err := e.primary(content)
	if err != nil {
		zlog.Logger.Debug().Err(err).Msg("primary exif pass found no metadata")
		md = Metadata{}
	}
	if md.HasGPS() {
		return md
	}

	sec, err := e.secondary(content)
	if err != nil {
		zlog.Logger.Debug().Err(err).Msg("secondary exif pass found no metadata")
		return md
	}
	if md.Latitude == nil && sec.Latitude != nil {
		md.Latitude = sec.Latitude
		md.Longitude = sec.Longitude
		if md.Altitude == nil {
			md.Altitude = sec.Altitude
		}
	}
	return md
}

// goexifPass reads the standard EXIF and GPS IFDs.
func goexifPass(content []byte) (Metadata, error) {
	x, err := exif.Decode(bytes.NewReader(content))
	if err != nil {
		return Metadata{}, fmt.Errorf("decode exif: %w", err)
	}

	md := Metadata{
		CameraMake:     tagString(x, exif.Make),
		CameraModel:    tagString(x, exif.Model),
		CameraSettings: cameraSettings(x),
	}

	if dt, err := x.DateTime(); err == nil {
		md.DateTimeTaken = &dt
	}

	md.Latitude, md.Longitude = gpsCoordinates(x)
	md.Altitude = gpsAltitude(x)

	return md, nil
}

// gpsCoordinates converts the DMS rational triples to decimal degrees.
func gpsCoordinates(x *exif.Exif) (lat, lng *float64) {
	latDMS, err := tagRats(x, exif.GPSLatitude, 3)
	if err != nil {
		return nil, nil
	}
	lngDMS, err := tagRats(x, exif.GPSLongitude, 3)
	if err != nil {
		return nil, nil
	}
	latRef := tagString(x, exif.GPSLatitudeRef)
	lngRef := tagString(x, exif.GPSLongitudeRef)

	la := geo.DMSToDecimal(latDMS[0], latDMS[1], latDMS[2], latRef)
	ln := geo.DMSToDecimal(lngDMS[0], lngDMS[1], lngDMS[2], lngRef)
	return &la, &ln
}

// gpsAltitude reads the altitude rational; ref value 1 means below sea level.
func gpsAltitude(x *exif.Exif) *float64 {
	vals, err := tagRats(x, exif.GPSAltitude, 1)
	if err != nil {
		return nil
	}
	alt := vals[0]
	if tag, err := x.Get(exif.GPSAltitudeRef); err == nil {
		if ref, err := tag.Int(0); err == nil && ref == 1 {
			alt = -alt
		}
	}
	return &alt
}

func cameraSettings(x *exif.Exif) map[string]string {
	settings := make(map[string]string)

	if vals, err := tagRats(x, exif.FNumber, 1); err == nil {
		settings["f_number"] = strconv.FormatFloat(vals[0], 'f', -1, 64)
	}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			settings["exposure_time"] = fmt.Sprintf("%d/%d", num, den)
		}
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if iso, err := tag.Int(0); err == nil {
			settings["iso"] = strconv.Itoa(iso)
		}
	}
	if vals, err := tagRats(x, exif.FocalLength, 1); err == nil {
		settings["focal_length"] = strconv.FormatFloat(vals[0], 'f', -1, 64)
	}
	if tag, err := x.Get(exif.Flash); err == nil {
		if flash, err := tag.Int(0); err == nil {
			settings["flash"] = strconv.Itoa(flash)
		}
	}
	if tag, err := x.Get(exif.WhiteBalance); err == nil {
		if wb, err := tag.Int(0); err == nil {
			settings["white_balance"] = strconv.Itoa(wb)
		}
	}

	if len(settings) == 0 {
		return nil
	}
	return settings
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

func tagRats(x *exif.Exif, name exif.FieldName, n int) ([]float64, error) {
	tag, err := x.Get(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return nil, err
		}
		if den == 0 {
			return nil, fmt.Errorf("zero denominator in %s[%d]", name, i)
		}
		out[i] = float64(num) / float64(den)
	}
	return out, nil
}

// gpsBackfillPass extracts GPS data with a second, structurally different
// tag reader. Some phone firmwares write GPS IFDs the primary reader trips
// over.
func gpsBackfillPass(content []byte) (Metadata, error) {
	rawExif, err := exifv3.SearchAndExtractExif(content)
	if err != nil {
		return Metadata{}, fmt.Errorf("search exif: %w", err)
	}

	im, err := exifcommon.NewIfdMappingWithStandard()
	if err != nil {
		return Metadata{}, fmt.Errorf("ifd mapping: %w", err)
	}
	ti := exifv3.NewTagIndex()

	_, index, err := exifv3.Collect(im, ti, rawExif)
	if err != nil {
		return Metadata{}, fmt.Errorf("collect ifds: %w", err)
	}

	ifd, err := index.RootIfd.ChildWithIfdPath(exifcommon.IfdGpsInfoStandardIfdIdentity)
	if err != nil {
		return Metadata{}, fmt.Errorf("gps ifd: %w", err)
	}

	gi, err := ifd.GpsInfo()
	if err != nil {
		return Metadata{}, fmt.Errorf("gps info: %w", err)
	}

	lat := gi.Latitude.Decimal()
	lng := gi.Longitude.Decimal()
	alt := float64(gi.Altitude)

	md := Metadata{Latitude: &lat, Longitude: &lng}
	if gi.Altitude != 0 {
		md.Altitude = &alt
	}
	if !gi.Timestamp.IsZero() {
		ts := gi.Timestamp
		md.DateTimeTaken = &ts
	}
	return md, nil
}
