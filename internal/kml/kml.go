// Package kml renders photo collections as KML 2.2 documents and the
// archive formats built on top of them.
package kml

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"photomap/internal/model"
)

const (
	xmlns       = "http://www.opengis.net/kml/2.2"
	markerStyle = "photoMarker"
	iconHref    = "http://maps.google.com/mapfiles/kml/shapes/camera.png"
)

type kmlRoot struct {
	XMLName  xml.Name `xml:"kml"`
	Xmlns    string   `xml:"xmlns,attr"`
	Document document `xml:"Document"`
}

type document struct {
	Name         string        `xml:"name"`
	Description  string        `xml:"description"`
	ExtendedData *extendedData `xml:"ExtendedData,omitempty"`
	Style        style         `xml:"Style"`
	Folders      []folder      `xml:"Folder"`
}

type style struct {
	ID           string       `xml:"id,attr"`
	IconStyle    iconStyle    `xml:"IconStyle"`
	LabelStyle   labelStyle   `xml:"LabelStyle"`
	BalloonStyle balloonStyle `xml:"BalloonStyle"`
}

type iconStyle struct {
	Scale float64 `xml:"scale"`
	Icon  icon    `xml:"Icon"`
}

type icon struct {
	Href string `xml:"href"`
}

type labelStyle struct {
	Scale float64 `xml:"scale"`
}

type balloonStyle struct {
	Text cdata `xml:"text"`
}

type cdata struct {
	Value string `xml:",cdata"`
}

type folder struct {
	Name       string      `xml:"name"`
	Placemarks []placemark `xml:"Placemark"`
}

type placemark struct {
	Name         string        `xml:"name"`
	Description  string        `xml:"description,omitempty"`
	StyleURL     string        `xml:"styleUrl"`
	ExtendedData *extendedData `xml:"ExtendedData,omitempty"`
	Point        point         `xml:"Point"`
}

type extendedData struct {
	Data []dataField `xml:"Data"`
}

type dataField struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type point struct {
	Coordinates  string `xml:"coordinates"`
	AltitudeMode string `xml:"altitudeMode,omitempty"`
}

const balloonTemplate = `<b>$[name]</b><br/>
<img src="$[photo_url]" width="300"/><br/>
$[description]<br/>
<i>$[timestamp]</i>`

// BuildKML renders the photo set as a KML document grouped into folders by
// capture date, oldest date first.
func BuildKML(photos []model.Photo, opts model.ExportOptions, title string) ([]byte, error) {
	doc := document{
		Name:        title,
		Description: fmt.Sprintf("Photo map export with %d photos", len(photos)),
		ExtendedData: &extendedData{Data: []dataField{
			{Name: "coordinate_system", Value: string(opts.CoordinateSystem)},
		}},
		Style: style{
			ID:           markerStyle,
			IconStyle:    iconStyle{Scale: 1.0, Icon: icon{Href: iconHref}},
			LabelStyle:   labelStyle{Scale: 0.8},
			BalloonStyle: balloonStyle{Text: cdata{Value: balloonTemplate}},
		},
		Folders: buildFolders(photos, opts),
	}

	out, err := xml.MarshalIndent(kmlRoot{Xmlns: xmlns, Document: doc}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal kml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func buildFolders(photos []model.Photo, opts model.ExportOptions) []folder {
	byDate := make(map[string][]model.Photo)
	for _, p := range photos {
		day := FolderDate(p.Timestamp)
		byDate[day] = append(byDate[day], p)
	}

	days := make([]string, 0, len(byDate))
	for day := range byDate {
		days = append(days, day)
	}
	sort.Strings(days)

	folders := make([]folder, 0, len(days))
	for _, day := range days {
		f := folder{Name: "Photos - " + day}
		for _, p := range byDate[day] {
			f.Placemarks = append(f.Placemarks, buildPlacemark(p, opts))
		}
		folders = append(folders, f)
	}
	return folders
}

func buildPlacemark(p model.Photo, opts model.ExportOptions) placemark {
	data := []dataField{
		{Name: "photo_url", Value: p.BlobURL},
		{Name: "timestamp", Value: p.Timestamp.UTC().Format("2006-01-02 15:04:05") + " UTC"},
		{Name: "coordinates", Value: fmt.Sprintf("%.6f, %.6f", p.Latitude, p.Longitude)},
	}
	if info := cameraInfo(p); info != "" {
		data = append(data, dataField{Name: "camera_info", Value: info})
	}
	if len(p.Tags) > 0 {
		data = append(data, dataField{Name: "tags", Value: strings.Join(p.Tags, ", ")})
	}
	if p.Description != "" {
		data = append(data, dataField{Name: "description", Value: sanitize(p.Description)})
	}

	pt := point{Coordinates: fmt.Sprintf("%.6f,%.6f", p.Longitude, p.Latitude)}
	if opts.IncludeAltitude && p.Altitude != nil {
		pt.Coordinates += fmt.Sprintf(",%.6f", *p.Altitude)
		pt.AltitudeMode = "absolute"
	}

	return placemark{
		Name:         sanitize(placemarkName(p)),
		Description:  sanitize(p.Description),
		StyleURL:     "#" + markerStyle,
		ExtendedData: &extendedData{Data: data},
		Point:        pt,
	}
}

func placemarkName(p model.Photo) string {
	if p.OriginalFilename != "" {
		return p.OriginalFilename
	}
	return p.Filename
}

func cameraInfo(p model.Photo) string {
	info := strings.TrimSpace(sanitize(p.CameraMake + " " + p.CameraModel))
	return info
}

// sanitize strips NUL and other control characters that would produce
// invalid XML. Some camera firmware pads EXIF strings with NUL bytes.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}

// FolderDate exposes the grouping key used for a photo, for callers that
// need to mirror the folder layout.
func FolderDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
