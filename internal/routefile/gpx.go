package routefile

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/trackrec/trackrec/internal/track"
)

const (
	gpxVersion   = "1.1"
	gpxCreator   = "trackrec"
	gpxNamespace = "http://www.topografix.com/GPX/1/1"
)

type gpxFile struct {
	XMLName  xml.Name    `xml:"gpx"`
	Version  string      `xml:"version,attr"`
	Creator  string      `xml:"creator,attr"`
	XMLNS    string      `xml:"xmlns,attr"`
	Metadata gpxMetadata `xml:"metadata"`
	Tracks   []gpxTrack  `xml:"trk"`
}

type gpxMetadata struct {
	Name string `xml:"name,omitempty"`
	Time string `xml:"time,omitempty"`
}

type gpxTrack struct {
	Name     string       `xml:"name,omitempty"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat       float64  `xml:"lat,attr"`
	Lon       float64  `xml:"lon,attr"`
	Elevation *float64 `xml:"ele,omitempty"`
	Time      string   `xml:"time,omitempty"`
	Type      string   `xml:"type,omitempty"`
}

// MarshalGPX encodes the route as a GPX 1.1 document with one track and one
// trkseg per segment. Empty segments are skipped.
func MarshalGPX(r *track.Route) ([]byte, error) {
	doc := gpxFile{
		Version: gpxVersion,
		Creator: gpxCreator,
		XMLNS:   gpxNamespace,
		Metadata: gpxMetadata{
			Name: r.Name,
		},
	}
	if start := r.Start(); start != nil && !start.Time.IsZero() {
		doc.Metadata.Time = start.Time.UTC().Format(time.RFC3339)
	}

	trk := gpxTrack{Name: r.Name}
	for _, seg := range r.Segments {
		if len(seg) == 0 {
			continue
		}
		gs := gpxSegment{Points: make([]gpxPoint, 0, len(seg))}
		for _, p := range seg {
			gp := gpxPoint{
				Lat:       p.Lat,
				Lon:       p.Lon,
				Elevation: p.Altitude,
				Type:      string(p.Motion),
			}
			if !p.Time.IsZero() {
				gp.Time = p.Time.UTC().Format(time.RFC3339)
			}
			gs.Points = append(gs.Points, gp)
		}
		trk.Segments = append(trk.Segments, gs)
	}
	doc.Tracks = []gpxTrack{trk}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding gpx: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
