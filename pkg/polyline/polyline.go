// Package polyline implements the encoded polyline format used by web map
// layers to draw tracks.
// See https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"math"
)

// Precision is the number of decimal places kept per coordinate.
type Precision int

const (
	// Precision5 is the classic Google format.
	Precision5 Precision = 5
	// Precision6 is the polyline6 variant used by OSRM and Mapbox.
	Precision6 Precision = 6
)

// ErrTruncated is returned when the encoded string ends mid-value or
// holds an odd number of values.
var ErrTruncated = errors.New("polyline: truncated input")

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

func (p Precision) factor() float64 {
	if p <= 0 {
		p = Precision5
	}
	return math.Pow10(int(p))
}

// Encode encodes coords with Precision5.
func Encode(coords []Coordinate) string {
	return EncodePrecision(coords, Precision5)
}

// EncodePrecision encodes coords keeping p decimal places.
func EncodePrecision(coords []Coordinate, p Precision) string {
	if len(coords) == 0 {
		return ""
	}

	f := p.factor()
	buf := make([]byte, 0, len(coords)*8)
	var prevLat, prevLon int64

	for _, c := range coords {
		lat := int64(math.Round(c.Lat * f))
		lon := int64(math.Round(c.Lon * f))

		buf = appendValue(buf, lat-prevLat)
		buf = appendValue(buf, lon-prevLon)

		prevLat, prevLon = lat, lon
	}

	return string(buf)
}

// Decode decodes a Precision5 string.
func Decode(encoded string) ([]Coordinate, error) {
	return DecodePrecision(encoded, Precision5)
}

// DecodePrecision decodes a string produced with p decimal places.
func DecodePrecision(encoded string, p Precision) ([]Coordinate, error) {
	if encoded == "" {
		return nil, nil
	}

	f := p.factor()
	var (
		coords   []Coordinate
		lat, lon int64
		idx      int
	)

	for idx < len(encoded) {
		dLat, next, ok := readValue(encoded, idx)
		if !ok {
			return nil, ErrTruncated
		}
		dLon, next, ok := readValue(encoded, next)
		if !ok {
			return nil, ErrTruncated
		}
		idx = next

		lat += dLat
		lon += dLon
		coords = append(coords, Coordinate{Lat: float64(lat) / f, Lon: float64(lon) / f})
	}

	return coords, nil
}

// appendValue writes one zig-zag encoded value in 5-bit chunks.
func appendValue(buf []byte, v int64) []byte {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		buf = append(buf, byte(0x20|(u&0x1f))+63)
		u >>= 5
	}
	return append(buf, byte(u)+63)
}

// readValue reads one value starting at idx. ok is false when the input
// ends before the terminating chunk.
func readValue(s string, idx int) (v int64, next int, ok bool) {
	var (
		result uint64
		shift  uint
	)
	for idx < len(s) {
		b := uint64(s[idx]) - 63
		idx++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^int64(result >> 1), idx, true
			}
			return int64(result >> 1), idx, true
		}
	}
	return 0, idx, false
}
