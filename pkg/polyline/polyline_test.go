package polyline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_GoogleReference(t *testing.T) {
	tests := []struct {
		name     string
		encoded  string
		expected []Coordinate
	}{
		{
			name:     "single point",
			encoded:  "_p~iF~ps|U",
			expected: []Coordinate{{Lat: 38.5, Lon: -120.2}},
		},
		{
			name:    "three points",
			encoded: "_p~iF~ps|U_ulLnnqC_mqNvxq`@",
			expected: []Coordinate{
				{Lat: 38.5, Lon: -120.2},
				{Lat: 40.7, Lon: -120.95},
				{Lat: 43.252, Lon: -126.453},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.encoded)
			require.NoError(t, err)
			require.Len(t, got, len(tt.expected))
			for i := range got {
				assert.InDelta(t, tt.expected[i].Lat, got[i].Lat, 1e-9)
				assert.InDelta(t, tt.expected[i].Lon, got[i].Lon, 1e-9)
			}
		})
	}
}

func TestEncode_GoogleReference(t *testing.T) {
	coords := []Coordinate{
		{Lat: 38.5, Lon: -120.2},
		{Lat: 40.7, Lon: -120.95},
		{Lat: 43.252, Lon: -126.453},
	}
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC_mqNvxq`@", Encode(coords))
}

func TestRoundTrip_Precision6(t *testing.T) {
	coords := []Coordinate{
		{Lat: 31.000001, Lon: 35.000002},
		{Lat: 31.01, Lon: 35.0},
		{Lat: -33.868812, Lon: 151.209301},
	}

	encoded := EncodePrecision(coords, Precision6)
	got, err := DecodePrecision(encoded, Precision6)
	require.NoError(t, err)
	require.Len(t, got, len(coords))
	for i := range coords {
		assert.InDelta(t, coords[i].Lat, got[i].Lat, 1e-6)
		assert.InDelta(t, coords[i].Lon, got[i].Lon, 1e-6)
	}
}

func TestEmpty(t *testing.T) {
	assert.Equal(t, "", Encode(nil))

	got, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecode_Truncated(t *testing.T) {
	// Latitude only.
	_, err := Decode("_p~iF")
	assert.ErrorIs(t, err, ErrTruncated)

	// Continuation bit set on the last byte.
	_, err = Decode("_p~iF~ps|")
	assert.ErrorIs(t, err, ErrTruncated)
}
