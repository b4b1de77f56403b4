package track_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackrec/trackrec/internal/track"
)

func TestSmoother_MeanOfAtMostThree(t *testing.T) {
	s := track.NewSmoother()

	lat, lon := s.Smooth(1, 10)
	assert.Equal(t, 1.0, lat)
	assert.Equal(t, 10.0, lon)

	lat, lon = s.Smooth(3, 20)
	assert.InDelta(t, 2.0, lat, 1e-12)
	assert.InDelta(t, 15.0, lon, 1e-12)

	lat, lon = s.Smooth(5, 30)
	assert.InDelta(t, 3.0, lat, 1e-12)
	assert.InDelta(t, 20.0, lon, 1e-12)

	// Oldest sample (1, 10) is evicted.
	lat, lon = s.Smooth(7, 40)
	assert.InDelta(t, 5.0, lat, 1e-12)
	assert.InDelta(t, 30.0, lon, 1e-12)
	assert.Equal(t, track.SmoothingWindow, s.Len())
}

func TestSmoother_NeverExceedsCapacity(t *testing.T) {
	s := track.NewSmoother()
	inputs := []float64{4, 8, 15, 16, 23, 42, 7, 3}

	for i, v := range inputs {
		lat, _ := s.Smooth(v, 0)
		require.LessOrEqual(t, s.Len(), track.SmoothingWindow)

		from := i - track.SmoothingWindow + 1
		if from < 0 {
			from = 0
		}
		var sum float64
		for _, w := range inputs[from : i+1] {
			sum += w
		}
		assert.InDelta(t, sum/float64(i+1-from), lat, 1e-9)
	}
}

func TestSmoother_Reset(t *testing.T) {
	s := track.NewSmoother()
	s.Smooth(1, 1)
	s.Smooth(2, 2)
	s.Reset()

	assert.Equal(t, 0, s.Len())
	lat, lon := s.Smooth(9, 9)
	assert.Equal(t, 9.0, lat)
	assert.Equal(t, 9.0, lon)
}

func TestDistance_SymmetryAndIdentity(t *testing.T) {
	points := []track.Point{
		{Lat: 31.0, Lon: 35.0},
		{Lat: 31.01, Lon: 35.0},
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 52.3676, Lon: 4.9041},
		{Lat: 0, Lon: 179.9999},
	}

	for _, a := range points {
		assert.Equal(t, 0.0, track.Distance(a, a))
		for _, b := range points {
			assert.InDelta(t, track.Distance(a, b), track.Distance(b, a), 1e-9)
			assert.GreaterOrEqual(t, track.Distance(a, b), 0.0)
		}
	}
}

func TestDistance_KnownValue(t *testing.T) {
	// 0.01 degree of latitude is ~1.112 km.
	d := track.Distance(track.Point{Lat: 31.0, Lon: 35.0}, track.Point{Lat: 31.01, Lon: 35.0})
	assert.InDelta(t, 1.112, d, 0.001)
}

func TestPathLength(t *testing.T) {
	assert.Equal(t, 0.0, track.PathLength(nil))
	assert.Equal(t, 0.0, track.PathLength([]track.Point{{Lat: 1, Lon: 1}}))

	a := track.Point{Lat: 31.0, Lon: 35.0}
	b := track.Point{Lat: 31.01, Lon: 35.0}
	c := track.Point{Lat: 31.02, Lon: 35.0}
	assert.InDelta(t, track.Distance(a, b)+track.Distance(b, c), track.PathLength([]track.Point{a, b, c}), 1e-12)
}

func TestRouteDistance_DoesNotBridgeSegments(t *testing.T) {
	route := &track.Route{
		Segments: []track.Segment{
			{{Lat: 31.0, Lon: 35.0}, {Lat: 31.01, Lon: 35.0}},
			{{Lat: 40.0, Lon: 10.0}},
			{},
		},
	}

	expected := track.Distance(route.Segments[0][0], route.Segments[0][1])
	assert.InDelta(t, expected, track.RouteDistance(route), 1e-12)
	assert.Equal(t, 0.0, track.RouteDistance(nil))
}

func TestAdmissionPolicy(t *testing.T) {
	policy := track.DefaultAdmissionPolicy()
	first := track.Point{Lat: 31.0, Lon: 35.0}

	assert.True(t, policy.ShouldAdmit(first, nil), "first point is always admitted")
	assert.False(t, policy.ShouldAdmit(track.Point{Lat: 31.0, Lon: 35.00001}, &first))
	assert.True(t, policy.ShouldAdmit(track.Point{Lat: 31.01, Lon: 35.0}, &first))
}

func TestAdmissionPolicy_ThresholdIsInclusive(t *testing.T) {
	a := track.Point{Lat: 31.0, Lon: 35.0}
	b := track.Point{Lat: 31.0001, Lon: 35.0}
	policy := track.AdmissionPolicy{ThresholdKm: track.Distance(a, b)}

	assert.True(t, policy.ShouldAdmit(b, &a))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		speed *float64
		want  track.Motion
	}{
		{name: "unknown speed", speed: nil, want: track.MotionUnknown},
		{name: "standing still", speed: track.Float(0), want: track.MotionWalk},
		{name: "walking", speed: track.Float(1.5), want: track.MotionWalk},
		{name: "boundary", speed: track.Float(2.0), want: track.MotionVehicle},
		{name: "driving", speed: track.Float(10), want: track.MotionVehicle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, track.Classify(tt.speed))
		})
	}
}

func TestRoute_StartFinishAndCount(t *testing.T) {
	route := &track.Route{
		Segments: []track.Segment{
			{},
			{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}},
			{{Lat: 3, Lon: 3}},
			{},
		},
	}

	require.NotNil(t, route.Start())
	assert.Equal(t, 1.0, route.Start().Lat)
	require.NotNil(t, route.Finish())
	assert.Equal(t, 3.0, route.Finish().Lat)
	assert.Equal(t, 3, route.PointCount())

	empty := &track.Route{Segments: []track.Segment{{}}}
	assert.Nil(t, empty.Start())
	assert.Nil(t, empty.Finish())
}

func TestRoute_CloneIsDeep(t *testing.T) {
	route := &track.Route{
		Name:     "walk",
		Distance: track.Float(1.5),
		Segments: []track.Segment{{{Lat: 1, Lon: 1, Altitude: track.Float(10)}}},
	}

	clone := route.Clone()
	clone.Segments[0][0].Lat = 99
	*clone.Segments[0][0].Altitude = 99
	*clone.Distance = 99

	assert.Equal(t, 1.0, route.Segments[0][0].Lat)
	assert.Equal(t, 10.0, *route.Segments[0][0].Altitude)
	assert.Equal(t, 1.5, *route.Distance)
}

func TestTimer(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	timer := track.NewTimer(func() time.Time { return now })

	assert.Equal(t, time.Duration(0), timer.Elapsed(), "zero before first start")

	timer.Start()
	now = now.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, timer.Elapsed())
	assert.True(t, timer.Running())

	timer.Stop()
	now = now.Add(time.Hour)
	assert.Equal(t, 90*time.Second, timer.Elapsed(), "frozen after stop")

	timer.Start()
	now = now.Add(5 * time.Second)
	assert.Equal(t, 5*time.Second, timer.Elapsed(), "restart captures a new start instant")

	timer.Reset()
	assert.Equal(t, time.Duration(0), timer.Elapsed())
	assert.False(t, timer.Running())

	timer.Restore(42 * time.Minute)
	assert.Equal(t, 42*time.Minute, timer.Elapsed())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", track.FormatDuration(0))
	assert.Equal(t, "01:02:03", track.FormatDuration(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "00:00:59", track.FormatDuration(59*time.Second+900*time.Millisecond))
	assert.Equal(t, "01:00:00", track.FormatDuration(25*time.Hour), "wraps past a day")
	assert.Equal(t, "00:00:00", track.FormatDuration(-time.Second))
}

func TestParseDuration(t *testing.T) {
	d, err := track.ParseDuration("01:02:03")
	require.NoError(t, err)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second, d)

	_, err = track.ParseDuration("t")
	assert.ErrorIs(t, err, track.ErrInvalidDuration)

	_, err = track.ParseDuration("00:61:00")
	assert.ErrorIs(t, err, track.ErrInvalidDuration)
}

func TestSeries(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	route := &track.Route{
		Segments: []track.Segment{
			{
				{Lat: 31.0, Lon: 35.0, Time: start, Motion: track.MotionWalk},
				{Lat: 31.01, Lon: 35.0, Time: start.Add(time.Minute), Motion: track.MotionWalk,
					Enrichment: track.Enrichment{
						Status:  track.EnrichmentAvailable,
						Payload: json.RawMessage(`{"temp":21,"wind":12,"dir":"N"}`),
					}},
			},
			{
				{Lat: 40.0, Lon: 10.0, Time: start.Add(time.Hour)},
			},
		},
	}

	series := track.Series(route)
	require.Len(t, series, 3)

	assert.Equal(t, int64(0), series[0].Seconds)
	assert.Equal(t, int64(60), series[1].Seconds)
	assert.InDelta(t, 1.11, series[1].DistanceKm, 0.001)
	require.NotNil(t, series[1].Temperature)
	assert.Equal(t, 21.0, *series[1].Temperature)
	assert.Equal(t, int64(3600), series[2].Seconds)
	assert.InDelta(t, 1.11, series[2].DistanceKm, 0.001, "no distance across the segment gap")

	assert.Nil(t, track.Series(&track.Route{}))
}
