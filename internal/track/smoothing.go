package track

// SmoothingWindow is the number of recent raw fixes averaged together.
const SmoothingWindow = 3

type coord struct {
	lat, lon float64
}

// Smoother averages the most recent raw coordinates to damp GPS jitter.
// It is not safe for concurrent use; the session manager owns it.
type Smoother struct {
	buf []coord
}

// NewSmoother creates an empty smoother.
func NewSmoother() *Smoother {
	return &Smoother{buf: make([]coord, 0, SmoothingWindow)}
}

// Smooth records a raw coordinate and returns the mean of the buffered ones.
// Until the window fills up the mean covers only what has arrived.
func (s *Smoother) Smooth(lat, lon float64) (float64, float64) {
	if len(s.buf) == SmoothingWindow {
		copy(s.buf, s.buf[1:])
		s.buf = s.buf[:SmoothingWindow-1]
	}
	s.buf = append(s.buf, coord{lat: lat, lon: lon})

	var sumLat, sumLon float64
	for _, c := range s.buf {
		sumLat += c.lat
		sumLon += c.lon
	}
	n := float64(len(s.buf))
	return sumLat / n, sumLon / n
}

// Len returns how many samples are buffered.
func (s *Smoother) Len() int {
	return len(s.buf)
}

// Reset empties the buffer.
func (s *Smoother) Reset() {
	s.buf = s.buf[:0]
}
