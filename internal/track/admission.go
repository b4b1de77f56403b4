package track

// DefaultAdmissionThresholdKm is the minimum distance (3 m) a candidate must
// move away from the last recorded point to be recorded itself.
const DefaultAdmissionThresholdKm = 0.003

// AdmissionPolicy decides whether a smoothed candidate gets recorded.
type AdmissionPolicy struct {
	ThresholdKm float64
}

// DefaultAdmissionPolicy returns the policy with the default threshold.
func DefaultAdmissionPolicy() AdmissionPolicy {
	return AdmissionPolicy{ThresholdKm: DefaultAdmissionThresholdKm}
}

// ShouldAdmit reports whether candidate should be appended after last, the
// last accepted point of the current segment. The first point of a segment
// (last == nil) is always admitted.
func (p AdmissionPolicy) ShouldAdmit(candidate Point, last *Point) bool {
	if last == nil {
		return true
	}
	return Distance(*last, candidate) >= p.ThresholdKm
}
