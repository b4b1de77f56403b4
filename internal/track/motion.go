package track

// WalkingSpeedLimit is the speed in m/s at and above which motion counts as vehicular.
const WalkingSpeedLimit = 2.0

// Classify labels a reported speed in meters per second.
func Classify(speed *float64) Motion {
	switch {
	case speed == nil:
		return MotionUnknown
	case *speed < WalkingSpeedLimit:
		return MotionWalk
	default:
		return MotionVehicle
	}
}
