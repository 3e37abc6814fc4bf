package derive

const (
	VelocityAccelerating = "accelerating"
	VelocityRising       = "rising"
	VelocityFalling      = "falling"
	VelocityStable       = "stable"
)

type OIVelocity struct {
	Value     float64
	Label     string
	Direction int
}

// Velocity buckets the open-interest rate of change over a window.
func Velocity(current, oldest float64) OIVelocity {
	if oldest <= 0 {
		return OIVelocity{Label: VelocityStable}
	}
	v := (current - oldest) / oldest * 100
	out := OIVelocity{Value: v}
	switch {
	case v > 0:
		out.Direction = 1
	case v < 0:
		out.Direction = -1
	}
	abs := v
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs > 1:
		out.Label = VelocityAccelerating
	case abs > 0.3:
		if v > 0 {
			out.Label = VelocityRising
		} else {
			out.Label = VelocityFalling
		}
	default:
		out.Label = VelocityStable
	}
	return out
}
