package diag

// Confidence accumulates successive penalties against a starting score,
// clamped to [0,1]. Centralising the arithmetic here keeps ad hoc clamping
// out of the calculation stages.
type Confidence float64

// NewConfidence constructs a clamped confidence score.
func NewConfidence(start float64) Confidence {
	return Confidence(clamp01(start))
}

// Penalize subtracts amount and re-clamps.
func (c Confidence) Penalize(amount float64) Confidence {
	return Confidence(clamp01(float64(c) - amount))
}

// Scale multiplies by factor and re-clamps.
func (c Confidence) Scale(factor float64) Confidence {
	return Confidence(clamp01(float64(c) * factor))
}

// Value returns the clamped score.
func (c Confidence) Value() float64 {
	return clamp01(float64(c))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
