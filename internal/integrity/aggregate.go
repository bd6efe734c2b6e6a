package integrity

// Aggregate combines flag weights with a noisy-OR: score = 1 - Π(1 - wᵢ).
// Adding a flag can only raise or hold the score. No flags score 0.
func Aggregate(flags []Flag) float64 {
	if len(flags) == 0 {
		return 0
	}
	miss := 1.0
	for _, f := range flags {
		miss *= 1 - clamp01(f.Weight)
	}
	return round4(clamp01(1 - miss))
}
