package integrity

// MaxTortuosity caps the tortuosity of paths that end where they started.
const MaxTortuosity = 1000.0

const pathEpsilon = 1e-9

// MouseFeatures summarises pointer movement for one session
type MouseFeatures struct {
	Available            bool    `json:"available"`
	SampleCount          int     `json:"sample_count"`
	DurationMs           int64   `json:"duration_ms"`
	TotalPathLength      float64 `json:"total_path_length"`
	StraightLineDistance float64 `json:"straight_line_distance"`
	PathTortuosity       float64 `json:"path_tortuosity"`
	VelocityVariance     float64 `json:"velocity_variance"` // (px/ms)^2
	IdleRatio            float64 `json:"idle_ratio"`
	SampleDensity        float64 `json:"sample_density"` // samples per second
}

// ExtractMouse computes path features from sanitized samples. Fewer than two
// samples make the channel unavailable.
func ExtractMouse(samples []MouseSample, idleDisplacementPx float64) MouseFeatures {
	if len(samples) < 2 {
		return MouseFeatures{SampleCount: len(samples)}
	}

	first, last := samples[0], samples[len(samples)-1]
	f := MouseFeatures{
		Available:            true,
		SampleCount:          len(samples),
		DurationMs:           last.TMs - first.TMs,
		StraightLineDistance: distance(first, last),
	}

	velocities := make([]float64, 0, len(samples)-1)
	var idleMs int64
	for i := 1; i < len(samples); i++ {
		seg := distance(samples[i-1], samples[i])
		dt := samples[i].TMs - samples[i-1].TMs
		f.TotalPathLength += seg

		if dt > 0 {
			velocities = append(velocities, seg/float64(dt))
		}
		if seg < idleDisplacementPx {
			idleMs += dt
		}
	}

	f.PathTortuosity = tortuosity(f.TotalPathLength, f.StraightLineDistance)
	f.VelocityVariance = variance(velocities)
	if f.DurationMs > 0 {
		f.IdleRatio = float64(idleMs) / float64(f.DurationMs)
		f.SampleDensity = float64(f.SampleCount) / (float64(f.DurationMs) / 1000)
	}

	return f
}

// tortuosity is path length over displacement, never below 1. A pointer that
// did not move at all reads as 1; a closed loop reads as MaxTortuosity.
func tortuosity(path, straight float64) float64 {
	if straight < pathEpsilon {
		if path < pathEpsilon {
			return 1
		}
		return MaxTortuosity
	}
	t := path / straight
	if t < 1 {
		return 1
	}
	if t > MaxTortuosity {
		return MaxTortuosity
	}
	return t
}
