package media

import "fmt"

// SamplePolicy controls how frames are sampled from a video.
type SamplePolicy struct {
	IntervalSeconds float64
	MaxFrames       int
	Format          string // "jpeg" or "png"
}

// PlanSamples returns the timestamp offsets at which frames are sampled
// for a video of the given duration: 0, interval, 2*interval, ...
// strictly below the duration, truncated deterministically at MaxFrames.
func PlanSamples(duration float64, policy SamplePolicy) []float64 {
	if duration <= 0 || policy.IntervalSeconds <= 0 || policy.MaxFrames <= 0 {
		return nil
	}

	var offsets []float64
	for k := 0; ; k++ {
		offset := float64(k) * policy.IntervalSeconds
		if offset >= duration || len(offsets) >= policy.MaxFrames {
			break
		}
		offsets = append(offsets, offset)
	}
	return offsets
}

// FrameFileName returns the artifact filename for a frame by sequence
// index, e.g. frame_000004.jpg. Zero padding keeps lexical and
// sequence order identical.
func FrameFileName(seq int, format string) string {
	return fmt.Sprintf("frame_%06d%s", seq, FormatExt(format))
}

// FormatExt maps a policy format to a file extension.
func FormatExt(format string) string {
	if format == "png" {
		return ".png"
	}
	return ".jpg"
}
