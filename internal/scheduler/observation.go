package scheduler

import (
	"math"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// Observation is one plan entry plus the feedback carried between passes.
type Observation struct {
	Azimuth             float64
	Zenith              float64
	FilterPosition      int
	ImageTag            string
	DesiredIntensity    float64
	DefaultExposureTime float64

	// LastIntensity and LastExposureTime describe the entry's previous
	// frame; zero until it has been observed.
	LastIntensity    float64
	LastExposureTime float64

	// ExposureTime is the exposure time of the frame in progress or just
	// taken.
	ExposureTime float64
}

// NewPlan builds the plan from configuration, preserving order.
func NewPlan(entries []config.ObservationConfig) []*Observation {
	plan := make([]*Observation, len(entries))
	for i, e := range entries {
		plan[i] = &Observation{
			Azimuth:             e.Azimuth,
			Zenith:              e.Zenith,
			FilterPosition:      e.FilterPosition,
			ImageTag:            e.ImageTag,
			DesiredIntensity:    e.DesiredIntensity,
			DefaultExposureTime: e.DefaultExposureTime,
		}
	}
	return plan
}

// ExposureTime applies the exposure law to o.
//
// Without feedback (either last value zero) the default exposure time is
// used. Otherwise the next time moves halfway from the last time towards
// the one that would have hit the desired intensity, capped at
// maxExposure:
//
//	min(0.5 * last * (1 + desired/lastIntensity), maxExposure)
func ExposureTime(o *Observation, maxExposure float64) float64 {
	if o.LastIntensity == 0 || o.LastExposureTime == 0 {
		return o.DefaultExposureTime
	}
	return math.Min(0.5*o.LastExposureTime*(1+o.DesiredIntensity/o.LastIntensity), maxExposure)
}

// Feedback is the persisted feedback of one plan entry.
type Feedback struct {
	Index            int     `json:"index"`
	ImageTag         string  `json:"image_tag"`
	LastIntensity    float64 `json:"last_intensity"`
	LastExposureTime float64 `json:"last_exposure_time"`
}

// Snapshot captures the plan's feedback.
func Snapshot(plan []*Observation) []Feedback {
	out := make([]Feedback, len(plan))
	for i, o := range plan {
		out[i] = Feedback{
			Index:            i,
			ImageTag:         o.ImageTag,
			LastIntensity:    o.LastIntensity,
			LastExposureTime: o.LastExposureTime,
		}
	}
	return out
}

// Restore applies saved feedback to the plan. Entries whose index or tag no
// longer match are ignored, so an edited plan starts those entries fresh.
// Returns how many entries were restored.
func Restore(plan []*Observation, saved []Feedback) int {
	n := 0
	for _, f := range saved {
		if f.Index < 0 || f.Index >= len(plan) || plan[f.Index].ImageTag != f.ImageTag {
			continue
		}
		plan[f.Index].LastIntensity = f.LastIntensity
		plan[f.Index].LastExposureTime = f.LastExposureTime
		n++
	}
	return n
}
