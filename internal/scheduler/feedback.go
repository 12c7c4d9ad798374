package scheduler

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
)

// FeedbackIntensity reduces a science frame to the scalar the exposure law
// consumes: the frame is cropped to rows [i1,i2) and columns [j1,j2),
// smoothed with an N x N box (only positions where the box fits), and the
// interquartile spread of the result is scaled by cos(zenith).
//
// Percentiles interpolate linearly between closest ranks.
func FeedbackIntensity(frame instrument.Frame, crop config.FeedbackConfig, zenith float64) (float64, error) {
	if err := frame.Validate(); err != nil {
		return 0, err
	}
	if crop.Row0 < 0 || crop.Col0 < 0 || crop.Row1 > frame.Height || crop.Col1 > frame.Width ||
		crop.Row1-crop.Row0 < crop.Kernel || crop.Col1-crop.Col0 < crop.Kernel || crop.Kernel < 1 {
		return 0, fmt.Errorf("%w: feedback crop [%d:%d, %d:%d] kernel %d does not fit %dx%d frame",
			instrument.ErrExposure, crop.Row0, crop.Row1, crop.Col0, crop.Col1, crop.Kernel, frame.Height, frame.Width)
	}

	data := make([]float64, len(frame.Pixels))
	for i, v := range frame.Pixels {
		data[i] = float64(v)
	}
	image := mat.NewDense(frame.Height, frame.Width, data)
	region := image.Slice(crop.Row0, crop.Row1, crop.Col0, crop.Col1)

	smoothed := boxSmooth(region, crop.Kernel)
	values := append([]float64(nil), smoothed.RawMatrix().Data...)
	sort.Float64s(values)

	spread := percentile(values, 75) - percentile(values, 25)
	return spread * math.Cos(zenith*math.Pi/180), nil
}

// boxSmooth returns the mean of every n x n window that lies fully inside
// m, via a summed-area table.
func boxSmooth(m mat.Matrix, n int) *mat.Dense {
	rows, cols := m.Dims()
	sat := mat.NewDense(rows+1, cols+1, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			sat.Set(i+1, j+1, m.At(i, j)+sat.At(i, j+1)+sat.At(i+1, j)-sat.At(i, j))
		}
	}

	out := mat.NewDense(rows-n+1, cols-n+1, nil)
	area := float64(n * n)
	for i := 0; i+n <= rows; i++ {
		for j := 0; j+n <= cols; j++ {
			sum := sat.At(i+n, j+n) - sat.At(i, j+n) - sat.At(i+n, j) + sat.At(i, j)
			out.Set(i, j, sum/area)
		}
	}
	return out
}

// percentile of sorted values, interpolating between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
