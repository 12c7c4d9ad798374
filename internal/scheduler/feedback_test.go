package scheduler

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/instrument"
)

func gradientFrame(size int, base, step float64) instrument.Frame {
	f := instrument.Frame{Width: size, Height: size, Pixels: make([]uint16, size*size)}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			f.Pixels[r*size+c] = uint16(base + step*float64(c))
		}
	}
	return f
}

func TestFeedbackIntensity_UniformFrame(t *testing.T) {
	got, err := FeedbackIntensity(gradientFrame(16, 500, 0), config.FeedbackConfig{Row1: 16, Col1: 16, Kernel: 3}, 0)
	if err != nil {
		t.Fatalf("FeedbackIntensity() error = %v", err)
	}
	if got != 0 {
		t.Errorf("FeedbackIntensity() = %v, want 0", got)
	}
}

func TestFeedbackIntensity_Gradient(t *testing.T) {
	// Columns step by 10; a 1x1 kernel leaves 8 distinct column values
	// 0..70, each repeated 8 times. Quartiles of 64 samples sit at ranks
	// 15.75 and 47.25, interpolating to 17.5 and 52.5.
	crop := config.FeedbackConfig{Row1: 8, Col1: 8, Kernel: 1}
	got, err := FeedbackIntensity(gradientFrame(8, 0, 10), crop, 0)
	if err != nil {
		t.Fatalf("FeedbackIntensity() error = %v", err)
	}
	if math.Abs(got-35) > 1e-9 {
		t.Errorf("FeedbackIntensity() = %v, want 35", got)
	}
}

func TestFeedbackIntensity_ZenithScaling(t *testing.T) {
	frame := gradientFrame(20, 100, 7)
	crop := config.FeedbackConfig{Row0: 2, Row1: 18, Col0: 2, Col1: 18, Kernel: 5}

	overhead, err := FeedbackIntensity(frame, crop, 0)
	if err != nil {
		t.Fatal(err)
	}
	slant, err := FeedbackIntensity(frame, crop, 60)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(slant-overhead*0.5) > 1e-9 {
		t.Errorf("zenith 60 gave %v, want half of %v", slant, overhead)
	}
}

func TestFeedbackIntensity_OffsetInvariant(t *testing.T) {
	crop := config.FeedbackConfig{Row1: 12, Col1: 12, Kernel: 3}
	a, _ := FeedbackIntensity(gradientFrame(12, 100, 5), crop, 30)
	b, _ := FeedbackIntensity(gradientFrame(12, 2000, 5), crop, 30)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("pedestal changed intensity: %v vs %v", a, b)
	}
}

func TestFeedbackIntensity_CropOutsideFrame(t *testing.T) {
	_, err := FeedbackIntensity(gradientFrame(8, 0, 1), config.FeedbackConfig{Row1: 16, Col1: 8, Kernel: 3}, 0)
	if !errors.Is(err, instrument.ErrExposure) {
		t.Errorf("FeedbackIntensity() error = %v, want ErrExposure", err)
	}
}

func TestBoxSmooth_ValidMode(t *testing.T) {
	m := mat.NewDense(3, 4, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
	})
	got := boxSmooth(m, 2)
	want := mat.NewDense(2, 3, []float64{
		3.5, 4.5, 5.5,
		7.5, 8.5, 9.5,
	})
	if !mat.EqualApprox(got, want, 1e-12) {
		t.Errorf("boxSmooth() = %v, want %v", mat.Formatted(got), mat.Formatted(want))
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{25, 2},
		{50, 3},
		{90, 4.6},
		{100, 5},
	}
	for _, tt := range tests {
		if got := percentile(values, tt.p); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if got := percentile([]float64{7}, 75); got != 7 {
		t.Errorf("single value percentile = %v", got)
	}
}
