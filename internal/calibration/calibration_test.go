package calibration

import (
	"testing"
	"time"

	"github.com/nerrad567/nightscan/internal/runstate"
)

func TestShouldCalibrate(t *testing.T) {
	last := time.Date(2026, 10, 15, 19, 0, 0, 0, time.UTC)
	interval := 2 * time.Hour

	tests := []struct {
		name     string
		now      time.Time
		interval time.Duration
		want     bool
	}{
		{"just after", last.Add(time.Minute), interval, false},
		{"exactly the interval is not enough", last.Add(interval), interval, false},
		{"strictly more than the interval", last.Add(interval + time.Nanosecond), interval, true},
		{"long overdue", last.Add(5 * time.Hour), interval, true},
		{"disabled", last.Add(24 * time.Hour), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &runstate.RunState{LastCalibration: last}
			if got := ShouldCalibrate(state, tt.now, tt.interval); got != tt.want {
				t.Errorf("ShouldCalibrate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordCalibration_Resets(t *testing.T) {
	state := runstate.New("20261015")
	now := time.Date(2026, 10, 15, 23, 0, 0, 0, time.UTC)

	if !ShouldCalibrate(state, now, time.Hour) {
		t.Fatal("ShouldCalibrate() = false with no prior calibration")
	}
	RecordCalibration(state, now)
	if ShouldCalibrate(state, now, time.Hour) {
		t.Error("ShouldCalibrate() = true immediately after RecordCalibration")
	}
	if got := SinceLast(state, now.Add(10*time.Minute)); got != 10*time.Minute {
		t.Errorf("SinceLast() = %v, want 10m", got)
	}
}

func TestSinceLast_None(t *testing.T) {
	if got := SinceLast(runstate.New("x"), time.Now()); got != 0 {
		t.Errorf("SinceLast() = %v, want 0", got)
	}
}
