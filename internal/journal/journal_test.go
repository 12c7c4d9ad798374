package journal

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
	"github.com/nerrad567/nightscan/internal/infrastructure/database"
	"github.com/nerrad567/nightscan/internal/instrument"
	"github.com/nerrad567/nightscan/internal/nightwindow"
	"github.com/nerrad567/nightscan/internal/scheduler"
)

var testNight = nightwindow.Night{
	Sunset:  time.Date(2026, 10, 15, 18, 10, 0, 0, time.UTC),
	Sunrise: time.Date(2026, 10, 16, 6, 40, 0, 0, time.UTC),
	Start:   time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC),
	End:     time.Date(2026, 10, 16, 5, 0, 0, 0, time.UTC),
}

func openJournal(t *testing.T) (*Journal, *database.DB) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db.DB), db
}

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.warnings = append(l.warnings, msg)
}

func TestStartFinishRun(t *testing.T) {
	ctx := context.Background()
	j, db := openJournal(t)

	if err := j.FinishRun(ctx, "completed", testNight.End); !errors.Is(err, ErrNoRun) {
		t.Fatalf("FinishRun() before start error = %v, want ErrNoRun", err)
	}

	if err := j.StartRun(ctx, "uao", testNight, testNight.Start); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if !strings.HasPrefix(j.RunID(), "run-") {
		t.Errorf("RunID() = %q, want run- prefix", j.RunID())
	}
	if err := j.FinishRun(ctx, "interrupted", testNight.End); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	var night, outcome, endedAt string
	err := db.QueryRowContext(ctx, `SELECT night, outcome, ended_at FROM runs WHERE id = ?`, j.RunID()).
		Scan(&night, &outcome, &endedAt)
	if err != nil {
		t.Fatalf("query run: %v", err)
	}
	if night != "20261015" {
		t.Errorf("night = %q, want 20261015", night)
	}
	if outcome != "interrupted" {
		t.Errorf("outcome = %q, want interrupted", outcome)
	}
	if endedAt != "2026-10-16T05:00:00Z" {
		t.Errorf("ended_at = %q", endedAt)
	}
}

func TestExposureTaken(t *testing.T) {
	ctx := context.Background()
	j, _ := openJournal(t)
	if err := j.StartRun(ctx, "uao", testNight, testNight.Start); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	at := testNight.Start.Add(10 * time.Minute)
	intensity := 42.5
	j.ExposureTaken(ctx, scheduler.ExposureEvent{
		Pass: 0, Kind: instrument.ExposureBias, ImageTag: scheduler.TagBias,
		Path: "/data/20261015/BIAS_uao_20261015_200000.raw", At: testNight.Start,
	})
	j.ExposureTaken(ctx, scheduler.ExposureEvent{
		Pass: 1, Kind: instrument.ExposureSky, ImageTag: "XR",
		Azimuth: 90, Zenith: 45, Filter: 3, ExposureTime: 12.5,
		Intensity: &intensity, Path: "/data/20261015/XR_uao_20261015_201000.raw", At: at,
	})

	got, err := j.Exposures(ctx, j.RunID())
	if err != nil {
		t.Fatalf("Exposures() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Exposures()) = %d, want 2", len(got))
	}
	if got[0].Kind != "bias" || got[0].Intensity != nil {
		t.Errorf("first exposure = %+v, want bias without intensity", got[0])
	}
	sky := got[1]
	if sky.ImageTag != "XR" || sky.Filter != 3 || sky.ExposureTime != 12.5 {
		t.Errorf("sky exposure = %+v", sky)
	}
	if sky.Intensity == nil || *sky.Intensity != intensity {
		t.Errorf("sky intensity = %v, want %v", sky.Intensity, intensity)
	}
	if !sky.TakenAt.Equal(at) {
		t.Errorf("TakenAt = %v, want %v", sky.TakenAt, at)
	}
}

func TestExposureTaken_CancelledContext(t *testing.T) {
	j, _ := openJournal(t)
	if err := j.StartRun(context.Background(), "uao", testNight, testNight.Start); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.ExposureTaken(ctx, scheduler.ExposureEvent{
		Pass: 3, Kind: instrument.ExposureSky, ImageTag: "XG", Path: "x.raw", At: testNight.Start,
	})

	got, err := j.Exposures(context.Background(), j.RunID())
	if err != nil {
		t.Fatalf("Exposures() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len(Exposures()) = %d, want the frame recorded after interrupt", len(got))
	}
}

func TestWritesWithoutRunAreLogged(t *testing.T) {
	j, _ := openJournal(t)
	logger := &recordingLogger{}
	j.SetLogger(logger)

	j.ExposureTaken(context.Background(), scheduler.ExposureEvent{Kind: instrument.ExposureDark})
	j.PassCompleted(context.Background(), scheduler.PassEvent{Pass: 1})

	if len(logger.warnings) != 2 {
		t.Errorf("warnings = %v, want 2", logger.warnings)
	}
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	t.Run("no saved state", func(t *testing.T) {
		j, _ := openJournal(t)
		_, found, err := j.Resume(ctx, "20261015")
		if err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if found {
			t.Error("Resume() found = true, want false")
		}
	})

	t.Run("restores across runs", func(t *testing.T) {
		j, db := openJournal(t)
		if err := j.StartRun(ctx, "uao", testNight, testNight.Start); err != nil {
			t.Fatalf("StartRun() error = %v", err)
		}
		for pass := 1; pass <= 4; pass++ {
			j.PassCompleted(ctx, scheduler.PassEvent{
				Pass: pass, Exposed: 2,
				Started:  testNight.Start.Add(time.Duration(pass) * time.Minute),
				Finished: testNight.Start.Add(time.Duration(pass)*time.Minute + 30*time.Second),
			})
		}
		lastCal := testNight.Start.Add(25 * time.Minute)
		feedback := []scheduler.Feedback{
			{Index: 0, ImageTag: "XR", LastIntensity: 38, LastExposureTime: 6},
			{Index: 1, ImageTag: "XG", LastIntensity: 41, LastExposureTime: 9.5},
		}
		j.Checkpointed(ctx, scheduler.Checkpoint{
			Night: "20261015", LastCalibration: testNight.Start, Passes: 2, At: testNight.Start,
		})
		j.Checkpointed(ctx, scheduler.Checkpoint{
			Night: "20261015", LastCalibration: lastCal, Passes: 4, Feedback: feedback, At: lastCal,
		})

		restarted := New(db.DB)
		res, found, err := restarted.Resume(ctx, "20261015")
		if err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if !found {
			t.Fatal("Resume() found = false, want true")
		}
		if !res.LastCalibration.Equal(lastCal) {
			t.Errorf("LastCalibration = %v, want %v", res.LastCalibration, lastCal)
		}
		if res.Passes != 4 {
			t.Errorf("Passes = %d, want 4", res.Passes)
		}
		if len(res.Feedback) != 2 || res.Feedback[1].LastExposureTime != 9.5 {
			t.Errorf("Feedback = %+v", res.Feedback)
		}
	})

	t.Run("other night is not resumed", func(t *testing.T) {
		j, _ := openJournal(t)
		j.Checkpointed(ctx, scheduler.Checkpoint{Night: "20261014", At: testNight.Start})
		_, found, err := j.Resume(ctx, "20261015")
		if err != nil {
			t.Fatalf("Resume() error = %v", err)
		}
		if found {
			t.Error("Resume() found state from another night")
		}
	})
}
