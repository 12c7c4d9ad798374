package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/nightscan/internal/astro"
	"github.com/nerrad567/nightscan/internal/clock"
	"github.com/nerrad567/nightscan/internal/instrument"
)

var testStart = time.Date(2026, 10, 15, 22, 0, 0, 0, time.UTC)

func TestDetector_ExposeAdvancesClock(t *testing.T) {
	clk := clock.NewFake(testStart)
	in := New(clk, astro.Site{Latitude: 40, Longitude: -88})
	det := in.Devices(false).Detector

	frame, err := det.Expose(context.Background(), instrument.ExposureSky, 30)
	if err != nil {
		t.Fatalf("Expose() error = %v", err)
	}
	if got := clk.Now().Sub(testStart); got != 30*time.Second {
		t.Errorf("clock advanced %v, want 30s", got)
	}
	if err := frame.Validate(); err != nil {
		t.Fatalf("frame invalid: %v", err)
	}
	if frame.At(0, frame.Width-1) <= frame.At(0, 0) {
		t.Error("sky frame should brighten left to right")
	}
}

func TestDetector_ExposeCompletesWhenCancelled(t *testing.T) {
	clk := clock.NewFake(testStart)
	in := New(clk, astro.Site{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := in.Devices(false).Detector.Expose(ctx, instrument.ExposureDark, 60); err != nil {
		t.Fatalf("Expose() error = %v, want completed exposure", err)
	}
	if got := clk.Now().Sub(testStart); got != time.Minute {
		t.Errorf("clock advanced %v, want 1m", got)
	}
}

func TestDetector_BiasHasNoSignal(t *testing.T) {
	in := New(clock.NewFake(testStart), astro.Site{})
	frame, err := in.Devices(false).Detector.Expose(context.Background(), instrument.ExposureBias, 100)
	if err != nil {
		t.Fatalf("Expose() error = %v", err)
	}
	for _, v := range frame.Pixels {
		if v != DefaultBiasLevel {
			t.Fatalf("bias pixel = %d, want %d", v, DefaultBiasLevel)
		}
	}
}

func TestDetector_TemperatureWarmsAfterCoolerOff(t *testing.T) {
	ctx := context.Background()
	in := New(clock.NewFake(testStart), astro.Site{})
	det := in.Devices(false).Detector

	_ = det.SetTemperature(ctx, -60)
	_ = det.CoolerOn(ctx)
	if temp, _ := det.Temperature(ctx); temp != -60 {
		t.Fatalf("cooled temperature = %v, want -60", temp)
	}

	_ = det.CoolerOff(ctx)
	first, _ := det.Temperature(ctx)
	second, _ := det.Temperature(ctx)
	if !(first > -60 && second > first) {
		t.Errorf("temperatures %v then %v, want warming", first, second)
	}
}

func TestInstrument_FailOn(t *testing.T) {
	in := New(clock.NewFake(testStart), astro.Site{})
	in.FailOn("detector.expose.bias", errors.New("readout stuck"))

	_, err := in.Devices(false).Detector.Expose(context.Background(), instrument.ExposureBias, 0)
	if !errors.Is(err, instrument.ErrExposure) {
		t.Errorf("Expose() error = %v, want ErrExposure", err)
	}
	if !errors.Is(err, instrument.ErrHardwareCommand) {
		t.Errorf("Expose() error = %v, want ErrHardwareCommand", err)
	}
}

func TestInstrument_TraceOrder(t *testing.T) {
	ctx := context.Background()
	in := New(clock.NewFake(testStart), astro.Site{})
	dev := in.Devices(true)

	_ = dev.Positioner.SetPositionReal(ctx, 180, 45)
	_ = dev.FilterWheel.Go(ctx, 3)
	_ = dev.Laser.Open(ctx)
	_ = dev.Laser.Close(ctx)
	_ = dev.Positioner.GoHome(ctx)

	want := []string{"positioner.move 180 45", "filterwheel.go 3", "laser.open", "laser.close", "positioner.home"}
	got := in.Trace.Events()
	if len(got) != len(want) {
		t.Fatalf("trace = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("trace[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPositioner_MoonAngleOverride(t *testing.T) {
	in := New(clock.NewFake(testStart), astro.Site{})
	in.MoonOverride = func(az, zen float64) float64 { return az }

	got, err := in.Devices(false).Positioner.MoonAngle(context.Background(), 0, 0, 12, 40)
	if err != nil || got != 12 {
		t.Errorf("MoonAngle() = %v, %v; want 12, nil", got, err)
	}
}

func TestRelay_SharedAcrossConnections(t *testing.T) {
	ctx := context.Background()
	in := New(clock.NewFake(testStart), astro.Site{})

	_ = in.Relay().SetOutlet(ctx, 2, true)
	_ = in.Relay().SetOutlet(ctx, 1, true)
	_ = in.Relay().SetOutlet(ctx, 2, false)

	got := in.Energized()
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Energized() = %v, want [1]", got)
	}
	if in.Trace.Count("power.") != 3 {
		t.Errorf("power events = %d, want 3", in.Trace.Count("power."))
	}
}

func TestNeighbors_AppearAfter(t *testing.T) {
	ctx := context.Background()
	n := NewNeighbors()
	n.Add("AA:BB:CC:DD:EE:FF", "10.0.0.7", 2)

	for i := 1; i <= 3; i++ {
		addr, ok, err := n.Lookup(ctx, "aa:bb:cc:dd:ee:ff")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if wantOK := i > 2; ok != wantOK {
			t.Errorf("lookup %d found = %v, want %v", i, ok, wantOK)
		}
		if ok && addr != "10.0.0.7" {
			t.Errorf("address = %q", addr)
		}
	}
	if n.Lookups("AA:BB:CC:DD:EE:FF") != 3 {
		t.Errorf("Lookups() = %d, want 3", n.Lookups("AA:BB:CC:DD:EE:FF"))
	}
}
