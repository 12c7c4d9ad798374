package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

type lineLogger struct {
	noopLogger
	mu    sync.Mutex
	lines []string
}

func (l *lineLogger) Debug(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			l.lines = append(l.lines, args[i+1].(string))
		}
	}
}

func (l *lineLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFromBridgeConfig(t *testing.T) {
	opts := FromBridgeConfig(config.BridgeConfig{
		Managed:            true,
		Binary:             "/usr/local/bin/instrument-bridge",
		Args:               []string{"--broker", "tcp://localhost:1883"},
		RestartDelay:       3 * time.Second,
		MaxRestartAttempts: 4,
	})

	if opts.Name != "instrument-bridge" || opts.Binary != "/usr/local/bin/instrument-bridge" {
		t.Errorf("opts = %+v", opts)
	}
	if len(opts.Args) != 2 || opts.RestartDelay != 3*time.Second || opts.MaxRestarts != 4 {
		t.Errorf("opts = %+v", opts)
	}
}

func TestNewSupervisor_Defaults(t *testing.T) {
	s := NewSupervisor(Options{Name: "bridge", Binary: "/bin/true"})

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"RestartDelay", s.opts.RestartDelay, 5 * time.Second},
		{"MaxRestartDelay", s.opts.MaxRestartDelay, 5 * time.Minute},
		{"StableAfter", s.opts.StableAfter, 2 * time.Minute},
		{"StopTimeout", s.opts.StopTimeout, 10 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if st := s.Stats(); st.Status != StatusStopped || st.PID != 0 || st.Restarts != 0 {
		t.Errorf("Stats() = %+v, want stopped", st)
	}
}

func TestSupervisor_StopWhenNotStarted(t *testing.T) {
	s := NewSupervisor(Options{Name: "bridge", Binary: "/bin/true"})
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestSupervisor_StartMissingBinary(t *testing.T) {
	s := NewSupervisor(Options{Name: "bridge", Binary: filepath.Join(t.TempDir(), "missing")})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want launch failure")
	}
	if st := s.Stats(); st.Status != StatusFailed || st.LastErr == "" {
		t.Errorf("Stats() = %+v, want failed with error", st)
	}
}

func TestSupervisor_StartStop(t *testing.T) {
	s := NewSupervisor(Options{
		Name:        "bridge",
		Binary:      "/bin/sh",
		Args:        []string{"-c", "echo bridge ready; exec sleep 60"},
		StopTimeout: 2 * time.Second,
	})
	logger := &lineLogger{}
	s.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if st := s.Stats(); st.Status != StatusRunning || st.PID == 0 {
		t.Errorf("Stats() = %+v, want running with a pid", st)
	}
	waitFor(t, "output line", func() bool {
		for _, l := range logger.snapshot() {
			if l == "bridge ready" {
				return true
			}
		}
		return false
	})

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if st := s.Stats(); st.Status != StatusStopped {
		t.Errorf("Status after Stop() = %s, want stopped", st.Status)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestSupervisor_RestartsUntilLimit(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "runs")
	s := NewSupervisor(Options{
		Name:         "bridge",
		Binary:       "/bin/sh",
		Args:         []string{"-c", "echo run >> " + counter + "; exit 3"},
		RestartDelay: 10 * time.Millisecond,
		MaxRestarts:  2,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Wait()

	data, err := os.ReadFile(counter)
	if err != nil {
		t.Fatalf("reading run counter: %v", err)
	}
	if runs := strings.Count(string(data), "run"); runs != 3 {
		t.Errorf("runs = %d, want the first run plus 2 restarts", runs)
	}
	st := s.Stats()
	if st.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", st.Status)
	}
	if !strings.Contains(st.LastErr, "exit status 3") {
		t.Errorf("LastErr = %q, want the exit status", st.LastErr)
	}
}

func TestSupervisor_StopDuringBackoff(t *testing.T) {
	s := NewSupervisor(Options{
		Name:         "bridge",
		Binary:       "/bin/sh",
		Args:         []string{"-c", "exit 1"},
		RestartDelay: time.Hour,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "backoff", func() bool { return s.Stats().Status == StatusBackoff })

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not interrupt the restart delay")
	}
}
