package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/nightscan/internal/infrastructure/config"
)

// Status is the state of the supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusRunning  Status = "running"
	StatusBackoff  Status = "backoff"
	StatusFailed   Status = "failed"
	StatusStopping Status = "stopping"
)

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("process: already running")

// Options configures a Supervisor.
type Options struct {
	// Name is used in logs.
	Name   string
	Binary string
	Args   []string

	// Env is appended to the controller's environment.
	Env []string

	// RestartDelay is the first restart delay; it doubles up to
	// MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableAfter is how long a run must last for the backoff to reset.
	StableAfter time.Duration

	// MaxRestarts caps consecutive restarts. Zero means unlimited.
	MaxRestarts int

	// StopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	StopTimeout time.Duration
}

// FromBridgeConfig returns the options for the instrument bridge daemon.
func FromBridgeConfig(cfg config.BridgeConfig) Options {
	return Options{
		Name:         "instrument-bridge",
		Binary:       cfg.Binary,
		Args:         cfg.Args,
		RestartDelay: cfg.RestartDelay,
		MaxRestarts:  cfg.MaxRestartAttempts,
	}
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor runs one child process and keeps it alive.
//
// Thread Safety: all methods are safe for concurrent use.
type Supervisor struct {
	opts   Options
	logger Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	status   Status
	restarts int
	lastErr  error
	started  time.Time
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSupervisor creates a stopped Supervisor.
func NewSupervisor(opts Options) *Supervisor {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 5 * time.Second
	}
	if opts.MaxRestartDelay < opts.RestartDelay {
		opts.MaxRestartDelay = max(5*time.Minute, opts.RestartDelay)
	}
	if opts.StableAfter <= 0 {
		opts.StableAfter = 2 * time.Minute
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	return &Supervisor{opts: opts, logger: noopLogger{}, status: StatusStopped}
}

// SetLogger sets the logger.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the process and supervises it until Stop or ctx ends.
// A process that cannot be launched at all is reported here and not retried.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusBackoff {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.opts.Name)
	}
	s.stopping = false
	s.restarts = 0
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	cmd, err := s.launch(ctx)
	if err != nil {
		s.setFailed(err)
		close(s.done)
		return err
	}
	go s.supervise(ctx, cmd)
	return nil
}

func (s *Supervisor) launch(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, s.opts.Binary, s.opts.Args...) //nolint:gosec // Binary comes from the operator's config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.opts.Env != nil {
		cmd.Env = append(os.Environ(), s.opts.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", s.opts.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.started = time.Now()
	s.mu.Unlock()

	go s.logLines("stdout", stdout)
	go s.logLines("stderr", stderr)

	s.logger.Info("process started", "name", s.opts.Name, "pid", cmd.Process.Pid)
	return cmd, nil
}

func (s *Supervisor) logLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Debug("process output", "name", s.opts.Name, "stream", stream, "line", sc.Text())
	}
}

// supervise waits for each run to end and restarts it until stopped.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd) {
	defer close(s.done)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RestartDelay
	policy.MaxInterval = s.opts.MaxRestartDelay
	policy.MaxElapsedTime = 0
	policy.Reset()

	for {
		err := cmd.Wait()

		s.mu.Lock()
		stopping := s.stopping
		ran := time.Since(s.started)
		s.mu.Unlock()

		if stopping || ctx.Err() != nil {
			s.setStatus(StatusStopped)
			s.logger.Info("process stopped", "name", s.opts.Name)
			return
		}

		s.logger.Warn("process exited", "name", s.opts.Name, "error", err, "ran", ran.Round(time.Second))
		if ran >= s.opts.StableAfter {
			policy.Reset()
			s.mu.Lock()
			s.restarts = 0
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.lastErr = err
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		if s.opts.MaxRestarts > 0 && attempt > s.opts.MaxRestarts {
			s.logger.Error("restart limit reached", "name", s.opts.Name, "restarts", attempt-1)
			s.setFailed(err)
			return
		}

		delay := policy.NextBackOff()
		s.setStatus(StatusBackoff)
		s.logger.Info("restarting process", "name", s.opts.Name, "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStatus(StatusStopped)
			return
		case <-s.stop:
			timer.Stop()
			s.setStatus(StatusStopped)
			return
		case <-timer.C:
		}

		next, err := s.launch(ctx)
		if err != nil {
			s.logger.Error("restart failed", "name", s.opts.Name, "error", err)
			s.setFailed(err)
			return
		}
		cmd = next
	}
}

// Stop terminates the process group: SIGTERM, then SIGKILL after the stop
// timeout. Stopping a stopped supervisor is a no-op.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.done == nil || s.status == StatusStopped || s.status == StatusFailed {
		s.mu.Unlock()
		return nil
	}
	if s.stopping {
		done := s.done
		s.mu.Unlock()
		<-done
		return nil
	}
	backingOff := s.status == StatusBackoff
	s.stopping = true
	s.status = StatusStopping
	cmd := s.cmd
	done := s.done
	close(s.stop)
	s.mu.Unlock()

	if backingOff {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping process", "name", s.opts.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("SIGTERM failed", "name", s.opts.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.opts.StopTimeout):
		s.logger.Warn("stop timeout, sending SIGKILL", "name", s.opts.Name, "timeout", s.opts.StopTimeout)
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing %s: %w", s.opts.Name, err)
	}
	<-done
	return nil
}

// Wait blocks until supervision has ended.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Supervisor) setFailed(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.lastErr = err
	s.mu.Unlock()
}

// Stats is a snapshot of the supervisor.
type Stats struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	PID      int    `json:"pid,omitempty"`
	Restarts int    `json:"restarts"`
	LastErr  string `json:"last_error,omitempty"`
}

// Stats returns the current state.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Name: s.opts.Name, Status: s.status, Restarts: s.restarts}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	if s.lastErr != nil {
		st.LastErr = s.lastErr.Error()
	}
	return st
}
