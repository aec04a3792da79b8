package owfsd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// Status is the state of the supervised process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultRestartDelay        = 5 * time.Second
	DefaultMaxRestartDelay     = 5 * time.Minute
	DefaultStableThreshold     = 2 * time.Minute
	DefaultGracefulTimeout     = 10 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second
)

// maxHealthFailures is how many consecutive failed checks kill the process.
const maxHealthFailures = 3

// ErrAlreadyRunning is returned by Start on a running supervisor.
var ErrAlreadyRunning = errors.New("owfsd: already running")

// Config describes the owfs process.
type Config struct {
	// Binary is the owfs executable. Required.
	Binary string

	// MountPath is where owfs mounts the bus. Required.
	MountPath string

	// Adapter are the device arguments, e.g. ["-u"].
	Adapter []string

	// Args follow the adapter arguments.
	Args []string

	// RestartDelay is the delay before the first restart. It doubles on
	// every failure up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// StableThreshold is how long the process must run before the
	// restart delay and attempt counter reset.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck is run every HealthCheckInterval while the process is up.
	// Nil disables health checking.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration
}

// CommandLine returns the owfs argument list: foreground mode, the
// adapter, extra arguments and the mount point.
func (c Config) CommandLine() []string {
	args := make([]string, 0, len(c.Adapter)+len(c.Args)+2)
	args = append(args, "--foreground")
	args = append(args, c.Adapter...)
	args = append(args, c.Args...)
	return append(args, c.MountPath)
}

// Logger is the logging interface used by the supervisor.
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

// Supervisor runs owfs and restarts it when it exits or stops answering
// health checks.
//
// Thread Safety: All methods are safe for concurrent use.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastErr   error
	startedAt time.Time
	stopping  bool
	done      chan struct{}
}

// New creates a supervisor. Call Start to launch owfs.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("owfsd: binary is required")
	}
	if cfg.MountPath == "" {
		return nil, fmt.Errorf("owfsd: mount path is required")
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = max(DefaultMaxRestartDelay, cfg.RestartDelay)
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = DefaultStableThreshold
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}

	return &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}, nil
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start creates the mount point if needed, launches owfs and begins
// supervising it until ctx is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopping = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := os.MkdirAll(s.cfg.MountPath, 0o755); err != nil {
		s.fail(err)
		return fmt.Errorf("creating mount point: %w", err)
	}

	if err := s.launch(ctx); err != nil {
		s.fail(err)
		return err
	}

	go s.supervise(ctx)
	return nil
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.lastErr = err
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		default:
			close(done)
		}
	}
}

func (s *Supervisor) launch(ctx context.Context) error {
	args := s.cfg.CommandLine()
	s.logger.Info("starting owfs", "binary", s.cfg.Binary, "args", args)

	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...) //nolint:gosec // Binary comes from the operator's config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting owfs: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.logOutput("stdout", stdout)
	go s.logOutput("stderr", stderr)

	s.logger.Info("owfs started", "pid", cmd.Process.Pid, "mount", s.cfg.MountPath)
	return nil
}

// logOutput forwards owfs output line by line at debug level.
func (s *Supervisor) logOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debug("owfs output", "stream", stream, "line", scanner.Text())
	}
}

// wait blocks until the process exits, ctx is cancelled or the health
// check fails maxHealthFailures times in a row. In the last case the
// process group is killed.
func (s *Supervisor) wait(ctx context.Context, cmd *exec.Cmd) error {
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if s.cfg.HealthCheck == nil {
		return <-exited
	}

	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthCheckInterval)
			err := s.cfg.HealthCheck(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					s.logger.Info("owfs health recovered", "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			s.logger.Warn("owfs health check failed", "error", err, "consecutive_failures", failures)
			if failures < maxHealthFailures {
				continue
			}

			s.logger.Error("owfs unhealthy, killing process", "failures", failures)
			signalGroup(cmd, syscall.SIGKILL) //nolint:errcheck // Exit is observed below
			<-exited
			return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
		}
	}
}

func (s *Supervisor) supervise(ctx context.Context) {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	defer close(done)

	delay := s.cfg.RestartDelay
	for {
		s.mu.RLock()
		cmd := s.cmd
		s.mu.RUnlock()

		err := s.wait(ctx, cmd)

		s.mu.Lock()
		stopping := s.stopping
		ranFor := time.Since(s.startedAt)
		if stopping || ctx.Err() != nil {
			s.status = StatusStopped
			s.mu.Unlock()
			s.logger.Info("owfs stopped")
			return
		}
		s.status = StatusFailed
		s.lastErr = err
		if ranFor >= s.cfg.StableThreshold {
			s.restarts = 0
			delay = s.cfg.RestartDelay
		}
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		s.logger.Warn("owfs exited unexpectedly", "error", err, "uptime", ranFor.String())

		if s.cfg.MaxRestartAttempts > 0 && attempt > s.cfg.MaxRestartAttempts {
			s.logger.Error("owfs restart limit reached, giving up", "attempts", attempt-1)
			return
		}

		s.logger.Info("restarting owfs", "attempt", attempt, "delay", delay.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxRestartDelay)

		s.mu.RLock()
		stopping = s.stopping
		s.mu.RUnlock()
		if stopping {
			return
		}

		for {
			launchErr := s.launch(ctx)
			if launchErr == nil {
				break
			}
			s.logger.Error("failed to restart owfs", "error", launchErr)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, s.cfg.MaxRestartDelay)
		}

		// Stop may have signalled the previous process while this one
		// was starting.
		s.mu.RLock()
		stopping, cmd = s.stopping, s.cmd
		s.mu.RUnlock()
		if stopping {
			signalGroup(cmd, syscall.SIGTERM) //nolint:errcheck // Exit is observed by wait
		}
	}
}

// Stop terminates owfs with SIGTERM, escalating to SIGKILL after
// GracefulTimeout. It is a no-op when nothing is running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.status == StatusStopped || s.done == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	s.logger.Info("stopping owfs", "pid", cmd.Process.Pid)
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to signal owfs", "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("owfs did not exit, sending SIGKILL", "timeout", s.cfg.GracefulTimeout.String())
	}

	s.mu.RLock()
	cmd = s.cmd
	s.mu.RUnlock()
	if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing owfs: %w", err)
	}
	<-done
	return nil
}

// signalGroup signals the process group started with Setpgid. A process
// that already exited is not an error.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// Status returns the current process state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats describes the supervised process.
type Stats struct {
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of the process state.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Status: s.status, Restarts: s.restarts}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.startedAt)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// MountCheck returns a health check that passes while the owfs control
// directories are visible under mountPath. An empty mount point means
// the FUSE filesystem is gone even though the directory exists.
func MountCheck(mountPath string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, dir := range []string{"settings", "system"} {
			info, err := os.Stat(filepath.Join(mountPath, dir))
			if err != nil {
				return fmt.Errorf("owfs mount incomplete: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("owfs mount incomplete: %s is not a directory", dir)
			}
		}
		return nil
	}
}
