package owfsd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeOWFS writes an executable shell script standing in for owfs.
func fakeOWFS(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "owfs")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil { //nolint:gosec // Test script must be executable
		t.Fatalf("writing fake owfs: %v", err)
	}
	return path
}

func testConfig(t *testing.T, binary string) Config {
	t.Helper()
	return Config{
		Binary:          binary,
		MountPath:       filepath.Join(t.TempDir(), "mnt", "1wire"),
		Adapter:         []string{"-u"},
		RestartDelay:    10 * time.Millisecond,
		GracefulTimeout: time.Second,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{MountPath: "/mnt/1wire"}); err == nil {
		t.Error("New() without binary should fail")
	}
	if _, err := New(Config{Binary: "/usr/bin/owfs"}); err == nil {
		t.Error("New() without mount path should fail")
	}

	s, err := New(Config{Binary: "/usr/bin/owfs", MountPath: "/mnt/1wire"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.cfg.RestartDelay != DefaultRestartDelay || s.cfg.MaxRestartDelay != DefaultMaxRestartDelay {
		t.Errorf("restart delays = %v/%v", s.cfg.RestartDelay, s.cfg.MaxRestartDelay)
	}
	if s.cfg.GracefulTimeout != DefaultGracefulTimeout || s.cfg.HealthCheckInterval != DefaultHealthCheckInterval {
		t.Errorf("timeouts = %v/%v", s.cfg.GracefulTimeout, s.cfg.HealthCheckInterval)
	}
	if s.Status() != StatusStopped {
		t.Errorf("initial Status() = %s, want %s", s.Status(), StatusStopped)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}
}

func TestCommandLine(t *testing.T) {
	cfg := Config{
		MountPath: "/mnt/1wire",
		Adapter:   []string{"-d", "/dev/ttyUSB0"},
		Args:      []string{"--allow_other"},
	}
	want := []string{"--foreground", "-d", "/dev/ttyUSB0", "--allow_other", "/mnt/1wire"}
	if diff := cmp.Diff(want, cfg.CommandLine()); diff != "" {
		t.Errorf("CommandLine() mismatch (-want +got):\n%s", diff)
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(testConfig(t, fakeOWFS(t, "exec sleep 30")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := os.Stat(s.cfg.MountPath); err != nil {
		t.Errorf("mount point not created: %v", err)
	}
	if s.Status() != StatusRunning {
		t.Errorf("Status() = %s, want %s", s.Status(), StatusRunning)
	}
	if st := s.Stats(); st.PID == 0 || st.Restarts != 0 {
		t.Errorf("Stats() = %+v", st)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Status() != StatusStopped {
		t.Errorf("Status() after Stop = %s, want %s", s.Status(), StatusStopped)
	}
	if st := s.Stats(); st.PID != 0 {
		t.Errorf("Stats().PID after Stop = %d, want 0", st.PID)
	}
}

func TestRestartsUntilLimit(t *testing.T) {
	cfg := testConfig(t, fakeOWFS(t, "exit 1"))
	cfg.MaxRestartAttempts = 2

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop() //nolint:errcheck // Test cleanup

	waitFor(t, 5*time.Second, func() bool { return s.Stats().Restarts == 3 })

	st := s.Stats()
	if st.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", st.Status, StatusFailed)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestUnhealthyProcessIsKilled(t *testing.T) {
	cfg := testConfig(t, fakeOWFS(t, "exec sleep 30"))
	cfg.MaxRestartAttempts = 1
	cfg.HealthCheckInterval = 10 * time.Millisecond
	cfg.HealthCheck = func(context.Context) error { return errors.New("mount empty") }

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop() //nolint:errcheck // Test cleanup

	waitFor(t, 5*time.Second, func() bool { return s.Stats().Restarts == 2 })

	if st := s.Stats(); !strings.Contains(st.LastError, "failed health checks") {
		t.Errorf("LastError = %q, want health check failure", st.LastError)
	}
}

func TestStartMissingBinary(t *testing.T) {
	s, err := New(testConfig(t, filepath.Join(t.TempDir(), "no-such-owfs")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start() with missing binary should fail")
	}
	if s.Status() != StatusFailed {
		t.Errorf("Status() = %s, want %s", s.Status(), StatusFailed)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() after failed Start error = %v", err)
	}
}

func TestContextCancelStops(t *testing.T) {
	s, err := New(testConfig(t, fakeOWFS(t, "exec sleep 30")))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	waitFor(t, 5*time.Second, func() bool { return s.Status() == StatusStopped })
	if s.Stats().Restarts != 0 {
		t.Error("cancelled process was restarted")
	}
}

func TestMountCheck(t *testing.T) {
	mount := t.TempDir()
	check := MountCheck(mount)

	if err := check(context.Background()); err == nil {
		t.Error("empty mount should fail the check")
	}

	for _, dir := range []string{"settings", "system"} {
		if err := os.Mkdir(filepath.Join(mount, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := check(context.Background()); err != nil {
		t.Errorf("populated mount check error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := check(ctx); err == nil {
		t.Error("cancelled context should fail the check")
	}
}
