// Package owfs reads and writes 1-Wire device properties through an OWFS
// mount (owfs FUSE or the kernel w1 sysfs tree).
//
// Every device property is a file: reading the file samples the bus,
// writing it drives an output. A property path is relative to the mount,
// for example "28.A1B2C3D4E5F6/temperature".
package owfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Connection defaults.
const (
	// DefaultMountPath is where owfs is conventionally mounted.
	DefaultMountPath = "/mnt/1wire"

	// DefaultTimeout bounds a single read or write.
	DefaultTimeout = 5 * time.Second

	// DefaultRetries is how many extra read attempts follow a failure.
	DefaultRetries = 2

	// retryDelay is the pause between read attempts.
	retryDelay = 100 * time.Millisecond

	// maxValueSize caps how much of a property file is read.
	maxValueSize = 4096
)

// Config holds mount connection settings.
type Config struct {
	// MountPath is the directory owfs is mounted on.
	MountPath string

	// Retries is the number of additional read attempts after a failure.
	Retries int

	// Timeout bounds each read or write attempt.
	// Default: 5 seconds.
	Timeout time.Duration
}

// Stats holds operational counters.
type Stats struct {
	Reads        uint64
	ReadErrors   uint64
	Writes       uint64
	WriteErrors  uint64
	LastActivity time.Time
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connection gives access to device properties below an OWFS mount.
//
// Thread Safety: All methods are safe for concurrent use. Configure may be
// called while reads are running; each operation uses the settings current
// when it started.
type Connection struct {
	cfg   Config
	cfgMu sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex

	reads        atomic.Uint64
	readErrors   atomic.Uint64
	writes       atomic.Uint64
	writeErrors  atomic.Uint64
	lastActivity atomic.Int64
}

// New creates a Connection. The mount does not have to exist yet;
// IsConnectionEstablished reports whether it does.
func New(cfg Config) (*Connection, error) {
	c := &Connection{}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure replaces the connection settings.
func (c *Connection) Configure(cfg Config) error {
	if cfg.MountPath == "" {
		return fmt.Errorf("%w: mount path is required", ErrInvalidConfig)
	}
	if cfg.Retries < 0 {
		return fmt.Errorf("%w: retries must not be negative", ErrInvalidConfig)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.MountPath = filepath.Clean(cfg.MountPath)

	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
	return nil
}

// Config returns the current settings.
func (c *Connection) Config() Config {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg
}

// SetLogger sets the logger for connection diagnostics.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnectionEstablished reports whether the mount path is a directory.
func (c *Connection) IsConnectionEstablished() bool {
	info, err := os.Stat(c.Config().MountPath)
	return err == nil && info.IsDir()
}

// Read returns the value of the property at path, trimmed of surrounding
// whitespace. Failed attempts are retried up to Config.Retries times.
func (c *Connection) Read(ctx context.Context, path string) (string, error) {
	cfg := c.Config()

	full, err := resolve(cfg.MountPath, path)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %s: %w", ErrReadFailed, path, ctx.Err())
			case <-time.After(retryDelay):
			}
		}

		value, err := c.readOnce(ctx, full, cfg.Timeout)
		if err == nil {
			c.reads.Add(1)
			c.lastActivity.Store(time.Now().Unix())
			return value, nil
		}

		lastErr = err
		c.logDebug("read attempt failed", "path", path, "attempt", attempt+1, "error", err)

		if !retryable(err) {
			break
		}
	}

	c.readErrors.Add(1)
	return "", fmt.Errorf("%w: %s: %w", ErrReadFailed, path, lastErr)
}

// Write stores value at path. Writes are not retried.
func (c *Connection) Write(ctx context.Context, path, value string) error {
	cfg := c.Config()

	full, err := resolve(cfg.MountPath, path)
	if err != nil {
		return err
	}

	_, err = withTimeout(ctx, cfg.Timeout, func() (struct{}, error) {
		f, err := os.OpenFile(full, os.O_WRONLY, 0)
		if err != nil {
			return struct{}{}, err
		}
		if _, err := f.WriteString(value); err != nil {
			f.Close() //nolint:errcheck // Write error takes precedence
			return struct{}{}, err
		}
		return struct{}{}, f.Close()
	})
	if err != nil {
		c.writeErrors.Add(1)
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, path, err)
	}

	c.writes.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// Stats returns operational counters.
func (c *Connection) Stats() Stats {
	var last time.Time
	if ts := c.lastActivity.Load(); ts > 0 {
		last = time.Unix(ts, 0)
	}
	return Stats{
		Reads:        c.reads.Load(),
		ReadErrors:   c.readErrors.Load(),
		Writes:       c.writes.Load(),
		WriteErrors:  c.writeErrors.Load(),
		LastActivity: last,
	}
}

func (c *Connection) readOnce(ctx context.Context, full string, timeout time.Duration) (string, error) {
	return withTimeout(ctx, timeout, func() (string, error) {
		f, err := os.Open(full)
		if err != nil {
			return "", err
		}
		defer f.Close() //nolint:errcheck // Read-only file

		buf := make([]byte, maxValueSize)
		n, err := f.Read(buf)
		if err != nil && n == 0 {
			return "", err
		}
		return strings.TrimSpace(string(buf[:n])), nil
	})
}

type result[T any] struct {
	value T
	err   error
}

// withTimeout runs fn on its own goroutine so a hung FUSE call cannot block
// the caller past the deadline. The goroutine is abandoned on timeout.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn()
		done <- result[T]{value: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}

// resolve joins path onto the mount, rejecting paths that leave it.
func resolve(mount, path string) (string, error) {
	p := strings.Trim(strings.TrimSpace(path), "/")
	if p == "" || !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return filepath.Join(mount, p), nil
}

// retryable reports whether another read attempt could succeed.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, os.ErrNotExist)
}

func (c *Connection) logDebug(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}
