package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/remarklab/mdsync/internal/core/domain"
	"github.com/remarklab/mdsync/internal/core/ports/driven"
	"github.com/remarklab/mdsync/internal/core/ports/driving"
	"github.com/remarklab/mdsync/internal/logger"
)

// Reconnect backoff parameters: exponential from base to cap with
// ±20% jitter.
const (
	backoffBase   = 2 * time.Second
	backoffCap    = 60 * time.Second
	backoffJitter = 0.2

	// healthFailThreshold consecutive probe failures move the
	// connection to degraded, suspending new transfers.
	healthFailThreshold = 3
)

// Ensure Connection implements both ports.
var (
	_ driving.ConnectionService = (*Connection)(nil)
	_ driven.RemoteShell        = (*Connection)(nil)
)

// Connection owns the lifecycle of the device session: connect,
// authenticate, health-check, disconnect, auto-reconnect with backoff.
// All remote I/O funnels through it, and it enforces at most one
// in-flight remote call at any time - the device's shell channel is
// not safe for concurrent multiplexed commands.
type Connection struct {
	dialer      driven.ShellDialer
	cfg         domain.DeviceConfig
	maxAttempts int

	// slot serializes every remote call through the single logical
	// session slot.
	slot sync.Mutex

	mu          sync.RWMutex
	shell       driven.RemoteShell
	state       domain.ConnState
	lastErr     string
	healthFails int

	// sleep is injectable so tests don't wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConnection creates a connection manager for one device. It does
// not dial; the first remote call or an explicit Connect does.
func NewConnection(dialer driven.ShellDialer, cfg domain.DeviceConfig, maxAttempts int) *Connection {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Connection{
		dialer:      dialer,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		state:       domain.StateDisconnected,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetConfig replaces the device parameters used by the next dial.
func (c *Connection) SetConfig(cfg domain.DeviceConfig) {
	c.slot.Lock()
	c.cfg = cfg
	c.slot.Unlock()
}

// Connect establishes a session, retrying transient failures with
// exponential backoff up to the attempt cap. Authentication failures
// are not retried; wrong credentials don't fix themselves.
func (c *Connection) Connect(ctx context.Context) error {
	c.slot.Lock()
	defer c.slot.Unlock()
	_, err := c.ensureConnected(ctx)
	return err
}

// Disconnect tears down the session.
func (c *Connection) Disconnect() error {
	c.slot.Lock()
	defer c.slot.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// State returns the current connection state and last error message.
func (c *Connection) State() (domain.ConnState, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.lastErr
}

// closeLocked closes the current shell. Callers hold c.mu.
func (c *Connection) closeLocked() error {
	var err error
	if c.shell != nil {
		err = c.shell.Close()
		c.shell = nil
	}
	c.state = domain.StateDisconnected
	c.healthFails = 0
	return err
}

// ensureConnected returns a live shell, reconnecting if the session is
// down or degraded. Idempotent. Callers hold c.slot.
func (c *Connection) ensureConnected(ctx context.Context) (driven.RemoteShell, error) {
	c.mu.RLock()
	shell, state := c.shell, c.state
	c.mu.RUnlock()

	if shell != nil && state == domain.StateConnected {
		return shell, nil
	}
	return c.reconnect(ctx)
}

// reconnect dials a fresh session, fully superseding the prior one.
// A half-open shell is never reused. Callers hold c.slot.
func (c *Connection) reconnect(ctx context.Context) (driven.RemoteShell, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	_ = c.closeLocked()
	c.state = domain.StateConnecting
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		dialCtx, cancel := c.callContext(ctx)
		shell, err := c.dialer.Dial(dialCtx, c.cfg)
		cancel()

		if err == nil {
			c.mu.Lock()
			c.shell = shell
			c.state = domain.StateConnected
			c.lastErr = ""
			c.healthFails = 0
			c.mu.Unlock()
			logger.Info("connected to %s", c.cfg.Addr())
			return shell, nil
		}

		lastErr = err
		c.setError(err)

		if errors.Is(err, domain.ErrAuth) {
			return nil, fmt.Errorf("connect %s: %w", c.cfg.Addr(), err)
		}
		if attempt == c.maxAttempts {
			break
		}

		delay := backoffDelay(attempt)
		logger.Warn("connection attempt %d/%d to %s failed: %v (retrying in %s)",
			attempt, c.maxAttempts, c.cfg.Addr(), err, delay.Round(time.Millisecond))
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	c.mu.Lock()
	c.state = domain.StateDisconnected
	c.mu.Unlock()
	return nil, fmt.Errorf("connect %s after %d attempts: %w: %w",
		c.cfg.Addr(), c.maxAttempts, domain.ErrTooManyRetries, lastErr)
}

// backoffDelay computes the exponential backoff with jitter for the
// given 1-based attempt number.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << (attempt - 1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	jitter := 1 + backoffJitter*(2*rand.Float64()-1) //nolint:gosec // jitter, not crypto
	return time.Duration(float64(delay) * jitter)
}

// setError records a failure and downgrades state.
func (c *Connection) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err.Error()
	if c.state == domain.StateConnected {
		c.state = domain.StateDisconnected
	}
}

// callContext bounds one remote call with the configured timeout.
func (c *Connection) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// HealthCheck runs one lightweight probe. Three consecutive failures
// move the state to degraded; a later successful reconnect clears it.
func (c *Connection) HealthCheck(ctx context.Context) error {
	c.slot.Lock()
	defer c.slot.Unlock()

	c.mu.RLock()
	shell, state := c.shell, c.state
	c.mu.RUnlock()

	if shell == nil || state != domain.StateConnected {
		return domain.ErrConnection
	}

	probeCtx, cancel := c.callContext(ctx)
	defer cancel()
	_, err := shell.Execute(probeCtx, "true")

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.healthFails++
		c.lastErr = err.Error()
		if c.healthFails >= healthFailThreshold {
			c.state = domain.StateDegraded
			logger.Warn("connection degraded after %d failed health checks", c.healthFails)
		}
		return err
	}
	c.healthFails = 0
	return nil
}

// RunHealthChecks probes on a timer until ctx is cancelled.
func (c *Connection) RunHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(ctx); err != nil {
				logger.Debug("health check failed: %v", err)
			}
		}
	}
}

// call acquires the session slot, ensures a live session and invokes
// fn with a per-call timeout. Connection-class failures downgrade the
// state so the next call reconnects.
func (c *Connection) call(ctx context.Context, fn func(ctx context.Context, shell driven.RemoteShell) error) error {
	c.slot.Lock()
	defer c.slot.Unlock()

	shell, err := c.ensureConnected(ctx)
	if err != nil {
		return err
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	err = fn(callCtx, shell)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			err = fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		if domain.IsConnectionError(err) {
			c.setError(err)
		}
	}
	return err
}

// Execute runs a command through the session slot.
func (c *Connection) Execute(ctx context.Context, command string) (*driven.CommandResult, error) {
	var result *driven.CommandResult
	err := c.call(ctx, func(ctx context.Context, shell driven.RemoteShell) error {
		var err error
		result, err = shell.Execute(ctx, command)
		return err
	})
	return result, err
}

// Upload copies a local file to the device through the session slot.
func (c *Connection) Upload(ctx context.Context, localPath, remotePath string) error {
	return c.call(ctx, func(ctx context.Context, shell driven.RemoteShell) error {
		return shell.Upload(ctx, localPath, remotePath)
	})
}

// Download copies a device file locally through the session slot.
func (c *Connection) Download(ctx context.Context, remotePath, localPath string) error {
	return c.call(ctx, func(ctx context.Context, shell driven.RemoteShell) error {
		return shell.Download(ctx, remotePath, localPath)
	})
}

// ListDir lists remote files through the session slot.
func (c *Connection) ListDir(ctx context.Context, dir string) ([]driven.RemoteFile, error) {
	var files []driven.RemoteFile
	err := c.call(ctx, func(ctx context.Context, shell driven.RemoteShell) error {
		var err error
		files, err = shell.ListDir(ctx, dir)
		return err
	})
	return files, err
}

// Stat stats one remote path through the session slot.
func (c *Connection) Stat(ctx context.Context, path string) (*driven.RemoteFile, error) {
	var file *driven.RemoteFile
	err := c.call(ctx, func(ctx context.Context, shell driven.RemoteShell) error {
		var err error
		file, err = shell.Stat(ctx, path)
		return err
	})
	return file, err
}

// Checksum hashes one remote file through the session slot.
func (c *Connection) Checksum(ctx context.Context, path string) (string, error) {
	var sum string
	err := c.call(ctx, func(ctx context.Context, shell driven.RemoteShell) error {
		var err error
		sum, err = shell.Checksum(ctx, path)
		return err
	})
	return sum, err
}

// Close implements driven.RemoteShell for callers holding the manager
// as a shell; identical to Disconnect.
func (c *Connection) Close() error {
	return c.Disconnect()
}
