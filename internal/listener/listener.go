// Package listener wraps the two protocol servers (internal/sftpd,
// internal/ftpd) behind one lifecycle contract and aggregates them under
// a Supervisor, exactly the role spec §4.5/§4.6 describe: own a socket,
// run the accept loop, track Sessions, emit lifecycle events, and let a
// single supervisor start/stop/restart/enumerate all of them.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/store"
)

// ErrAlreadyRunning is returned by Start on a Listener that is already
// serving connections.
var ErrAlreadyRunning = errors.New("listener: already running")

// ErrDisabled is returned by Start on a Listener whose store row has
// Enabled == false.
var ErrDisabled = errors.New("listener: disabled")

// protocolServer is the minimal shape both internal/sftpd.Server and
// internal/ftpd.Server satisfy.
type protocolServer interface {
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
	ActiveSessions() []session.Info
	DisconnectSession(id string) bool
}

// Listener owns one protocolServer's lifecycle: start idempotency,
// disabled refusal, and cancellable running state.
type Listener struct {
	Row    store.Listener
	server protocolServer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	lastErr error
}

// New wraps server under the lifecycle contract for row.
func New(row store.Listener, server protocolServer) *Listener {
	return &Listener{Row: row, server: server}
}

// Start runs the accept loop in a background goroutine, returning
// immediately once it has launched. onEvent is invoked with "started",
// "stopped" or "error" for lifecycle reporting upward to the Supervisor.
func (l *Listener) Start(onEvent func(event string, err error)) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	if !l.Row.Enabled {
		l.mu.Unlock()
		return ErrDisabled
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.running = true
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	go func() {
		defer close(l.doneCh)
		err := l.server.Run(ctx)

		l.mu.Lock()
		l.running = false
		l.lastErr = err
		l.mu.Unlock()

		if err != nil {
			if onEvent != nil {
				onEvent("error", err)
			}
			return
		}
		if onEvent != nil {
			onEvent("stopped", nil)
		}
	}()

	if onEvent != nil {
		onEvent("started", nil)
	}
	return nil
}

// Stop gracefully drains active sessions within deadline, then hard-stops.
func (l *Listener) Stop(deadline time.Duration) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	done := l.doneCh
	l.mu.Unlock()

	ctx, cancelDeadline := context.WithTimeout(context.Background(), deadline)
	defer cancelDeadline()

	if err := l.server.Shutdown(ctx); err != nil {
		// deadline exceeded: forcibly cancel the accept loop context too
		cancel()
	} else {
		cancel()
	}

	select {
	case <-done:
		return nil
	case <-time.After(deadline):
		return fmt.Errorf("listener %q: shutdown exceeded deadline", l.Row.Name)
	}
}

// IsRunning reports whether the accept loop is currently active.
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// ActiveSessions delegates to the underlying protocolServer.
func (l *Listener) ActiveSessions() []session.Info {
	return l.server.ActiveSessions()
}

// DisconnectSession delegates to the underlying protocolServer.
func (l *Listener) DisconnectSession(id string) bool {
	return l.server.DisconnectSession(id)
}
