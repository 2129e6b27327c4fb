package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/store"
)

// fakeServer is a protocolServer double that blocks Run until ctx is
// cancelled, and reports no active sessions.
type fakeServer struct {
	mu          sync.Mutex
	shutdownErr error
	sessions    []session.Info
	disconnect  map[string]bool
}

func (f *fakeServer) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeServer) Shutdown(ctx context.Context) error {
	return f.shutdownErr
}

func (f *fakeServer) ActiveSessions() []session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

func (f *fakeServer) DisconnectSession(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnect[id]
}

func TestListenerStartRejectsDisabled(t *testing.T) {
	l := New(store.Listener{ID: 1, Name: "l1", Enabled: false}, &fakeServer{})
	err := l.Start(nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestListenerStartRejectsAlreadyRunning(t *testing.T) {
	l := New(store.Listener{ID: 1, Name: "l1", Enabled: true}, &fakeServer{})
	require.NoError(t, l.Start(nil))
	err := l.Start(nil)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_ = l.Stop(time.Second)
}

func TestListenerStopWaitsForRunLoopExit(t *testing.T) {
	l := New(store.Listener{ID: 1, Name: "l1", Enabled: true}, &fakeServer{})
	require.NoError(t, l.Start(nil))
	assert.True(t, l.IsRunning())

	require.NoError(t, l.Stop(time.Second))
	assert.False(t, l.IsRunning())
}

func TestListenerEmitsLifecycleEvents(t *testing.T) {
	l := New(store.Listener{ID: 1, Name: "l1", Enabled: true}, &fakeServer{})
	var events []string
	var mu sync.Mutex
	require.NoError(t, l.Start(func(event string, err error) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}))
	require.NoError(t, l.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "started")
	assert.Contains(t, events, "stopped")
}

func TestListenerDelegatesSessionQueries(t *testing.T) {
	fs := &fakeServer{
		sessions:   []session.Info{{ID: "s1"}},
		disconnect: map[string]bool{"s1": true},
	}
	l := New(store.Listener{ID: 1, Name: "l1", Enabled: true}, fs)
	assert.Len(t, l.ActiveSessions(), 1)
	assert.True(t, l.DisconnectSession("s1"))
	assert.False(t, l.DisconnectSession("nope"))
}
