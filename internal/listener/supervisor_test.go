package listener

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/store"
)

func TestSupervisorStartAllEnabledSkipsDisabled(t *testing.T) {
	sup := NewSupervisor(time.Second)
	enabled := New(store.Listener{ID: 1, Name: "a", Enabled: true}, &fakeServer{})
	disabled := New(store.Listener{ID: 2, Name: "b", Enabled: false}, &fakeServer{})
	sup.Register(enabled)
	sup.Register(disabled)

	sup.StartAllEnabled()
	assert.True(t, sup.IsRunning(1))
	assert.False(t, sup.IsRunning(2))

	sup.StopAll()
	assert.False(t, sup.IsRunning(1))
}

func TestSupervisorStartStopRestartByID(t *testing.T) {
	sup := NewSupervisor(time.Second)
	l := New(store.Listener{ID: 1, Name: "a", Enabled: true}, &fakeServer{})
	sup.Register(l)

	require.NoError(t, sup.StartListener(1))
	assert.True(t, sup.IsRunning(1))

	require.NoError(t, sup.RestartListener(1))
	assert.True(t, sup.IsRunning(1))

	require.NoError(t, sup.StopListener(1))
	assert.False(t, sup.IsRunning(1))
}

func TestSupervisorUnknownListenerErrors(t *testing.T) {
	sup := NewSupervisor(time.Second)
	assert.Error(t, sup.StartListener(99))
	assert.Error(t, sup.StopListener(99))
}

func TestSupervisorActiveSessionsAggregatesAcrossListeners(t *testing.T) {
	sup := NewSupervisor(time.Second)
	fs1 := &fakeServer{sessions: []session.Info{{ID: "s1"}}}
	fs2 := &fakeServer{sessions: []session.Info{{ID: "s2"}}}
	sup.Register(New(store.Listener{ID: 1, Name: "a", Enabled: true}, fs1))
	sup.Register(New(store.Listener{ID: 2, Name: "b", Enabled: true}, fs2))

	sessions := sup.ActiveSessions()
	assert.Len(t, sessions, 2)
}

func TestSupervisorDisconnectSessionFindsOwningListener(t *testing.T) {
	sup := NewSupervisor(time.Second)
	fs1 := &fakeServer{disconnect: map[string]bool{}}
	fs2 := &fakeServer{disconnect: map[string]bool{"s2": true}}
	sup.Register(New(store.Listener{ID: 1, Name: "a", Enabled: true}, fs1))
	sup.Register(New(store.Listener{ID: 2, Name: "b", Enabled: true}, fs2))

	assert.True(t, sup.DisconnectSession("s2"))
	assert.False(t, sup.DisconnectSession("s3"))
}

func TestSupervisorSubscribeReceivesBroadcast(t *testing.T) {
	sup := NewSupervisor(time.Second)
	ch, unsubscribe := sup.Subscribe()
	defer unsubscribe()

	sup.Broadcast(store.ActivityRecord{Action: "TEST", Success: true})

	select {
	case e := <-ch:
		assert.Equal(t, "TEST", e.Action)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestSupervisorSubscribeDropsOnFullBuffer(t *testing.T) {
	sup := NewSupervisor(time.Second)
	_, unsubscribe := sup.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		sup.Broadcast(store.ActivityRecord{Action: "TEST"})
	}
	assert.Greater(t, sup.DroppedEvents(), uint64(0))
}
