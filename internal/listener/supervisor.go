package listener

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/store"
)

// Event is one activity record forwarded to Supervisor subscribers, the
// same shape persisted to the store (spec §4.6's subscribe contract).
type Event = store.ActivityRecord

// subscriberBuffer bounds how many events a slow subscriber can lag
// behind before further events are dropped for it, mirroring the
// store's own bounded-broadcast activity writer.
const subscriberBuffer = 256

// Supervisor owns the full set of Listeners, starts/stops them, and
// fans out activity events to subscribers (spec §4.6).
type Supervisor struct {
	ShutdownDeadline time.Duration

	mu        sync.Mutex
	listeners map[uint64]*Listener
	subs      map[int]chan Event
	nextSubID int
	dropped   uint64
}

// NewSupervisor builds an empty Supervisor.
func NewSupervisor(shutdownDeadline time.Duration) *Supervisor {
	return &Supervisor{
		ShutdownDeadline: shutdownDeadline,
		listeners:        make(map[uint64]*Listener),
		subs:             make(map[int]chan Event),
	}
}

// Register adds l under its Row.ID, replacing any previous registration
// for that ID (used once at boot per enabled store.Listener row).
func (sup *Supervisor) Register(l *Listener) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	sup.listeners[l.Row.ID] = l
}

// Unregister removes the listener with id, stopping it first if running.
func (sup *Supervisor) Unregister(id uint64) {
	sup.mu.Lock()
	l, ok := sup.listeners[id]
	delete(sup.listeners, id)
	sup.mu.Unlock()
	if ok && l.IsRunning() {
		_ = l.Stop(sup.ShutdownDeadline)
	}
}

// StartAllEnabled starts every registered, enabled listener; a
// per-listener failure is logged but does not abort the rest.
func (sup *Supervisor) StartAllEnabled() {
	sup.mu.Lock()
	listeners := make([]*Listener, 0, len(sup.listeners))
	for _, l := range sup.listeners {
		listeners = append(listeners, l)
	}
	sup.mu.Unlock()

	for _, l := range listeners {
		if !l.Row.Enabled {
			continue
		}
		if err := sup.startListener(l); err != nil {
			lgr.Printf("[WARN] listener %q failed to start: %v", l.Row.Name, err)
		}
	}
}

func (sup *Supervisor) startListener(l *Listener) error {
	return l.Start(func(event string, err error) {
		action := "LISTENER_" + eventActionSuffix(event)
		sup.broadcast(Event{ListenerID: &l.Row.ID, Action: action, Success: err == nil})
		if err != nil {
			lgr.Printf("[WARN] listener %q: %v", l.Row.Name, err)
		}
	})
}

func eventActionSuffix(event string) string {
	switch event {
	case "started":
		return "STARTED"
	case "stopped":
		return "STOPPED"
	default:
		return "ERROR"
	}
}

// StartListener starts a single listener by ID.
func (sup *Supervisor) StartListener(id uint64) error {
	sup.mu.Lock()
	l, ok := sup.listeners[id]
	sup.mu.Unlock()
	if !ok {
		return fmt.Errorf("listener: unknown id %d", id)
	}
	return sup.startListener(l)
}

// StopListener stops a single listener by ID.
func (sup *Supervisor) StopListener(id uint64) error {
	sup.mu.Lock()
	l, ok := sup.listeners[id]
	sup.mu.Unlock()
	if !ok {
		return fmt.Errorf("listener: unknown id %d", id)
	}
	return l.Stop(sup.ShutdownDeadline)
}

// RestartListener stops then starts a listener by ID.
func (sup *Supervisor) RestartListener(id uint64) error {
	if err := sup.StopListener(id); err != nil {
		return err
	}
	return sup.StartListener(id)
}

// IsRunning reports whether the listener with id is currently serving.
func (sup *Supervisor) IsRunning(id uint64) bool {
	sup.mu.Lock()
	l, ok := sup.listeners[id]
	sup.mu.Unlock()
	return ok && l.IsRunning()
}

// ActiveSessions snapshots every session across every listener.
func (sup *Supervisor) ActiveSessions() []session.Info {
	sup.mu.Lock()
	listeners := make([]*Listener, 0, len(sup.listeners))
	for _, l := range sup.listeners {
		listeners = append(listeners, l)
	}
	sup.mu.Unlock()

	var out []session.Info
	for _, l := range listeners {
		out = append(out, l.ActiveSessions()...)
	}
	return out
}

// DisconnectSession locates the owning listener for sessionID and
// requests its closure, returning whether a matching session existed.
func (sup *Supervisor) DisconnectSession(sessionID string) bool {
	sup.mu.Lock()
	listeners := make([]*Listener, 0, len(sup.listeners))
	for _, l := range sup.listeners {
		listeners = append(listeners, l)
	}
	sup.mu.Unlock()

	for _, l := range listeners {
		if l.DisconnectSession(sessionID) {
			return true
		}
	}
	return false
}

// StopAll gracefully stops every running listener, used on process
// shutdown.
func (sup *Supervisor) StopAll() {
	sup.mu.Lock()
	listeners := make([]*Listener, 0, len(sup.listeners))
	for _, l := range sup.listeners {
		listeners = append(listeners, l)
	}
	sup.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range listeners {
		if !l.IsRunning() {
			continue
		}
		wg.Add(1)
		go func(l *Listener) {
			defer wg.Done()
			if err := l.Stop(sup.ShutdownDeadline); err != nil {
				lgr.Printf("[WARN] listener %q: %v", l.Row.Name, err)
			}
		}(l)
	}
	wg.Wait()
}

// Subscribe registers a channel that receives every activity record
// broadcast to the Supervisor, with a bounded buffer per subscriber and
// drop-with-count on overflow (spec §5's activity subscriber policy).
// The returned function unsubscribes.
func (sup *Supervisor) Subscribe() (<-chan Event, func()) {
	sup.mu.Lock()
	id := sup.nextSubID
	sup.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	sup.subs[id] = ch
	sup.mu.Unlock()

	unsubscribe := func() {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		if c, ok := sup.subs[id]; ok {
			delete(sup.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Broadcast emits an activity record to every subscriber. The Store's
// activity writer does not call it, so records persisted through
// Store.LogActivity are not forwarded to subscribers; subscribers receive
// the listener lifecycle events (LISTENER_STARTED/STOPPED/ERROR) and
// whatever is passed to Broadcast directly.
func (sup *Supervisor) Broadcast(e Event) {
	sup.broadcast(e)
}

func (sup *Supervisor) broadcast(e Event) {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for id, ch := range sup.subs {
		select {
		case ch <- e:
		default:
			sup.dropped++
			_ = id
		}
	}
}

// DroppedEvents reports how many broadcasts were dropped due to a full
// subscriber buffer, for diagnostics.
func (sup *Supervisor) DroppedEvents() uint64 {
	sup.mu.Lock()
	defer sup.mu.Unlock()
	return sup.dropped
}
