// Package session models one authenticated connection's in-process state:
// its open file/directory handles, its idle timer, and the bookkeeping
// needed to check the handle-count invariants spec §8 describes — all of
// it independent of which wire protocol (SFTP or FTP) owns the
// connection.
package session

import (
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HandleID is a locally-minted identifier for an open file or directory.
// It is never exposed on the wire; pkg/sftp and ftpserverlib each own
// their own opaque handle encoding — HandleID exists purely so this
// package can track open/close counts and authorize against the right
// local path.
type HandleID uint64

// State is the session lifecycle spec §4.3 names.
type State int

const (
	Connecting State = iota
	Authenticating
	Serving
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Authenticating:
		return "Authenticating"
	case Serving:
		return "Serving"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// DirIterator is a snapshot-at-open directory listing: entries are read
// once on OPENDIR and the cursor advances on each READDIR, so repeated
// READDIR calls can never re-read a directory that changed mid-listing —
// the fix Design Notes calls out for the infinite-loop class of bugs.
type DirIterator struct {
	LocalPath string
	Entries   []os.FileInfo
	Cursor    int
}

// NewDirIterator snapshots localPath's entries, sorted by name for
// deterministic pagination, skipping entries whose Stat fails (per spec
// §4.3: "skipped, no failure propagated").
func NewDirIterator(localPath string) (*DirIterator, error) {
	entries, err := os.ReadDir(localPath)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return &DirIterator{LocalPath: localPath, Entries: infos}, nil
}

// Next returns up to batchSize entries starting at the cursor, advancing
// it. A call made once the cursor has reached the end returns no entries
// and io.EOF, so the batch holding the last entries comes back without
// an error and the following call reports the end.
func (d *DirIterator) Next(batchSize int) ([]os.FileInfo, error) {
	if d.Cursor >= len(d.Entries) {
		return nil, io.EOF
	}
	end := d.Cursor + batchSize
	if end > len(d.Entries) {
		end = len(d.Entries)
	}
	batch := d.Entries[d.Cursor:end]
	d.Cursor = end
	return batch, nil
}

// OpenFile is the bookkeeping record for a handle backed by an os.File.
type OpenFile struct {
	LocalPath string
	File      *os.File
	Append    bool
}

// Info describes one active session for Supervisor.activeSessions().
type Info struct {
	ID            string
	ListenerID    uint64
	ListenerName  string
	Protocol      string
	Username      string
	RemoteAddress string
	ConnectedAt   time.Time
}

// Session tracks one connection's open handles, idle timer and lifecycle
// state. It owns its handle maps exclusively — per spec §5, there is no
// cross-session sharing.
type Session struct {
	Info

	mu       sync.Mutex
	state    State
	nextID   uint64
	openFiles map[HandleID]*OpenFile
	openDirs  map[HandleID]*DirIterator

	idleTimeout time.Duration
	timer       *time.Timer
	onIdle      func()

	closed int32
}

// New creates a Session in the Connecting state with the given idle
// timeout; onIdle is invoked (once, from the timer's own goroutine) when
// the session goes idle-timeout long without a ResetIdleTimer call.
func New(info Info, idleTimeout time.Duration, onIdle func()) *Session {
	s := &Session{
		Info:        info,
		state:       Connecting,
		openFiles:   make(map[HandleID]*OpenFile),
		openDirs:    make(map[HandleID]*DirIterator),
		idleTimeout: idleTimeout,
		onIdle:      onIdle,
	}
	return s
}

// SetState transitions the session's lifecycle state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartIdleTimer arms the idle timer. Call once after authentication.
func (s *Session) StartIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimeout <= 0 {
		return
	}
	s.timer = time.AfterFunc(s.idleTimeout, func() {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}
		if s.onIdle != nil {
			s.onIdle()
		}
	})
}

// ResetIdleTimer is called on every request dispatch to push the idle
// deadline back out. The timer itself fires on its own goroutine
// (time.AfterFunc), so a blocking disk read never starves it, per spec §5.
func (s *Session) ResetIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Reset(s.idleTimeout)
	}
}

// StopIdleTimer cancels the idle timer; called on Closing.
func (s *Session) StopIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

// RegisterFile allocates a new HandleID for an open file.
func (s *Session) RegisterFile(localPath string, f *os.File, appendMode bool) HandleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := HandleID(s.nextID)
	s.openFiles[id] = &OpenFile{LocalPath: localPath, File: f, Append: appendMode}
	return id
}

// RegisterDir allocates a new HandleID for an open directory iterator.
func (s *Session) RegisterDir(it *DirIterator) HandleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := HandleID(s.nextID)
	s.openDirs[id] = it
	return id
}

// File returns the OpenFile registered under id, if any.
func (s *Session) File(id HandleID) (*OpenFile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.openFiles[id]
	return f, ok
}

// Dir returns the DirIterator registered under id, if any.
func (s *Session) Dir(id HandleID) (*DirIterator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.openDirs[id]
	return d, ok
}

// CloseHandle discards the bookkeeping for id, closing the underlying
// os.File if it was a file handle. Closing an unknown handle is a no-op
// (CLOSE always structurally succeeds, per spec §4.3).
func (s *Session) CloseHandle(id HandleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.openFiles[id]; ok {
		delete(s.openFiles, id)
		return f.File.Close()
	}
	delete(s.openDirs, id)
	return nil
}

// OpenHandleCount returns the number of file and directory handles still
// open, for the CLOSE-count invariant in spec §8.
func (s *Session) OpenHandleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openFiles) + len(s.openDirs)
}

// CloseAll releases every open handle, used when entering Closing.
func (s *Session) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.openFiles {
		_ = f.File.Close()
		delete(s.openFiles, id)
	}
	for id := range s.openDirs {
		delete(s.openDirs, id)
	}
}

// MarkClosed stops the idle timer from firing onIdle again and releases
// all handles; idempotent.
func (s *Session) MarkClosed() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.StopIdleTimer()
	s.CloseAll()
	s.SetState(Closed)
}
