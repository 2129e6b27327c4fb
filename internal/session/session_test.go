package session

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirIteratorPaginatesAndTerminates(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a.txt", "b.txt", "sub"}
	for _, n := range names[:2] {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	it, err := NewDirIterator(dir)
	require.NoError(t, err)

	batch, err := it.Next(100)
	require.NoError(t, err)
	assert.Len(t, batch, 3)

	batch, err = it.Next(100)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, batch)
}

func TestDirIteratorBatchesLargeDirectories(t *testing.T) {
	dir := t.TempDir()
	const n = 10000
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f"+itoa(i)), nil, 0o644))
	}

	it, err := NewDirIterator(dir)
	require.NoError(t, err)

	calls := 0
	total := 0
	for {
		batch, err := it.Next(100)
		calls++
		total += len(batch)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, n, total)
	assert.LessOrEqual(t, calls, n/100+1)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

func TestHandleRegistryCloseCounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)

	s := New(Info{ID: "sess-1"}, time.Minute, nil)
	id := s.RegisterFile(path, f, false)
	assert.Equal(t, 1, s.OpenHandleCount())

	got, ok := s.File(id)
	require.True(t, ok)
	assert.Equal(t, path, got.LocalPath)

	require.NoError(t, s.CloseHandle(id))
	assert.Equal(t, 0, s.OpenHandleCount())

	// closing an already-closed (unknown) handle is a structural no-op
	require.NoError(t, s.CloseHandle(id))
}

func TestIdleTimerFiresOnIdle(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := New(Info{ID: "sess-2"}, 20*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	s.StartIdleTimer()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("idle callback never fired")
	}
}

func TestIdleTimerResetPostponesFiring(t *testing.T) {
	fired := make(chan struct{}, 1)
	s := New(Info{ID: "sess-3"}, 60*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	s.StartIdleTimer()

	time.Sleep(30 * time.Millisecond)
	s.ResetIdleTimer()

	select {
	case <-fired:
		t.Fatal("idle callback fired despite reset")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMarkClosedReleasesAllHandles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))
	f, err := os.Open(path)
	require.NoError(t, err)

	s := New(Info{ID: "sess-4"}, time.Minute, nil)
	s.RegisterFile(path, f, false)
	it, err := NewDirIterator(dir)
	require.NoError(t, err)
	s.RegisterDir(it)

	assert.Equal(t, 2, s.OpenHandleCount())
	s.MarkClosed()
	assert.Equal(t, 0, s.OpenHandleCount())
	assert.Equal(t, Closed, s.State())

	// idempotent
	s.MarkClosed()
}
