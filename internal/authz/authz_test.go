package authz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegate/filegate/internal/store"
)

func newFixture(t *testing.T) (*store.Store, *Authorizer, store.User, store.Listener) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "filegate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	u, err := s.CreateUser("alice", "pw", true, "", false)
	require.NoError(t, err)
	l, err := s.CreateListener("L", store.ProtocolSFTP, "0.0.0.0", 2022, true)
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(u.ID, l.ID))

	return s, New(s), *u, *l
}

func TestDecideDeniesUnsubscribedUser(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "filegate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	u, err := s.CreateUser("bob", "pw", true, "", false)
	require.NoError(t, err)
	l, err := s.CreateListener("L", store.ProtocolSFTP, "0.0.0.0", 2022, true)
	require.NoError(t, err)

	a := New(s)
	_, err = a.Decide(Principal{UserID: u.ID}, l.ID, List, "/")
	authzErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNotSubscribed, authzErr.Kind)
}

func TestDecideDeniesNoMapping(t *testing.T) {
	s, a, u, l := newFixture(t)
	require.NoError(t, s.SetListenerPermission(store.ListenerPermission{
		UserID: u.ID, ListenerID: l.ID, CanList: true,
	}))

	_, err := a.Decide(Principal{UserID: u.ID}, l.ID, List, "/anything")
	authzErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNoMapping, authzErr.Kind)
}

func TestDecideAllowsReadWithinMappedRoot(t *testing.T) {
	s, a, u, l := newFixture(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hi"), 0o644))

	require.NoError(t, s.SetListenerPermission(store.ListenerPermission{
		UserID: u.ID, ListenerID: l.ID, CanList: true,
	}))
	_, err := s.CreateVirtualPath(store.VirtualPath{
		UserID: u.ID, VirtualPath: "/", LocalPath: root,
		CanRead: true, CanList: true, ApplyToSubdirs: true,
	})
	require.NoError(t, err)

	local, err := a.Decide(Principal{UserID: u.ID}, l.ID, OpenRead, "/a.txt")
	require.NoError(t, err)
	resolvedRoot, _ := filepath.EvalSymlinks(root)
	assert.Equal(t, filepath.Join(resolvedRoot, "a.txt"), local)
}

func TestDecideDeniesDotDotTraversalAsEscape(t *testing.T) {
	s, a, u, l := newFixture(t)
	root := t.TempDir()

	require.NoError(t, s.SetListenerPermission(store.ListenerPermission{
		UserID: u.ID, ListenerID: l.ID, CanList: true,
	}))
	_, err := s.CreateVirtualPath(store.VirtualPath{
		UserID: u.ID, VirtualPath: "/", LocalPath: root,
		CanRead: true, CanList: true, ApplyToSubdirs: true,
	})
	require.NoError(t, err)

	// "../../" components must walk past the virtual root and be denied
	// as an escape attempt, never silently re-rooted into root/etc/passwd.
	_, err = a.Decide(Principal{UserID: u.ID}, l.ID, OpenRead, "/../../etc/passwd")
	require.Error(t, err)
	aerr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindEscapeAttempt, aerr.Kind)
}

func TestDecideDeniesSymlinkEscape(t *testing.T) {
	s, a, u, l := newFixture(t)
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	require.NoError(t, s.SetListenerPermission(store.ListenerPermission{
		UserID: u.ID, ListenerID: l.ID, CanList: true,
	}))
	_, err := s.CreateVirtualPath(store.VirtualPath{
		UserID: u.ID, VirtualPath: "/", LocalPath: root,
		CanRead: true, CanList: true, ApplyToSubdirs: true,
	})
	require.NoError(t, err)

	_, err = a.Decide(Principal{UserID: u.ID}, l.ID, OpenRead, "/escape/secret.txt")
	authzErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindEscapeAttempt, authzErr.Kind)
}

func TestDecideApplyToSubdirsFalseDeniesNested(t *testing.T) {
	s, a, u, l := newFixture(t)
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "nested"), 0o755))

	require.NoError(t, s.SetListenerPermission(store.ListenerPermission{
		UserID: u.ID, ListenerID: l.ID, CanList: true,
	}))
	_, err := s.CreateVirtualPath(store.VirtualPath{
		UserID: u.ID, VirtualPath: "/restricted", LocalPath: root,
		CanList: true, ApplyToSubdirs: false,
	})
	require.NoError(t, err)

	_, err = a.Decide(Principal{UserID: u.ID}, l.ID, List, "/restricted")
	require.NoError(t, err)

	_, err = a.Decide(Principal{UserID: u.ID}, l.ID, List, "/restricted/nested")
	authzErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNoMapping, authzErr.Kind)
}

func TestDecideOpenWriteDistinguishesCreateFromEdit(t *testing.T) {
	s, a, u, l := newFixture(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "existing.txt"), []byte("x"), 0o644))

	require.NoError(t, s.SetListenerPermission(store.ListenerPermission{
		UserID: u.ID, ListenerID: l.ID, CanCreate: true, CanList: true,
	}))
	_, err := s.CreateVirtualPath(store.VirtualPath{
		UserID: u.ID, VirtualPath: "/", LocalPath: root,
		CanWrite: true, CanList: true, ApplyToSubdirs: true,
	})
	require.NoError(t, err)

	// new.txt doesn't exist: requires CanCreate, which is granted
	_, err = a.Decide(Principal{UserID: u.ID}, l.ID, OpenWrite, "/new.txt")
	require.NoError(t, err)

	// existing.txt does exist: requires CanEdit, which is NOT granted
	_, err = a.Decide(Principal{UserID: u.ID}, l.ID, OpenWrite, "/existing.txt")
	authzErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindPermissionDenied, authzErr.Kind)
}

func TestDecideRenameChecksBothSides(t *testing.T) {
	s, a, u, l := newFixture(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "old.txt"), []byte("x"), 0o644))

	require.NoError(t, s.SetListenerPermission(store.ListenerPermission{
		UserID: u.ID, ListenerID: l.ID, CanRename: true, CanCreate: true,
	}))
	_, err := s.CreateVirtualPath(store.VirtualPath{
		UserID: u.ID, VirtualPath: "/", LocalPath: root,
		CanRename: true, CanWrite: true, ApplyToSubdirs: true,
	})
	require.NoError(t, err)

	srcLocal, dstLocal, err := a.DecideRename(Principal{UserID: u.ID}, l.ID, "/old.txt", "/new.txt")
	require.NoError(t, err)
	assert.NotEqual(t, srcLocal, dstLocal)
}

func TestMatchVirtualPathPicksLongestPrefix(t *testing.T) {
	vps := []store.VirtualPath{
		{VirtualPath: "/", LocalPath: "/root"},
		{VirtualPath: "/home", LocalPath: "/home-local"},
		{VirtualPath: "/home/alice", LocalPath: "/home-alice-local"},
	}
	vp, ok := matchVirtualPath(vps, "/home/alice/docs/file.txt")
	require.True(t, ok)
	assert.Equal(t, "/home/alice", vp.VirtualPath)
}
