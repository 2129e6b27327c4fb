package ftpd

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/store"
)

// fakeClientContext is the minimal ftpserver.ClientContext stand-in needed
// to exercise Driver without a real TCP connection.
type fakeClientContext struct {
	id   uint32
	addr net.Addr
}

func (f *fakeClientContext) Path() string               { return "/" }
func (f *fakeClientContext) SetDebug(bool)               {}
func (f *fakeClientContext) Debug() bool                 { return false }
func (f *fakeClientContext) ID() uint32                  { return f.id }
func (f *fakeClientContext) RemoteAddr() net.Addr        { return f.addr }
func (f *fakeClientContext) LocalAddr() net.Addr         { return f.addr }
func (f *fakeClientContext) GetClientVersion() string    { return "test" }
func (f *fakeClientContext) Close() error                { return nil }
func (f *fakeClientContext) HasTLSForControl() bool      { return false }
func (f *fakeClientContext) HasTLSForTransfers() bool    { return false }
func (f *fakeClientContext) GetLastCommand() string      { return "" }

func newDriverFixture(t *testing.T) (*Driver, *store.Store, store.User, store.Listener) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "filegate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	u, err := s.CreateUser("alice", "pw", true, "", false)
	require.NoError(t, err)
	l, err := s.CreateListener("ftp1", store.ProtocolFTP, "0.0.0.0", 2121, true)
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(u.ID, l.ID))

	az := authz.New(s)
	d := NewDriver(s, az, *l, time.Minute)
	return d, s, *u, *l
}

func newFakeAddr() net.Addr {
	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:12345")
	return addr
}

func TestDriverClientConnectedRegistersSession(t *testing.T) {
	d, _, _, _ := newDriverFixture(t)
	cc := &fakeClientContext{id: 1, addr: newFakeAddr()}

	banner, err := d.ClientConnected(cc)
	require.NoError(t, err)
	assert.Equal(t, d.Banner, banner)
	assert.Len(t, d.ActiveSessions(), 1)
}

func TestDriverAuthUserRejectsUnsubscribedUser(t *testing.T) {
	d, s, _, l := newDriverFixture(t)
	other, err := s.CreateUser("bob", "pw", true, "", false)
	require.NoError(t, err)
	_ = other
	_ = l

	cc := &fakeClientContext{id: 2, addr: newFakeAddr()}
	_, err = d.ClientConnected(cc)
	require.NoError(t, err)

	_, err = d.AuthUser(cc, "bob", "pw")
	assert.Error(t, err)
}

func TestDriverAuthUserAcceptsSubscribedUser(t *testing.T) {
	d, _, u, _ := newDriverFixture(t)
	cc := &fakeClientContext{id: 3, addr: newFakeAddr()}
	_, err := d.ClientConnected(cc)
	require.NoError(t, err)

	fs, err := d.AuthUser(cc, u.Username, "pw")
	require.NoError(t, err)
	assert.NotNil(t, fs)
}

func TestDriverClientDisconnectedRemovesSession(t *testing.T) {
	d, _, u, _ := newDriverFixture(t)
	cc := &fakeClientContext{id: 4, addr: newFakeAddr()}
	_, err := d.ClientConnected(cc)
	require.NoError(t, err)
	_, err = d.AuthUser(cc, u.Username, "pw")
	require.NoError(t, err)

	d.ClientDisconnected(cc)
	assert.Empty(t, d.ActiveSessions())
}

func TestDriverDisconnectSessionByID(t *testing.T) {
	d, _, u, _ := newDriverFixture(t)
	cc := &fakeClientContext{id: 5, addr: newFakeAddr()}
	_, err := d.ClientConnected(cc)
	require.NoError(t, err)
	_, err = d.AuthUser(cc, u.Username, "pw")
	require.NoError(t, err)

	sessions := d.ActiveSessions()
	require.Len(t, sessions, 1)
	assert.True(t, d.DisconnectSession(sessions[0].ID))
	assert.False(t, d.DisconnectSession("nonexistent"))
}

func TestDriverGetTLSConfigReturnsNil(t *testing.T) {
	d, _, _, _ := newDriverFixture(t)
	cfg, err := d.GetTLSConfig()
	assert.NoError(t, err)
	assert.Nil(t, cfg)
}
