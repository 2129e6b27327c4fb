// Package ftpd implements the FTP listener's integration surface spec
// §4.4 requires: a github.com/fclairamb/ftpserverlib MainDriver whose
// ClientDriver is an afero.Fs-shaped adapter that consults
// internal/authz on every filesystem operation, exactly the same op
// table §4.2/§4.4 describe for SFTP — so activity records are
// shape-identical across both protocols.
package ftpd

import (
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/go-pkgz/lgr"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/store"
)

// Driver implements ftpserver.MainDriver for one FTP listener row.
type Driver struct {
	Store       *store.Store
	Authorizer  *authz.Authorizer
	Listener    store.Listener
	IdleTimeout time.Duration
	Banner      string

	mu       sync.Mutex
	sessions map[uint32]*session.Session
}

// NewDriver builds a Driver for one FTP listener.
func NewDriver(st *store.Store, az *authz.Authorizer, l store.Listener, idleTimeout time.Duration) *Driver {
	return &Driver{
		Store:       st,
		Authorizer:  az,
		Listener:    l,
		IdleTimeout: idleTimeout,
		Banner:      "filegate FTP",
		sessions:    make(map[uint32]*session.Session),
	}
}

// GetSettings implements ftpserver.MainDriver.
func (d *Driver) GetSettings() (*ftpserver.Settings, error) {
	return &ftpserver.Settings{
		ListenAddr:  fmt.Sprintf("%s:%d", d.Listener.BindingIP, d.Listener.Port),
		IdleTimeout: int(d.IdleTimeout.Seconds()),
		Banner:      d.Banner,
	}, nil
}

// ClientConnected implements ftpserver.MainDriver.
func (d *Driver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	sess := session.New(session.Info{
		ID:            uuid.NewString(),
		ListenerID:    d.Listener.ID,
		ListenerName:  d.Listener.Name,
		Protocol:      string(store.ProtocolFTP),
		RemoteAddress: cc.RemoteAddr().String(),
		ConnectedAt:   time.Now(),
	}, d.IdleTimeout, func() {
		d.Store.LogActivity(store.ActivityRecord{
			ListenerID: &d.Listener.ID, Action: "IDLE_TIMEOUT", Success: true,
		})
		_ = cc.Close()
	})
	sess.SetState(session.Authenticating)
	sess.StartIdleTimer()

	d.mu.Lock()
	d.sessions[cc.ID()] = sess
	d.mu.Unlock()

	return d.Banner, nil
}

// ClientDisconnected implements ftpserver.MainDriver.
func (d *Driver) ClientDisconnected(cc ftpserver.ClientContext) {
	d.mu.Lock()
	sess, ok := d.sessions[cc.ID()]
	delete(d.sessions, cc.ID())
	d.mu.Unlock()
	if !ok {
		return
	}
	username := sess.Username
	sess.MarkClosed()
	d.Store.LogActivity(store.ActivityRecord{
		ListenerID: &d.Listener.ID, Username: username, Action: "LOGOUT", Success: true,
	})
}

// AuthUser implements ftpserver.MainDriver. FTP offers only password
// authentication per spec §6.
func (d *Driver) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	if !d.Store.VerifyPassword(user, pass) {
		return nil, fmt.Errorf("authentication failed")
	}
	u, err := d.Store.GetUser(user)
	if err != nil {
		return nil, fmt.Errorf("authentication failed")
	}
	subscribed, err := d.Store.IsSubscribed(u.ID, d.Listener.ID)
	if err != nil || !subscribed {
		return nil, fmt.Errorf("authentication failed")
	}

	d.mu.Lock()
	sess, ok := d.sessions[cc.ID()]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no session for connection")
	}
	sess.Username = u.Username
	sess.SetState(session.Serving)

	lgr.Printf("[INFO] ftpd: user %s authenticated on listener %q", u.Username, d.Listener.Name)

	return &FS{
		driver:    d,
		principal: authz.Principal{UserID: u.ID, Username: u.Username},
		session:   sess,
	}, nil
}

// GetTLSConfig implements ftpserver.MainDriver. Plaintext FTP only, per
// spec §6.
func (d *Driver) GetTLSConfig() (*tls.Config, error) {
	return nil, nil
}

// ActiveSessions snapshots every connected session.
func (d *Driver) ActiveSessions() []session.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]session.Info, 0, len(d.sessions))
	for _, sess := range d.sessions {
		out = append(out, sess.Info)
	}
	return out
}

// DisconnectSession force-closes the session with the given ID.
func (d *Driver) DisconnectSession(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sess := range d.sessions {
		if sess.ID == id {
			sess.MarkClosed()
			return true
		}
	}
	return false
}

var _ afero.Fs = (*FS)(nil)
