package ftpd

import (
	"context"
	"fmt"
	"sync"
	"time"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"github.com/go-pkgz/lgr"

	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/store"
)

// Server owns one FTP listener's ftpserverlib.FtpServer instance, giving
// it the same Run/Shutdown/ActiveSessions/DisconnectSession shape
// internal/sftpd.Server exposes so internal/listener can treat both
// protocols identically.
type Server struct {
	driver *Driver

	mu  sync.Mutex
	srv *ftpserver.FtpServer
}

// New builds a Server for one FTP listener row.
func New(st *store.Store, az *authz.Authorizer, l store.Listener, idleTimeout time.Duration) *Server {
	return &Server{driver: NewDriver(st, az, l, idleTimeout)}
}

// Run starts accepting FTP connections and blocks until ctx is cancelled
// or the listener fails fatally.
func (s *Server) Run(ctx context.Context) error {
	srv := ftpserver.NewFtpServer(s.driver)
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	lgr.Printf("[INFO] ftp listener %q serving on %s:%d", s.driver.Listener.Name, s.driver.Listener.BindingIP, s.driver.Listener.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		srv.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ftpd: serve: %w", err)
		}
		return nil
	}
}

// Shutdown stops the underlying FtpServer, closing every active session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveSessions snapshots every connected session.
func (s *Server) ActiveSessions() []session.Info {
	return s.driver.ActiveSessions()
}

// DisconnectSession force-closes the session with the given ID.
func (s *Server) DisconnectSession(id string) bool {
	return s.driver.DisconnectSession(id)
}
