// Package adminapi implements the JSON HTTP surface the desktop GUI talks
// to: listener start/stop/restart, session enumeration/disconnect,
// activity log queries, user management and a read-only file preview.
// It reuses the exact middleware stack umputun/weblist/server.Web.router
// assembles for its HTML file browser, redirected at a JSON API instead.
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/listener"
	"github.com/filegate/filegate/internal/store"
)

// Server is the admin HTTP API bound to one Store/Supervisor pair.
type Server struct {
	Store      *store.Store
	Authorizer *authz.Authorizer
	Supervisor *listener.Supervisor
	Listen     string
	Token      string
	Version    string

	srv *http.Server
}

// New builds a Server. listen is the bind address; "" disables the HTTP
// server, and Run then only waits for its context to be cancelled.
func New(st *store.Store, az *authz.Authorizer, sup *listener.Supervisor, listen, token, version string) *Server {
	return &Server{Store: st, Authorizer: az, Supervisor: sup, Listen: listen, Token: token, Version: version}
}

// router assembles the middleware chain and routes.
func (s *Server) router() http.Handler {
	mux := http.NewServeMux()
	rg := routegroup.New(mux)

	rg.Use(rest.Trace, rest.RealIP, rest.Recoverer(lgr.Default()))
	rg.Use(rest.Throttle(1000))
	rg.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(50, nil)))
	rg.Use(rest.SizeLimit(1024 * 1024))
	rg.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	rg.Use(rest.AppInfo("filegate", "filegate", s.Version), rest.Ping)

	mutatingLimiter := tollbooth.NewLimiter(5, nil)
	mutatingLimiter.SetBurst(5)
	mutatingLimiter.SetMessage(`{"error":"too many requests"}`)

	if s.Token != "" {
		rg.Use(s.authMiddleware)
	}

	rg.HandleFunc("GET /api/listeners", s.handleListListeners)
	rg.HandleFunc("POST /api/listeners/{id}/start", s.withLimiter(mutatingLimiter, s.handleStartListener))
	rg.HandleFunc("POST /api/listeners/{id}/stop", s.withLimiter(mutatingLimiter, s.handleStopListener))
	rg.HandleFunc("POST /api/listeners/{id}/restart", s.withLimiter(mutatingLimiter, s.handleRestartListener))

	rg.HandleFunc("GET /api/sessions", s.handleListSessions)
	rg.HandleFunc("POST /api/sessions/{id}/disconnect", s.withLimiter(mutatingLimiter, s.handleDisconnectSession))

	rg.HandleFunc("GET /api/activities", s.handleListActivities)

	rg.HandleFunc("GET /api/users", s.handleListUsers)
	rg.HandleFunc("POST /api/users", s.withLimiter(mutatingLimiter, s.handleCreateUser))

	rg.HandleFunc("GET /api/preview", s.handlePreview)
	rg.HandleFunc("GET /api/files", s.handleListFiles)

	return rg
}

func (s *Server) withLimiter(l *tollbooth.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tollbooth.LimitFuncHandler(l, next).ServeHTTP(w, r)
	}
}

// Run starts the admin HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.Listen == "" {
		<-ctx.Done()
		return nil
	}

	s.srv = &http.Server{
		Addr:              s.Listen,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lgr.Printf("[INFO] admin API listening on %s", s.Listen)

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("adminapi: serve: %w", err)
		}
		return nil
	}
}
