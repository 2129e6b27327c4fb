package adminapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/listener"
	"github.com/filegate/filegate/internal/store"
)

func writeTestFile(dir, name string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte("hello"), 0o644)
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "filegate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	sup := listener.NewSupervisor(time.Second)
	srv := New(s, authz.New(s), sup, "", "", "test")
	return srv, s
}

func TestHandleListListeners(t *testing.T) {
	srv, s := newTestServer(t)
	_, err := s.CreateListener("l1", store.ProtocolFTP, "0.0.0.0", 2121, true)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/listeners", nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "l1", out[0]["Name"])
}

func TestHandleStartUnknownListenerConflicts(t *testing.T) {
	srv, s := newTestServer(t)
	l, err := s.CreateListener("l1", store.ProtocolFTP, "0.0.0.0", 2121, true)
	require.NoError(t, err)
	srv.Supervisor.Register(listener.New(*l, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/listeners/999/start", nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleListSessionsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null\n", w.Body.String())
}

func TestHandleDisconnectUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/nope/disconnect", nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.False(t, out["ok"])
}

func TestHandleListActivitiesFiltersByUsername(t *testing.T) {
	srv, s := newTestServer(t)
	s.LogActivity(store.ActivityRecord{Username: "alice", Action: "LOGIN", Success: true})
	s.LogActivity(store.ActivityRecord{Username: "bob", Action: "LOGIN", Success: true})
	time.Sleep(50 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/activities?username=alice", nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out []store.ActivityRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Username)
}

func TestHandleCreateUser(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(createUserRequest{Username: "alice", Password: "pw", PasswordEnabled: true})
	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestHandleCreateUserRejectsEmptyUsername(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(createUserRequest{Username: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleListFilesReturnsEntries(t *testing.T) {
	srv, s := newTestServer(t)
	u, err := s.CreateUser("alice", "pw", true, "", false)
	require.NoError(t, err)
	l, err := s.CreateListener("ftp1", store.ProtocolFTP, "0.0.0.0", 2121, true)
	require.NoError(t, err)
	require.NoError(t, s.Subscribe(u.ID, l.ID))
	require.NoError(t, s.SetListenerPermission(store.ListenerPermission{UserID: u.ID, ListenerID: l.ID, CanList: true}))

	root := t.TempDir()
	require.NoError(t, writeTestFile(root, "a.txt"))
	_, err = s.CreateVirtualPath(store.VirtualPath{
		UserID: u.ID, VirtualPath: "/", LocalPath: root, CanRead: true, CanList: true, ApplyToSubdirs: true,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/files?listenerId=%d&userId=%d", l.ID, u.ID), nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var out []fileInfoView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "a.txt", out[0].Name)
	assert.True(t, out[0].IsViewable)
}

func TestAuthMiddlewareRejectsWrongToken(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Token = "secret"

	req := httptest.NewRequest(http.MethodGet, "/api/listeners", nil)
	w := httptest.NewRecorder()
	srv.router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/listeners", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	w2 := httptest.NewRecorder()
	srv.router().ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}
