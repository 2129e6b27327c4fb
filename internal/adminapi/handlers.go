package adminapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path"
	"strconv"

	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// GET /api/listeners
func (s *Server) handleListListeners(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.ListListeners()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type listenerView struct {
		store.Listener
		Running bool `json:"running"`
	}
	out := make([]listenerView, 0, len(rows))
	for _, row := range rows {
		out = append(out, listenerView{Listener: row, Running: s.Supervisor.IsRunning(row.ID)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartListener(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listener id")
		return
	}
	if err := s.Supervisor.StartListener(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStopListener(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listener id")
		return
	}
	if err := s.Supervisor.StopListener(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRestartListener(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid listener id")
		return
	}
	if err := s.Supervisor.RestartListener(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /api/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Supervisor.ActiveSessions())
}

func (s *Server) handleDisconnectSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": s.Supervisor.DisconnectSession(id)})
}

// GET /api/activities?listenerId=&username=&limit=
func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	filter := store.ActivityFilter{Username: r.URL.Query().Get("username")}
	if v := r.URL.Query().Get("listenerId"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			filter.ListenerID = &id
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	rows, err := s.Store.ListActivities(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// GET /api/users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Store.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type createUserRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	PasswordEnabled bool   `json:"passwordEnabled"`
	PublicKey       string `json:"publicKey"`
	GUIEnabled      bool   `json:"guiEnabled"`
}

// POST /api/users
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	u, err := s.Store.CreateUser(req.Username, req.Password, req.PasswordEnabled, req.PublicKey, req.GUIEnabled)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GET /api/files?vp=&listenerId=&userId=
// Lists one directory's entries through the Authorizer, the JSON
// equivalent of the teacher's directory-listing page.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vp := q.Get("vp")
	if vp == "" {
		vp = "/"
	}
	listenerID, ok := parseUintQuery(q.Get("listenerId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "listenerId is required")
		return
	}
	userID, ok := parseUintQuery(q.Get("userId"))
	if !ok {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	localPath, err := s.Authorizer.Decide(authz.Principal{UserID: userID}, listenerID, authz.List, vp)
	if err != nil {
		if aerr, ok := authz.AsError(err); ok {
			writeError(w, aerr.Kind.ToFTPStatus(), aerr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries, err := os.ReadDir(localPath)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	out := make([]fileInfoView, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, newFileInfoView(path.Join(vp, e.Name()), info))
	}
	writeJSON(w, http.StatusOK, out)
}
