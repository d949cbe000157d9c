package relay

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tetherdev/tether/internal/auth"
	"github.com/tetherdev/tether/internal/logger"
	"github.com/tetherdev/tether/internal/syncq"
)

type syncRequest struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Operation   string `json:"operation"` // "sync" | "delete"
	Content     string `json:"content,omitempty"`
}

type initialSyncRequest struct {
	Source       string `json:"source"`
	Destination  string `json:"destination"`
	DeleteExtras bool   `json:"delete_extras,omitempty"`
}

type syncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// handleSync applies a single file operation. Order matters: auth before
// any validation, validation before any remote call.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	dest, err := resolveWithinRoot(s.cfg.RemoteRoot, req.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var op syncq.Operation
	switch req.Operation {
	case "sync", "":
		content, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid base64 content: "+err.Error())
			return
		}
		op = syncq.NewUpsert(req.Source, dest, content)
	case "delete":
		op = syncq.NewDelete(req.Source, dest)
	default:
		writeError(w, http.StatusBadRequest, "unknown operation: "+req.Operation)
		return
	}

	if err := s.executor.Apply(r.Context(), op); err != nil {
		logger.Error("sync apply failed", "path", dest, "kind", op.Kind, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	logger.Debug("synced", "path", dest, "kind", op.Kind)
	writeJSON(w, http.StatusOK, syncResponse{Success: true, Message: string(op.Kind) + " applied to " + dest})
}

// handleInitialSync mirrors a whole subtree in one recursive copy.
// Delete-on-mirror needs both the server opt-in and the request flag.
func (s *Server) handleInitialSync(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticate(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req initialSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	dest, err := resolveWithinRoot(s.cfg.RemoteRoot, req.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleteExtras := req.DeleteExtras && s.cfg.MirrorDelete
	if req.DeleteExtras && !s.cfg.MirrorDelete {
		writeError(w, http.StatusBadRequest, "delete_extras is not enabled on this relay")
		return
	}

	if err := s.executor.Mirror(r.Context(), req.Source, dest, deleteExtras); err != nil {
		logger.Error("initial sync failed", "src", req.Source, "dst", dest, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	logger.Info("initial sync complete", "src", req.Source, "dst", dest, "delete_extras", deleteExtras)
	writeJSON(w, http.StatusOK, syncResponse{Success: true, Message: "mirrored " + req.Source + " to " + dest})
}

// handleHealth is a liveness probe, independent of workstation reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authenticate validates the bearer token on an HTTP request.
func (s *Server) authenticate(r *http.Request) (auth.Claims, error) {
	token := bearerToken(r)
	return s.guard.Verify(r.Context(), token, s.cfg.Audience)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
