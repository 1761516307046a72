package httpx

import (
	"net/http"
)

// healthResponse is the readiness body. The server is ready before the session resolves;
// SessionResolved lets health checks tell the two apart.
type healthResponse struct {
	Status          string `json:"status"`
	SessionResolved bool   `json:"session_resolved"`
}

// healthHandler answers readiness/liveness checks.
type healthHandler struct {
	session SessionState
}

func (h healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.session != nil {
		resp.SessionResolved = !h.session.Snapshot().Loading
	}
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}
