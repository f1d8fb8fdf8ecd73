package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/giantswarm/mcp-dispatch/internal/dispatch"
	"github.com/giantswarm/mcp-dispatch/internal/logging"
)

// API serves the JSON dispatch API under /v1.
type API struct {
	sc *ServerContext
}

// NewAPI creates the API for sc.
func NewAPI(sc *ServerContext) *API {
	return &API{sc: sc}
}

// errorResponse is the body of non-envelope API errors.
type errorResponse struct {
	Error string `json:"error"`
}

// CapabilitiesResponse lists the registered capabilities.
type CapabilitiesResponse struct {
	Capabilities []dispatch.Capability `json:"capabilities"`
}

// Register adds the API routes to mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/dispatch", a.handleDispatch)
	mux.HandleFunc("GET /v1/capabilities", a.handleCapabilities)
	mux.HandleFunc("GET /v1/sessions", a.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", a.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", a.handleDeleteSession)
}

// handleDispatch runs one request envelope. Structural problems with the
// envelope are answered with 400; every other outcome, failures included, is
// a result envelope with 200.
func (a *API) handleDispatch(w http.ResponseWriter, r *http.Request) {
	if a.sc.IsShutdown() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: ErrServerShutdown.Error()})
		return
	}

	var req dispatch.Request
	body := http.MaxBytesReader(w, r.Body, a.sc.Config().MaxRequestBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		}
		if errors.Is(err, io.EOF) {
			err = errors.New("empty request body")
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, dispatch.Failure(err))
		return
	}

	res := a.sc.Router().Dispatch(r.Context(), req)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, CapabilitiesResponse{Capabilities: a.sc.Registry().Capabilities()})
}

func (a *API) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.sc.Sessions().List()})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, ok := a.sc.Sessions().Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("session %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.sc.Sessions().Close(id) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("session %s not found", id)})
		return
	}
	a.sc.Logger().Info("Session closed via API", logging.SessionHash(id))
	w.WriteHeader(http.StatusNoContent)
}
