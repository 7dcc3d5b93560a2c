// Package gateway exposes the address space and the method table over
// HTTP/JSON.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"plcserver/internal/adapters/history"
	"plcserver/internal/addressspace"
	"plcserver/internal/blob"
	"plcserver/internal/methods"
	"plcserver/internal/runtime"
)

const apiPrefix = "/api/v1"

// Archiver runs and lists history archives.
type Archiver interface {
	Archive(ctx context.Context) (history.Result, error)
	List(ctx context.Context) ([]blob.Info, error)
}

// Handler serves the JSON API. Archive may be nil.
type Handler struct {
	Server  *runtime.Server
	Archive Archiver
	Logger  *slog.Logger
}

// NewHandler constructs a gateway for srv.
func NewHandler(srv *runtime.Server, archive Archiver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Server: srv, Archive: archive, Logger: logger}
}

// CallBody is the request body of POST /api/v1/call.
type CallBody struct {
	SessionID      string              `json:"session_id"`
	ObjectID       addressspace.NodeID `json:"object_id"`
	MethodID       addressspace.NodeID `json:"method_id"`
	InputArguments []Argument          `json:"input_arguments"`
}

// Argument is one call input. An element that does not decode as a
// supported variant becomes Null, so the method answers BadInvalidArgument
// instead of the request failing as a whole.
type Argument struct {
	addressspace.Variant
}

// UnmarshalJSON never fails.
func (a *Argument) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &a.Variant); err != nil {
		a.Variant = addressspace.Variant{}
	}
	return nil
}

func variants(args []Argument) []addressspace.Variant {
	if len(args) == 0 {
		return nil
	}
	out := make([]addressspace.Variant, len(args))
	for i, a := range args {
		out[i] = a.Variant
	}
	return out
}

type sessionBody struct {
	Client string `json:"client"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Server == nil {
		writeError(w, http.StatusInternalServerError, "server runtime not configured")
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/healthz":
		h.handleHealth(w, r)
	case path == apiPrefix+"/namespaces":
		if !allow(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"namespaces": h.Server.Space().Namespaces()})
	case strings.HasPrefix(path, apiPrefix+"/nodes/"):
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.handleNode(w, strings.TrimPrefix(path, apiPrefix+"/nodes/"))
	case path == apiPrefix+"/browse":
		if !allow(w, r, http.MethodGet) {
			return
		}
		h.handleBrowse(w, r)
	case path == apiPrefix+"/sessions" || strings.HasPrefix(path, apiPrefix+"/sessions/"):
		h.handleSessions(w, r, strings.TrimPrefix(strings.TrimPrefix(path, apiPrefix+"/sessions"), "/"))
	case path == apiPrefix+"/call":
		if !allow(w, r, http.MethodPost) {
			return
		}
		h.handleCall(w, r)
	case path == apiPrefix+"/archive":
		h.handleArchive(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"endpoint": h.Server.Endpoint(),
		"sessions": len(h.Server.Sessions()),
		"methods":  len(h.Server.Methods()),
	})
}

// handleNode serves /nodes/{id} and /nodes/{id}/references. The id is the
// text form, e.g. ns=1;i=5, optionally path escaped.
func (h *Handler) handleNode(w http.ResponseWriter, remainder string) {
	raw, refs := strings.CutSuffix(remainder, "/references")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	id, err := addressspace.ParseNodeID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if refs {
		out, err := h.Server.Space().Browse(id)
		if err != nil {
			writeStatusError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"node": id, "references": out})
		return
	}
	node, err := h.Server.Space().Node(id)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": node})
}

// handleBrowse resolves ?path=1:tankSystem1/1:Threshold from ?start, which
// defaults to the Objects folder.
func (h *Handler) handleBrowse(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start := addressspace.ObjectsFolderID
	if s := q.Get("start"); s != "" {
		id, err := addressspace.ParseNodeID(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		start = id
	}
	var path []addressspace.QualifiedName
	for _, seg := range strings.Split(strings.Trim(q.Get("path"), "/"), "/") {
		if seg == "" {
			continue
		}
		qn, err := addressspace.ParseQualifiedName(seg)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		path = append(path, qn)
	}
	id, err := h.Server.Space().TranslateBrowsePath(start, path...)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	node, err := h.Server.Space().Node(id)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"node": node})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request, id string) {
	switch {
	case id == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"sessions": h.Server.Sessions()})
	case id == "" && r.Method == http.MethodPost:
		var body sessionBody
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid session payload")
				return
			}
		}
		if body.Client == "" {
			body.Client = r.RemoteAddr
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session": h.Server.OpenSession(body.Client)})
	case id != "" && r.Method == http.MethodDelete:
		if !h.Server.CloseSession(id) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCall always answers 200 once the body parses; the call outcome is the
// status inside the result.
func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	var body CallBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid call payload: "+err.Error())
		return
	}
	if body.SessionID == "" {
		body.SessionID = r.Header.Get("X-Session-ID")
	}
	res := h.Server.Call(r.Context(), body.SessionID, methods.CallRequest{
		ObjectID:       body.ObjectID,
		MethodID:       body.MethodID,
		InputArguments: variants(body.InputArguments),
	})
	writeJSON(w, http.StatusOK, map[string]any{"result": res})
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		writeError(w, http.StatusNotFound, "history archive not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		objects, err := h.Archive.List(r.Context())
		if err != nil {
			h.Logger.Error("list archives failed", "error", err)
			writeError(w, http.StatusInternalServerError, "list archives failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"archives": objects})
	case http.MethodPost:
		res, err := h.Archive.Archive(r.Context())
		if errors.Is(err, blob.ErrExists) {
			writeError(w, http.StatusConflict, "an archive for this instant already exists")
			return
		}
		if err != nil {
			h.Logger.Error("archive failed", "error", err)
			writeError(w, http.StatusInternalServerError, "archive failed")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"archive": res})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func writeStatusError(w http.ResponseWriter, err error) {
	status := addressspace.StatusOf(err)
	code := http.StatusInternalServerError
	switch status {
	case addressspace.StatusBadNodeIDUnknown:
		code = http.StatusNotFound
	case addressspace.StatusBadNodeClassInvalid, addressspace.StatusBadTypeMismatch:
		code = http.StatusBadRequest
	}
	writeJSON(w, code, map[string]any{"error": err.Error(), "status": status})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
