// Package runtime is the in-process server runtime: it owns the address
// space, the session table and the method dispatch table.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"plcserver/internal/addressspace"
	"plcserver/internal/methods"
	"plcserver/internal/tanksystem"
)

// SessionInfo describes an open session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Client    string    `json:"client"`
	CreatedAt time.Time `json:"created_at"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEndpoint sets the advertised endpoint url.
func WithEndpoint(endpoint string) Option {
	return func(s *Server) { s.endpoint = endpoint }
}

// Server dispatches calls against an address space.
type Server struct {
	space    *addressspace.AddressSpace
	table    *methods.Table
	logger   *slog.Logger
	endpoint string

	mu       sync.RWMutex
	sessions map[string]SessionInfo
}

// New constructs a server over space.
func New(space *addressspace.AddressSpace, opts ...Option) *Server {
	s := &Server{
		space:    space,
		table:    methods.NewTable(),
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		sessions: make(map[string]SessionInfo),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Space returns the shared address space.
func (s *Server) Space() *addressspace.AddressSpace { return s.space }

// Endpoint returns the advertised endpoint url.
func (s *Server) Endpoint() string { return s.endpoint }

// OpenSession creates a session for client.
func (s *Server) OpenSession(client string) SessionInfo {
	info := SessionInfo{ID: uuid.NewString(), Client: client, CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	s.sessions[info.ID] = info
	s.mu.Unlock()
	s.logger.Debug("session opened", "session", info.ID, "client", client)
	return info
}

// CloseSession removes a session; it reports whether the session existed.
func (s *Server) CloseSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Session looks up an open session.
func (s *Server) Session(id string) (SessionInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.sessions[id]
	return info, ok
}

// Sessions lists open sessions, oldest first.
func (s *Server) Sessions() []SessionInfo {
	s.mu.RLock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		out = append(out, info)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RegisterMethod binds a handler to a method node. The method must already
// exist as a component of object, and every variable the handler mirrors
// must exist.
func (s *Server) RegisterMethod(object, method addressspace.NodeID, h methods.Handler) error {
	m, err := s.space.Node(method)
	if err != nil {
		return fmt.Errorf("register %s: %w", h.Kind(), err)
	}
	if m.Class != addressspace.ClassMethod {
		return fmt.Errorf("register %s: %s is a %s: %w", h.Kind(), method, m.Class, addressspace.ErrWrongNodeClass)
	}
	if !isComponentOf(m, object) {
		return fmt.Errorf("register %s: %s is not a component of %s: %w", h.Kind(), method, object, addressspace.ErrNodeNotFound)
	}
	for _, id := range h.Nodes() {
		if _, err := s.space.ReadValue(id); err != nil {
			return fmt.Errorf("register %s: mirrored variable: %w", h.Kind(), err)
		}
	}
	if err := s.table.Register(object, method, h); err != nil {
		return fmt.Errorf("register %s: %w", h.Kind(), err)
	}
	s.logger.Debug("method registered", "method", h.Kind().String(), "node", method.String(), "object", object.String())
	return nil
}

// RegisterInstance registers both handlers of inst.
func (s *Server) RegisterInstance(deps methods.Deps, inst tanksystem.Instance) error {
	for _, b := range methods.InstanceBindings(deps, inst) {
		if err := s.RegisterMethod(b.Object, b.Method, b.Handler); err != nil {
			return fmt.Errorf("instance %s: %w", inst.Name, err)
		}
	}
	return nil
}

// Methods returns the registered method ids.
func (s *Server) Methods() []addressspace.NodeID { return s.table.Methods() }

// Call dispatches req for an open session. The outcome, failures included,
// is carried by the result status.
func (s *Server) Call(ctx context.Context, sessionID string, req methods.CallRequest) methods.CallResult {
	info, ok := s.Session(sessionID)
	if !ok {
		return methods.CallResult{Status: addressspace.StatusBadSessionIDInvalid}
	}
	h, object, ok := s.table.Lookup(req.MethodID)
	if !ok {
		return methods.CallResult{Status: s.unknownMethodStatus(req.MethodID)}
	}
	if !req.ObjectID.IsNull() && req.ObjectID != object {
		return methods.CallResult{Status: addressspace.StatusBadMethodInvalid}
	}
	res, err := h.Call(ctx, methods.Session{ID: info.ID, Client: info.Client}, req)
	if err != nil {
		status := addressspace.StatusOf(err)
		out := methods.CallResult{Status: status}
		if status == addressspace.StatusBadInvalidArgument && len(req.InputArguments) > 0 {
			out.InputArgumentResults = make([]addressspace.StatusCode, len(req.InputArguments))
			for i := range out.InputArgumentResults {
				out.InputArgumentResults[i] = addressspace.StatusBadInvalidArgument
			}
		}
		return out
	}
	return res
}

func (s *Server) unknownMethodStatus(id addressspace.NodeID) addressspace.StatusCode {
	if _, err := s.space.Node(id); err != nil {
		return addressspace.StatusBadNodeIDUnknown
	}
	return addressspace.StatusBadMethodInvalid
}

func isComponentOf(method addressspace.Node, object addressspace.NodeID) bool {
	for _, ref := range method.References {
		if !ref.Forward && ref.Type == addressspace.HasComponentID && ref.Target == object {
			return true
		}
	}
	return false
}
