package handlers

import (
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/git"
	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/middleware"
	"github.com/ccm-sh/ccm/internal/models"
	"github.com/ccm-sh/ccm/internal/services"
)

// Frame is the wire format in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type sessionStartPayload struct {
	WorktreeID   string `json:"worktreeId"`
	WorktreePath string `json:"worktreePath"`
}

type sessionSendPayload struct {
	SID  string `json:"sid"`
	Text string `json:"text"`
}

type sessionKeyPayload struct {
	SID string `json:"sid"`
	Key string `json:"key"`
}

type worktreeCreatePayload struct {
	RepoPath   string `json:"repoPath"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"baseBranch"`
}

type worktreeDeletePayload struct {
	RepoPath     string `json:"repoPath"`
	WorktreePath string `json:"worktreePath"`
}

type pathPayload struct {
	Path string `json:"path"`
}

type scanPayload struct {
	BasePath string `json:"basePath"`
	MaxDepth int    `json:"maxDepth"`
}

type authPayload struct {
	Token string `json:"token"`
}

// RepoState is the mutable "which repository are we looking at" slice of
// server state, shared by every socket client.
type RepoState struct {
	mu        sync.RWMutex
	current   string
	allowList []string
}

// NewRepoState seeds the state with the launcher's allow-list. The first
// entry becomes the initially selected repository.
func NewRepoState(allowList []string) *RepoState {
	s := &RepoState{allowList: allowList}
	if len(allowList) > 0 {
		s.current = allowList[0]
	}
	return s
}

// Current returns the selected repository path, or "".
func (s *RepoState) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// AllowList returns a copy of the allow-list.
func (s *RepoState) AllowList() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.allowList...)
}

// Permitted reports whether path may be selected. An empty allow-list
// permits everything.
func (s *RepoState) Permitted(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.allowList) == 0 {
		return true
	}
	for _, p := range s.allowList {
		if p == path {
			return true
		}
	}
	return false
}

// Select sets the current repository.
func (s *RepoState) Select(path string) {
	s.mu.Lock()
	s.current = path
	s.mu.Unlock()
}

// SocketHandler multiplexes the browser protocol over one WebSocket per
// client: inbound command frames dispatch into the services, outbound
// frames are the shared event bus fanned out per connection.
type SocketHandler struct {
	orchestrator *services.Orchestrator
	worktrees    *git.Service
	scanner      *git.Scanner
	tunnel       *services.TunnelService
	ports        *PortsHandler
	repos        *RepoState
	bus          *events.Bus
	gate         *middleware.AuthGate
}

// NewSocketHandler wires the dispatcher.
func NewSocketHandler(
	orchestrator *services.Orchestrator,
	worktrees *git.Service,
	scanner *git.Scanner,
	tunnel *services.TunnelService,
	ports *PortsHandler,
	repos *RepoState,
	bus *events.Bus,
	gate *middleware.AuthGate,
) *SocketHandler {
	return &SocketHandler{
		orchestrator: orchestrator,
		worktrees:    worktrees,
		scanner:      scanner,
		tunnel:       tunnel,
		ports:        ports,
		repos:        repos,
		bus:          bus,
		gate:         gate,
	}
}

// Upgrade verifies the handshake before fiber switches protocols. A
// remote client without a query token may still authenticate with its
// first frame, so the decision is deferred into the connection handler
// via a local.
func (h *SocketHandler) Upgrade(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals("authenticated", h.gate.AllowHandshake(c))
	return c.Next()
}

// Handle is the per-connection loop.
func (h *SocketHandler) Handle() fiber.Handler {
	return fiberws.New(func(conn *fiberws.Conn) {
		authenticated, _ := conn.Locals("authenticated").(bool)
		if !authenticated {
			if !h.awaitFirstFrameAuth(conn) {
				_ = conn.Close()
				return
			}
		}

		sub := h.bus.Subscribe()
		defer h.bus.Unsubscribe(sub.ID)

		out := make(chan Frame, 64)
		done := make(chan struct{})

		// Single writer: bus events and direct replies share one channel
		// so frames never interleave mid-write.
		go func() {
			for {
				select {
				case frame, ok := <-out:
					if !ok {
						return
					}
					if err := conn.WriteJSON(frame); err != nil {
						return
					}
				case ev, ok := <-sub.C:
					if !ok {
						return
					}
					if err := conn.WriteJSON(eventFrame(ev)); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		h.pushInitialState(out)

		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				break
			}
			h.dispatch(frame, out)
		}
		close(done)
	})
}

// awaitFirstFrameAuth reads exactly one frame and requires it to be an
// auth frame carrying the startup token.
func (h *SocketHandler) awaitFirstFrameAuth(conn *fiberws.Conn) bool {
	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return false
	}
	if frame.Event != "auth" {
		return false
	}
	var payload authPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return false
	}
	if !h.gate.TokenMatches(payload.Token) {
		logger.Warnf("Socket handshake rejected: bad token")
		return false
	}
	return true
}

func eventFrame(ev events.Event) Frame {
	payload, _ := json.Marshal(ev.Payload)
	return Frame{Event: string(ev.Type), Payload: payload}
}

func reply(out chan<- Frame, event events.EventType, payload any) {
	raw, _ := json.Marshal(payload)
	select {
	case out <- Frame{Event: string(event), Payload: raw}:
	default:
		logger.Warn("Socket reply dropped: client write queue full")
	}
}

func errorPayload(err error) map[string]string {
	return map[string]string{
		"kind":    string(models.KindOf(err)),
		"message": models.MessageOf(err),
	}
}

// pushInitialState sends what a fresh client needs before its first
// command: the repository allow-list, the current selection with its
// worktrees, and every live session.
func (h *SocketHandler) pushInitialState(out chan<- Frame) {
	reply(out, events.ReposList, map[string]any{"repos": h.repos.AllowList()})

	if current := h.repos.Current(); current != "" {
		reply(out, events.RepoSet, pathPayload{Path: current})
		if list, err := h.worktrees.ListWorktrees(current); err == nil {
			reply(out, events.WorktreeList, map[string]any{"worktrees": list})
		}
	}

	for _, session := range h.orchestrator.All() {
		s := session
		reply(out, events.SessionUpdated, &s)
	}
}

func (h *SocketHandler) dispatch(frame Frame, out chan<- Frame) {
	switch frame.Event {
	case "auth":
		// Already authenticated; ignore repeats

	case "repo:select":
		var p pathPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.RepoError, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed repo:select payload")))
			return
		}
		h.repoSelect(p.Path, out)

	case "repo:scan":
		var p scanPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.RepoError, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed repo:scan payload")))
			return
		}
		go h.repoScan(p, out)

	case "worktree:list":
		var p pathPayload
		_ = json.Unmarshal(frame.Payload, &p)
		h.worktreeList(p.Path, out)

	case "worktree:create":
		var p worktreeCreatePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.WorktreeError, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed worktree:create payload")))
			return
		}
		h.worktreeCreate(p, out)

	case "worktree:delete":
		var p worktreeDeletePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.WorktreeError, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed worktree:delete payload")))
			return
		}
		h.worktreeDelete(p, out)

	case "session:start":
		var p sessionStartPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.SessionError, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed session:start payload")))
			return
		}
		if _, err := h.orchestrator.Start(p.WorktreeID, p.WorktreePath); err != nil {
			reply(out, events.SessionError, errorPayload(err))
		}

	case "session:restore":
		var p pathPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.SessionRestoreFailed, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed session:restore payload")))
			return
		}
		session, err := h.orchestrator.Restore(p.Path)
		if err != nil {
			reply(out, events.SessionRestoreFailed, errorPayload(err))
		} else if session == nil {
			reply(out, events.SessionRestoreFailed, errorPayload(models.Errorf(models.ErrNotFound, "no session for worktree %s", p.Path)))
		}

	case "session:send":
		var p sessionSendPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.SessionError, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed session:send payload")))
			return
		}
		if err := h.orchestrator.Send(p.SID, p.Text); err != nil {
			reply(out, events.SessionError, errorPayload(err))
		}

	case "session:key":
		var p sessionKeyPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.SessionError, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed session:key payload")))
			return
		}
		if err := h.orchestrator.SendKey(p.SID, p.Key); err != nil {
			reply(out, events.SessionError, errorPayload(err))
		}

	case "session:stop":
		var p struct {
			SID string `json:"sid"`
		}
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			reply(out, events.SessionError, errorPayload(models.Errorf(models.ErrInvalidArgument, "malformed session:stop payload")))
			return
		}
		if err := h.orchestrator.Stop(p.SID); err != nil {
			reply(out, events.SessionError, errorPayload(err))
		}

	case "tunnel:start":
		go func() {
			if _, err := h.tunnel.Start(); err != nil {
				h.bus.Publish(events.TunnelError, errorPayload(err))
			}
		}()

	case "tunnel:stop":
		h.tunnel.Stop()

	case "ports:scan":
		reply(out, events.PortsList, h.ports.Snapshot())

	default:
		logger.Debugf("Ignoring unknown socket command %q", frame.Event)
	}
}

func (h *SocketHandler) repoSelect(path string, out chan<- Frame) {
	if !h.repos.Permitted(path) {
		reply(out, events.RepoError, errorPayload(models.Errorf(models.ErrUnauthorized, "repository %s is not in the allow-list", path)))
		return
	}
	if !h.worktrees.IsRepo(path) {
		reply(out, events.RepoError, errorPayload(models.Errorf(models.ErrInvalidArgument, "%s is not a git repository", path)))
		return
	}

	h.repos.Select(path)
	h.bus.Publish(events.RepoSet, pathPayload{Path: path})
	h.worktreeList(path, out)
}

func (h *SocketHandler) repoScan(p scanPayload, out chan<- Frame) {
	h.bus.Publish(events.ReposScanning, map[string]string{"phase": "start", "basePath": p.BasePath})

	repos, err := h.scanner.ScanRepos(p.BasePath, p.MaxDepth)
	if err != nil {
		h.bus.Publish(events.RepoError, errorPayload(err))
		h.bus.Publish(events.ReposScanning, map[string]string{"phase": "complete", "basePath": p.BasePath})
		return
	}

	h.bus.Publish(events.ReposScanned, map[string]any{"repos": repos})
	h.bus.Publish(events.ReposScanning, map[string]string{"phase": "complete", "basePath": p.BasePath})
}

func (h *SocketHandler) worktreeList(repoPath string, out chan<- Frame) {
	if repoPath == "" {
		repoPath = h.repos.Current()
	}
	if repoPath == "" {
		reply(out, events.WorktreeError, errorPayload(models.Errorf(models.ErrInvalidArgument, "no repository selected")))
		return
	}
	list, err := h.worktrees.ListWorktrees(repoPath)
	if err != nil {
		reply(out, events.WorktreeError, errorPayload(err))
		return
	}
	h.bus.Publish(events.WorktreeList, map[string]any{"worktrees": list})
}

func (h *SocketHandler) worktreeCreate(p worktreeCreatePayload, out chan<- Frame) {
	repoPath := p.RepoPath
	if repoPath == "" {
		repoPath = h.repos.Current()
	}
	wt, err := h.worktrees.CreateWorktree(repoPath, p.Branch, p.BaseBranch)
	if err != nil {
		reply(out, events.WorktreeError, errorPayload(err))
		return
	}
	h.bus.Publish(events.WorktreeCreated, wt)
	h.worktreeList(repoPath, out)
}

func (h *SocketHandler) worktreeDelete(p worktreeDeletePayload, out chan<- Frame) {
	repoPath := p.RepoPath
	if repoPath == "" {
		repoPath = h.repos.Current()
	}

	// Any session bound to the worktree goes away with it: the window is
	// stopped and the registry row deleted before the directory vanishes.
	if session, ok := h.orchestrator.GetByWorktree(p.WorktreePath); ok {
		if err := h.orchestrator.Remove(session.ID); err != nil {
			reply(out, events.WorktreeError, errorPayload(err))
			return
		}
	}

	if err := h.worktrees.DeleteWorktree(repoPath, p.WorktreePath); err != nil {
		reply(out, events.WorktreeError, errorPayload(err))
		return
	}
	h.bus.Publish(events.WorktreeDeleted, pathPayload{Path: p.WorktreePath})
	h.worktreeList(repoPath, out)
}
