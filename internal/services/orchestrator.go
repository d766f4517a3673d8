package services

import (
	"sync"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/models"
	"github.com/ccm-sh/ccm/internal/registry"
)

// TerminalSupervisor is the orchestrator's view of the terminal service.
type TerminalSupervisor interface {
	Create(worktreePath string) (*models.TerminalWindow, error)
	Get(sid string) (*models.TerminalWindow, bool)
	GetByWorktree(path string) (*models.TerminalWindow, bool)
	All() []models.TerminalWindow
	SendText(sid, text string) error
	SendKey(sid, key string) error
	Kill(sid string) error
}

// GatewaySupervisor is the orchestrator's view of the gateway service.
type GatewaySupervisor interface {
	Start(sid, windowName string) (*models.GatewayInstance, error)
	Get(sid string) (*models.GatewayInstance, bool)
	Stop(sid string) error
	Cleanup()
}

// SessionStore is the orchestrator's view of the registry.
type SessionStore interface {
	Create(id, worktreeID, worktreePath string, status models.SessionStatus) (*registry.SessionRow, error)
	GetByID(id string) (*registry.SessionRow, error)
	GetByWorktreePath(path string) (*registry.SessionRow, error)
	UpdateStatus(id string, status models.SessionStatus) error
	Delete(id string) error
	ListAll() ([]registry.SessionRow, error)
	AddMessage(sessionID string, role models.MessageRole, msgType models.MessageType, content string) (*models.Message, error)
	MessagesOf(sessionID string) ([]models.Message, error)
}

// Orchestrator composes the terminal supervisor, the gateway supervisor
// and the registry into one session lifecycle API. It owns no
// denormalized session cache: every read projects the join of the three
// canonical stores.
type Orchestrator struct {
	terminal TerminalSupervisor
	gateway  GatewaySupervisor
	store    SessionStore
	bus      *events.Bus

	// One lock per session ID serializes send/stop against lifecycle
	// changes; one lock per worktree path serializes the lookup-or-create
	// step of Start so concurrent starts agree on a single window.
	locksMu   sync.Mutex
	locks     map[string]*sync.Mutex
	pathLocks map[string]*sync.Mutex
}

// NewOrchestrator wires the supervisors together. Terminal discovery has
// already run inside the terminal service constructor; discovered windows
// become visible through All and restorable through Restore.
func NewOrchestrator(terminal TerminalSupervisor, gateway GatewaySupervisor, store SessionStore, bus *events.Bus) *Orchestrator {
	o := &Orchestrator{
		terminal:  terminal,
		gateway:   gateway,
		store:     store,
		bus:       bus,
		locks:     make(map[string]*sync.Mutex),
		pathLocks: make(map[string]*sync.Mutex),
	}

	for _, w := range terminal.All() {
		row, err := store.GetByWorktreePath(w.WorktreePath)
		if err != nil || row == nil {
			logger.Debugf("Discovered window %s has no registry row", w.WindowName)
			continue
		}
		logger.Infof("Recovered session %s for %s", row.ID, row.WorktreePath)
	}
	return o
}

func (o *Orchestrator) lockFor(sid string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[sid]
	if !ok {
		l = &sync.Mutex{}
		o.locks[sid] = l
	}
	return l
}

func (o *Orchestrator) pathLockFor(path string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.pathLocks[path]
	if !ok {
		l = &sync.Mutex{}
		o.pathLocks[path] = l
	}
	return l
}

// Start creates or reuses the terminal window for worktreePath, ensures a
// gateway is running, upserts the registry row and emits session:created.
// Repeated starts for the same path return the same session.
func (o *Orchestrator) Start(worktreeID, worktreePath string) (*models.Session, error) {
	pathLock := o.pathLockFor(worktreePath)
	pathLock.Lock()
	defer pathLock.Unlock()

	window, existed := o.terminal.GetByWorktree(worktreePath)
	if !existed {
		var err error
		window, err = o.terminal.Create(worktreePath)
		if err != nil {
			return nil, err
		}
	}

	sid := window.SessionID
	lock := o.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := o.gateway.Get(sid); !ok {
		if _, err := o.gateway.Start(sid, window.WindowName); err != nil {
			// A window created in this very call must not leak; reused
			// windows are left alone.
			if !existed {
				_ = o.terminal.Kill(sid)
			}
			return nil, err
		}
	}

	row, err := o.store.GetByWorktreePath(worktreePath)
	if err != nil {
		return nil, err
	}
	switch {
	case row == nil:
		if row, err = o.store.Create(sid, worktreeID, worktreePath, models.SessionActive); err != nil {
			return nil, err
		}
	case row.ID == sid:
		if err := o.store.UpdateStatus(sid, models.SessionActive); err != nil {
			return nil, err
		}
		row.Status = models.SessionActive
	default:
		// A row left behind by an earlier window must not shadow the
		// live session under its old ID: status updates and transcript
		// writes key on the session ID.
		if err := o.store.Delete(row.ID); err != nil {
			return nil, err
		}
		if row, err = o.store.Create(sid, worktreeID, worktreePath, models.SessionActive); err != nil {
			return nil, err
		}
	}

	session := o.project(window, row)
	o.bus.Publish(events.SessionCreated, session)
	return session, nil
}

// Restore locates an existing window by worktree path and brings its
// gateway back up. Returns nil when no window exists for the path.
func (o *Orchestrator) Restore(worktreePath string) (*models.Session, error) {
	window, ok := o.terminal.GetByWorktree(worktreePath)
	if !ok {
		return nil, nil
	}

	lock := o.lockFor(window.SessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, running := o.gateway.Get(window.SessionID); !running {
		if _, err := o.gateway.Start(window.SessionID, window.WindowName); err != nil {
			return nil, err
		}
	}

	row, err := o.store.GetByWorktreePath(worktreePath)
	if err != nil {
		return nil, err
	}
	if row != nil {
		_ = o.store.UpdateStatus(row.ID, models.SessionActive)
	}

	session := o.project(window, row)
	o.bus.Publish(events.SessionRestored, session)
	return session, nil
}

// Send types text into the session's window.
func (o *Orchestrator) Send(sid, text string) error {
	lock := o.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	if err := o.terminal.SendText(sid, text); err != nil {
		o.markError(sid)
		return err
	}
	if row, _ := o.store.GetByID(sid); row != nil {
		_ = o.store.UpdateStatus(sid, models.SessionActive)
		// Transcript replay survives restarts through the registry
		if _, err := o.store.AddMessage(sid, models.RoleUser, models.MessageText, text); err != nil {
			logger.Warnf("Failed to record transcript message for %s: %v", sid, err)
		}
	}
	return nil
}

// Messages returns the persisted transcript of a session.
func (o *Orchestrator) Messages(sid string) ([]models.Message, error) {
	return o.store.MessagesOf(sid)
}

// SendKey sends a special key token to the session's window.
func (o *Orchestrator) SendKey(sid, key string) error {
	lock := o.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	if err := o.terminal.SendKey(sid, key); err != nil {
		o.markError(sid)
		return err
	}
	if row, _ := o.store.GetByID(sid); row != nil {
		_ = o.store.UpdateStatus(sid, models.SessionActive)
	}
	return nil
}

// Stop tears the session down: gateway first, then the window, then the
// registry status. Stopping an unknown or stopped session is a no-op.
func (o *Orchestrator) Stop(sid string) error {
	lock := o.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	_, hadWindow := o.terminal.Get(sid)
	if !hadWindow {
		if row, _ := o.store.GetByID(sid); row == nil || row.Status == models.SessionStopped {
			return nil
		}
	}

	_ = o.gateway.Stop(sid)
	if hadWindow {
		if err := o.terminal.Kill(sid); err != nil {
			logger.Warnf("Failed to kill window for %s: %v", sid, err)
		}
	}
	if row, _ := o.store.GetByID(sid); row != nil {
		_ = o.store.UpdateStatus(sid, models.SessionStopped)
	}

	o.bus.Publish(events.SessionStopped, map[string]string{"id": sid})
	return nil
}

// Remove stops the session and deletes its registry row and transcript.
// Used when the worktree underneath the session is deleted.
func (o *Orchestrator) Remove(sid string) error {
	if err := o.Stop(sid); err != nil {
		return err
	}

	lock := o.lockFor(sid)
	lock.Lock()
	defer lock.Unlock()

	row, err := o.store.GetByID(sid)
	if err != nil || row == nil {
		return err
	}
	return o.store.Delete(sid)
}

// Get projects a single session.
func (o *Orchestrator) Get(sid string) (*models.Session, bool) {
	window, ok := o.terminal.Get(sid)
	if !ok {
		return nil, false
	}
	row, _ := o.store.GetByID(sid)
	return o.project(window, row), true
}

// GetByWorktree projects the session bound to a worktree path.
func (o *Orchestrator) GetByWorktree(path string) (*models.Session, bool) {
	window, ok := o.terminal.GetByWorktree(path)
	if !ok {
		return nil, false
	}
	row, _ := o.store.GetByID(window.SessionID)
	return o.project(window, row), true
}

// All projects every live window into a session list.
func (o *Orchestrator) All() []models.Session {
	windows := o.terminal.All()
	out := make([]models.Session, 0, len(windows))
	for i := range windows {
		row, _ := o.store.GetByID(windows[i].SessionID)
		out = append(out, *o.project(&windows[i], row))
	}
	return out
}

// Cleanup stops all gateways. Windows are deliberately left running so
// they can be reattached on the next startup.
func (o *Orchestrator) Cleanup() {
	o.gateway.Cleanup()
}

func (o *Orchestrator) markError(sid string) {
	if row, _ := o.store.GetByID(sid); row != nil {
		_ = o.store.UpdateStatus(sid, models.SessionError)
	}
}

// project joins window + gateway + registry row into the wire Session.
func (o *Orchestrator) project(window *models.TerminalWindow, row *registry.SessionRow) *models.Session {
	session := &models.Session{
		ID:           window.SessionID,
		WorktreePath: window.WorktreePath,
		WindowName:   window.WindowName,
		Status:       models.WindowStatusToSession(window.Status),
		CreatedAt:    window.CreatedAt,
		URL:          models.SessionURL(window.SessionID),
	}
	if row != nil {
		session.WorktreeID = row.WorktreeID
		session.CreatedAt = row.CreatedAt
		if row.Status == models.SessionStopped {
			session.Status = models.SessionStopped
		}
	}
	if inst, ok := o.gateway.Get(window.SessionID); ok {
		port := inst.Port
		session.GatewayPort = &port
	}
	return session
}
