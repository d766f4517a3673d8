package services

import (
	"crypto/rand"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/models"
)

// sidAlphabet is URL-safe; session IDs appear in paths and window names.
const sidAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const sidLength = 8

// TerminalService is the single authority over multiplexer windows. Each
// window is named with the ccm- prefix so it can be rediscovered after a
// server restart; the windows themselves outlive this process by design.
type TerminalService struct {
	mu      sync.RWMutex
	windows map[string]*models.TerminalWindow // keyed by session ID

	tmuxBin   string
	agentArgv []string
	available bool
	bus       *events.Bus
}

// NewTerminalService builds the supervisor and discovers orphaned ccm-
// windows left over from a previous run. A missing multiplexer binary is
// logged with an installation hint; mutating operations then fail with
// MultiplexerUnavailable.
func NewTerminalService(tmuxBin, agentCommand string, bus *events.Bus) *TerminalService {
	argv, err := shellquote.Split(agentCommand)
	if err != nil {
		logger.Warnf("Agent command %q has unbalanced quoting: %v", agentCommand, err)
		argv = []string{agentCommand}
	}

	s := &TerminalService{
		windows:   make(map[string]*models.TerminalWindow),
		tmuxBin:   tmuxBin,
		agentArgv: argv,
		bus:       bus,
	}
	if _, err := exec.LookPath(tmuxBin); err != nil {
		logger.Errorf("Multiplexer binary %q not found; install tmux (e.g. `brew install tmux` or `apt install tmux`) to enable sessions", tmuxBin)
		return s
	}
	s.available = true
	s.discover()
	return s
}

// Available reports whether the multiplexer binary was found.
func (s *TerminalService) Available() bool { return s.available }

func (s *TerminalService) tmux(args ...string) (string, error) {
	cmd := exec.Command(s.tmuxBin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", models.NewAppError(models.ErrInternal, msg, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *TerminalService) requireAvailable() error {
	if !s.available {
		return models.Errorf(models.ErrMultiplexerUnavailable, "terminal multiplexer is not installed")
	}
	return nil
}

// discover enumerates external windows carrying the ccm- prefix and
// reconstructs records for them. The working directory is best effort.
func (s *TerminalService) discover() {
	out, err := s.tmux("list-sessions", "-F", "#{session_name}")
	if err != nil {
		// No server running yet is the common case, not an error
		logger.Debugf("No multiplexer sessions to discover: %v", err)
		return
	}

	for _, name := range strings.Split(out, "\n") {
		name = strings.TrimSpace(name)
		if !strings.HasPrefix(name, models.WindowPrefix) {
			continue
		}
		sid := strings.TrimPrefix(name, models.WindowPrefix)
		if sid == "" {
			continue
		}

		cwd, err := s.tmux("display-message", "-p", "-t", name, "#{pane_current_path}")
		if err != nil {
			logger.Warnf("Could not resolve working directory for window %s: %v", name, err)
			cwd = ""
		}

		now := time.Now()
		s.windows[sid] = &models.TerminalWindow{
			SessionID:    sid,
			WindowName:   name,
			WorktreePath: cwd,
			CreatedAt:    now,
			LastActivity: now,
			Status:       models.WindowRunning,
		}
		if _, err := s.tmux("set-option", "-t", name, "mouse", "on"); err != nil {
			logger.Debugf("Could not enable mouse mode on %s: %v", name, err)
		}
		logger.Infof("Discovered orphaned window %s (cwd %s)", name, cwd)
	}
}

// Create spawns a detached window rooted at worktreePath, types the agent
// invocation into it and enables mouse mode.
func (s *TerminalService) Create(worktreePath string) (*models.TerminalWindow, error) {
	if err := s.requireAvailable(); err != nil {
		return nil, err
	}

	sid := generateSessionID()
	name := models.WindowName(sid)

	if _, err := s.tmux("new-session", "-d", "-s", name, "-c", worktreePath); err != nil {
		return nil, models.NewAppError(models.ErrInternal, "failed to create terminal window", err)
	}

	// The configured invocation is reassembled shell-safe, then goes
	// through the same escape path as user text
	if len(s.agentArgv) > 0 {
		line := QuoteCommand(s.agentArgv...)
		if _, err := s.tmux("send-keys", "-t", name, "-l", "--", EscapeKeystrokes(line)); err != nil {
			logger.Warnf("Failed to type agent command into %s: %v", name, err)
		} else {
			_, _ = s.tmux("send-keys", "-t", name, "Enter")
		}
	}
	if _, err := s.tmux("set-option", "-t", name, "mouse", "on"); err != nil {
		logger.Debugf("Could not enable mouse mode on %s: %v", name, err)
	}

	now := time.Now()
	window := &models.TerminalWindow{
		SessionID:    sid,
		WindowName:   name,
		WorktreePath: worktreePath,
		CreatedAt:    now,
		LastActivity: now,
		Status:       models.WindowRunning,
	}

	s.mu.Lock()
	s.windows[sid] = window
	s.mu.Unlock()

	s.bus.Publish(events.WindowCreated, window)
	logger.Infof("Created terminal window %s in %s", name, worktreePath)
	return window, nil
}

// SendText sends literal text to a window followed by a line terminator.
func (s *TerminalService) SendText(sid, text string) error {
	if err := s.requireAvailable(); err != nil {
		return err
	}
	window, err := s.lookup(sid)
	if err != nil {
		return err
	}

	if _, err := s.tmux("send-keys", "-t", window.WindowName, "-l", "--", EscapeKeystrokes(text)); err != nil {
		s.markError(sid)
		return models.Errorf(models.ErrNotFound, "session not found: %s", sid)
	}
	if _, err := s.tmux("send-keys", "-t", window.WindowName, "Enter"); err != nil {
		s.markError(sid)
		return models.Errorf(models.ErrNotFound, "session not found: %s", sid)
	}

	s.touch(sid)
	return nil
}

// Special keys accepted by SendKey. S-Tab is translated to the
// multiplexer's back-tab token; everything else passes through.
var specialKeys = map[string]string{
	"Enter":  "Enter",
	"C-c":    "C-c",
	"C-d":    "C-d",
	"y":      "y",
	"n":      "n",
	"S-Tab":  "BTab",
	"Escape": "Escape",
}

// SendKey sends one special key token to a window.
func (s *TerminalService) SendKey(sid, key string) error {
	if err := s.requireAvailable(); err != nil {
		return err
	}
	token, ok := specialKeys[key]
	if !ok {
		return models.Errorf(models.ErrInvalidArgument, "unsupported key %q", key)
	}
	window, err := s.lookup(sid)
	if err != nil {
		return err
	}

	if _, err := s.tmux("send-keys", "-t", window.WindowName, token); err != nil {
		s.markError(sid)
		return models.Errorf(models.ErrNotFound, "session not found: %s", sid)
	}
	s.touch(sid)
	return nil
}

// Exists checks the multiplexer itself, not just our record.
func (s *TerminalService) Exists(sid string) bool {
	if !s.available {
		return false
	}
	_, err := s.tmux("has-session", "-t", models.WindowName(sid))
	return err == nil
}

// Get returns the record for a session ID.
func (s *TerminalService) Get(sid string) (*models.TerminalWindow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[sid]
	if !ok {
		return nil, false
	}
	copied := *w
	return &copied, true
}

// GetByWorktree finds the window whose working directory is path.
func (s *TerminalService) GetByWorktree(path string) (*models.TerminalWindow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.windows {
		if w.WorktreePath == path {
			copied := *w
			return &copied, true
		}
	}
	return nil, false
}

// All returns a snapshot of every tracked window.
func (s *TerminalService) All() []models.TerminalWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TerminalWindow, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, *w)
	}
	return out
}

// Kill terminates the external window and removes the record.
func (s *TerminalService) Kill(sid string) error {
	if err := s.requireAvailable(); err != nil {
		return err
	}
	window, err := s.lookup(sid)
	if err != nil {
		return err
	}

	if _, err := s.tmux("kill-session", "-t", window.WindowName); err != nil {
		logger.Warnf("kill-session %s failed: %v", window.WindowName, err)
	}

	s.mu.Lock()
	delete(s.windows, sid)
	s.mu.Unlock()

	s.bus.Publish(events.WindowStopped, map[string]string{"sessionId": sid})
	logger.Infof("Killed terminal window %s", window.WindowName)
	return nil
}

func (s *TerminalService) lookup(sid string) (*models.TerminalWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[sid]
	if !ok {
		return nil, models.Errorf(models.ErrNotFound, "session not found: %s", sid)
	}
	copied := *w
	return &copied, nil
}

func (s *TerminalService) touch(sid string) {
	s.mu.Lock()
	if w, ok := s.windows[sid]; ok {
		w.LastActivity = time.Now()
		w.Status = models.WindowRunning
	}
	s.mu.Unlock()
}

func (s *TerminalService) markError(sid string) {
	s.mu.Lock()
	if w, ok := s.windows[sid]; ok {
		w.Status = models.WindowError
	}
	s.mu.Unlock()
}

// EscapeKeystrokes neutralizes payload bytes that the multiplexer's CLI
// would otherwise interpret: control bytes are stripped (except tab) and
// a leading dash is shielded from flag parsing. Text is always sent with
// the literal flag, so shell quoting is not re-applied here.
func EscapeKeystrokes(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r < 0x20 && r != '\t' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if strings.HasPrefix(out, "-") {
		// The -- separator covers argument position; a leading space
		// keeps historic tmux versions from eating the dash.
		out = " " + out
	}
	return out
}

// QuoteCommand renders a command and arguments as a single shell-safe
// line, for assembling invocations typed into a window.
func QuoteCommand(parts ...string) string {
	return shellquote.Join(parts...)
}

// generateSessionID returns an 8-character opaque ID from the URL-safe
// alphabet.
func generateSessionID() string {
	buf := make([]byte, sidLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// fall back to a time-derived ID rather than crash
		now := time.Now().UnixNano()
		for i := range buf {
			buf[i] = sidAlphabet[int(now>>uint(i*6))%len(sidAlphabet)]
		}
		return string(buf)
	}
	for i := range buf {
		buf[i] = sidAlphabet[int(buf[i])%len(sidAlphabet)]
	}
	return string(buf)
}
