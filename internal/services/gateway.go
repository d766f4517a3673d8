package services

import (
	"bufio"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/models"
)

const (
	gatewayReadyTimeout = 5 * time.Second
	gatewayStopGrace    = 3 * time.Second
	gatewayReadyMarker  = "Listening"
)

// GatewayService spawns one web-terminal subprocess per session. The
// child binds loopback only and attaches to the session's multiplexer
// window; its port comes from the shared allocator and is released the
// moment the child exits.
type GatewayService struct {
	mu        sync.RWMutex
	instances map[string]*gatewayProc // keyed by session ID

	ttydBin   string
	tmuxBin   string
	theme     string
	allocator *PortAllocator
	bus       *events.Bus
	available bool
}

type gatewayProc struct {
	models.GatewayInstance
	cmd *exec.Cmd
}

// NewGatewayService builds the supervisor. A missing web-terminal binary
// is logged once; Start then fails with GatewayUnavailable.
func NewGatewayService(ttydBin, tmuxBin, theme string, allocator *PortAllocator, bus *events.Bus) *GatewayService {
	s := &GatewayService{
		instances: make(map[string]*gatewayProc),
		ttydBin:   ttydBin,
		tmuxBin:   tmuxBin,
		theme:     theme,
		allocator: allocator,
		bus:       bus,
	}
	if _, err := exec.LookPath(ttydBin); err != nil {
		logger.Errorf("Web-terminal binary %q not found; install ttyd to enable browser terminals", ttydBin)
		return s
	}
	s.available = true
	return s
}

// Available reports whether the web-terminal binary was found.
func (s *GatewayService) Available() bool { return s.available }

// Start acquires a port, spawns the web-terminal attached to windowName
// and waits for it to announce readiness on stderr. On any failure the
// child is killed and the port released.
func (s *GatewayService) Start(sid, windowName string) (*models.GatewayInstance, error) {
	if !s.available {
		return nil, models.Errorf(models.ErrGatewayUnavailable, "web terminal is not installed")
	}

	s.mu.Lock()
	if existing, ok := s.instances[sid]; ok {
		inst := existing.GatewayInstance
		s.mu.Unlock()
		return &inst, nil
	}
	s.mu.Unlock()

	port, err := s.allocator.Acquire(sid)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--writable",
		"--interface", "127.0.0.1",
		"--port", strconv.Itoa(port),
	}
	if s.theme != "" {
		args = append(args, "-t", "theme="+s.theme)
	}
	args = append(args, s.tmuxBin, "attach-session", "-t", windowName)

	cmd := exec.Command(s.ttydBin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.allocator.Release(port)
		return nil, models.NewAppError(models.ErrGatewayStartFailed, "failed to wire web terminal stderr", err)
	}

	if err := cmd.Start(); err != nil {
		s.allocator.Release(port)
		return nil, models.NewAppError(models.ErrGatewayStartFailed, "failed to start web terminal", err)
	}

	if err := waitForMarker(stderr, gatewayReadyMarker, gatewayReadyTimeout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		s.allocator.Release(port)
		return nil, models.NewAppError(models.ErrGatewayStartFailed, "web terminal did not become ready", err)
	}

	proc := &gatewayProc{
		GatewayInstance: models.GatewayInstance{
			SessionID:  sid,
			Port:       port,
			PID:        cmd.Process.Pid,
			WindowName: windowName,
			StartedAt:  time.Now(),
		},
		cmd: cmd,
	}

	s.mu.Lock()
	s.instances[sid] = proc
	s.mu.Unlock()

	// Reap the child: a crash releases the port and removes the record
	// without touching the underlying window.
	go s.reap(sid, cmd, port)

	logger.Infof("Gateway for %s listening on 127.0.0.1:%d (pid %d)", sid, port, cmd.Process.Pid)
	inst := proc.GatewayInstance
	return &inst, nil
}

// reap blocks on the child and tears down its bookkeeping when it exits,
// for whatever reason.
func (s *GatewayService) reap(sid string, cmd *exec.Cmd, port int) {
	err := cmd.Wait()

	s.mu.Lock()
	proc, ok := s.instances[sid]
	if ok && proc.cmd == cmd {
		delete(s.instances, sid)
	} else {
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	s.allocator.Release(port)
	if err != nil {
		logger.Warnf("Gateway for %s exited: %v", sid, err)
	} else {
		logger.Debugf("Gateway for %s exited cleanly", sid)
	}
	s.bus.Publish(events.GatewayStopped, map[string]string{"sessionId": sid})
}

// Get returns the instance for a session ID.
func (s *GatewayService) Get(sid string) (*models.GatewayInstance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	proc, ok := s.instances[sid]
	if !ok {
		return nil, false
	}
	inst := proc.GatewayInstance
	return &inst, true
}

// All returns a snapshot of every live instance.
func (s *GatewayService) All() []models.GatewayInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.GatewayInstance, 0, len(s.instances))
	for _, proc := range s.instances {
		out = append(out, proc.GatewayInstance)
	}
	return out
}

// Stop terminates a session's gateway: graceful signal first, kill after
// the grace period. The reaper handles port release and the stop event.
func (s *GatewayService) Stop(sid string) error {
	s.mu.RLock()
	proc, ok := s.instances[sid]
	s.mu.RUnlock()
	if !ok {
		return nil // repeated stop is a no-op
	}

	if err := proc.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = proc.cmd.Process.Kill()
		return nil
	}

	done := make(chan struct{})
	go func() {
		for {
			s.mu.RLock()
			_, alive := s.instances[sid]
			s.mu.RUnlock()
			if !alive {
				close(done)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(gatewayStopGrace):
		logger.Warnf("Gateway for %s ignored SIGTERM, killing", sid)
		_ = proc.cmd.Process.Kill()
	}
	return nil
}

// Cleanup stops every instance. Called on shutdown; the terminal windows
// are deliberately left running.
func (s *GatewayService) Cleanup() {
	s.mu.RLock()
	sids := make([]string, 0, len(s.instances))
	for sid := range s.instances {
		sids = append(sids, sid)
	}
	s.mu.RUnlock()

	for _, sid := range sids {
		_ = s.Stop(sid)
	}
}

// waitForMarker scans r line by line until marker appears or the timeout
// elapses. The remainder of the stream is drained in the background so
// the child never blocks on a full pipe.
func waitForMarker(r io.Reader, marker string, timeout time.Duration) error {
	found := make(chan struct{})
	failed := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		signalled := false
		for scanner.Scan() {
			if !signalled && strings.Contains(scanner.Text(), marker) {
				signalled = true
				close(found)
			}
		}
		if !signalled {
			failed <- io.EOF
		}
	}()

	select {
	case <-found:
		return nil
	case err := <-failed:
		return err
	case <-time.After(timeout):
		return models.Errorf(models.ErrGatewayStartFailed, "timed out after %s waiting for readiness", timeout)
	}
}
