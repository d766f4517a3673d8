package services

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/models"
)

const (
	quickTunnelTimeout = 30 * time.Second
	namedTunnelTimeout = 60 * time.Second
	namedTunnelMarker  = "Registered tunnel connection"
)

var quickTunnelURL = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// TunnelService wraps the external tunnel binary. Quick mode scrapes the
// ephemeral public URL from the child's stderr; named mode waits for the
// connection marker and reports a preconfigured URL.
type TunnelService struct {
	mu  sync.Mutex
	cmd *exec.Cmd
	url string

	bin       string
	name      string // named tunnel; empty selects quick mode
	namedURL  string
	localPort int
	bus       *events.Bus
}

// NewTunnelService builds the controller for a local port. name and
// namedURL are only consulted in named mode.
func NewTunnelService(bin, name, namedURL string, localPort int, bus *events.Bus) *TunnelService {
	return &TunnelService{
		bin:       bin,
		name:      name,
		namedURL:  namedURL,
		localPort: localPort,
		bus:       bus,
	}
}

// URL returns the public URL of the running tunnel, or "".
func (s *TunnelService) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Start spawns the tunnel subprocess and blocks until it reports a public
// URL or times out. Repeated starts return the existing URL.
func (s *TunnelService) Start() (string, error) {
	s.mu.Lock()
	if s.cmd != nil {
		url := s.url
		s.mu.Unlock()
		return url, nil
	}
	s.mu.Unlock()

	if _, err := exec.LookPath(s.bin); err != nil {
		return "", models.Errorf(models.ErrTunnelStartFailed, "tunnel binary %q not found", s.bin)
	}

	var cmd *exec.Cmd
	if s.name == "" {
		cmd = exec.Command(s.bin, "tunnel", "--url", fmt.Sprintf("http://127.0.0.1:%d", s.localPort))
	} else {
		cmd = exec.Command(s.bin, "tunnel", "run", s.name)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", models.NewAppError(models.ErrTunnelStartFailed, "failed to wire tunnel stderr", err)
	}
	if err := cmd.Start(); err != nil {
		return "", models.NewAppError(models.ErrTunnelStartFailed, "failed to start tunnel", err)
	}

	url, err := s.awaitReady(stderr)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return "", err
	}

	s.mu.Lock()
	s.cmd = cmd
	s.url = url
	s.mu.Unlock()

	go s.reap(cmd)

	logger.Infof("Tunnel up at %s", url)
	s.bus.Publish(events.TunnelStarted, map[string]string{"url": url})
	return url, nil
}

// awaitReady scans stderr for the mode's readiness signal.
func (s *TunnelService) awaitReady(stderr io.Reader) (string, error) {
	timeout := quickTunnelTimeout
	if s.name != "" {
		timeout = namedTunnelTimeout
	}

	urlCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			if s.name == "" {
				if m := quickTunnelURL.FindString(line); m != "" {
					urlCh <- m
					return
				}
			} else if strings.Contains(line, namedTunnelMarker) {
				urlCh <- s.namedURL
				return
			}
		}
	}()

	select {
	case url := <-urlCh:
		return url, nil
	case <-time.After(timeout):
		return "", models.Errorf(models.ErrTunnelStartFailed, "tunnel did not become ready within %s", timeout)
	}
}

func (s *TunnelService) reap(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	if s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	s.cmd = nil
	s.url = ""
	s.mu.Unlock()

	if err != nil {
		logger.Warnf("Tunnel exited: %v", err)
	}
	s.bus.Publish(events.TunnelStopped, nil)
}

// Stop kills the tunnel subprocess. The reaper broadcasts the close.
func (s *TunnelService) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil {
		return
	}
	_ = cmd.Process.Kill()
}
