package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"github.com/ccm-sh/ccm/internal/config"
	"github.com/ccm-sh/ccm/internal/events"
	"github.com/ccm-sh/ccm/internal/git"
	"github.com/ccm-sh/ccm/internal/handlers"
	"github.com/ccm-sh/ccm/internal/logger"
	"github.com/ccm-sh/ccm/internal/middleware"
	"github.com/ccm-sh/ccm/internal/registry"
	"github.com/ccm-sh/ccm/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session orchestrator server",
	Long: `Starts the HTTP server: the socket protocol on /ws, per-session
web terminals reverse-proxied under /t/<sid>/, the REST read surface
under /v1 and the embedded SPA for everything else.

With --remote the server also opens a public tunnel and requires the
startup token for any request that did not originate on this machine.`,
	RunE: runServe,
}

var (
	remote   bool
	repoList []string
	devMode  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVarP(&remote, "remote", "r", false, "Expose the server through a public tunnel and require auth")
	serveCmd.Flags().StringSliceVar(&repoList, "repos", nil, "Repository allow-list (comma-separated paths)")
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Console logging and verbose output")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Configure(logger.GetLogLevelFromEnv(devMode), devMode, cfg.LogDir); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer logger.Close()

	store, err := registry.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open session registry: %w", err)
	}

	bus := events.NewBus()
	allocator := services.NewPortAllocator(cfg.GatewayPortStart, cfg.GatewayPortMax)
	terminal := services.NewTerminalService(cfg.TmuxBin, cfg.AgentCommand, bus)
	gateway := services.NewGatewayService(cfg.TtydBin, cfg.TmuxBin, cfg.TtydTheme, allocator, bus)
	orchestrator := services.NewOrchestrator(terminal, gateway, store, bus)
	tunnel := services.NewTunnelService(cfg.CloudflaredBin, cfg.TunnelName, cfg.TunnelURL, cfg.Port, bus)

	worktrees := git.NewService()
	scanner := git.NewScanner(cfg.FdBin)

	gate := middleware.NewAuthGate(remote)
	repos := handlers.NewRepoState(validatedRepos(repoList, worktrees))

	portsHandler := handlers.NewPortsHandler(allocator, gateway)
	sessionsHandler := handlers.NewSessionsHandler(orchestrator)
	eventsHandler := handlers.NewEventsHandler(bus)
	proxyHandler := handlers.NewProxyHandler(orchestrator)
	socketHandler := handlers.NewSocketHandler(orchestrator, worktrees, scanner, tunnel, portsHandler, repos, bus, gate)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadBufferSize:        8192,
	})
	app.Use(recover.New())
	app.Use(gate.RequireAuth)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1 := app.Group("/v1")
	v1.Get("/sessions", sessionsHandler.List)
	v1.Get("/sessions/:sid", sessionsHandler.Get)
	v1.Get("/sessions/:sid/messages", sessionsHandler.Messages)
	v1.Get("/ports", portsHandler.List)
	v1.Get("/events", eventsHandler.Stream)
	v1.Get("/events/poll", eventsHandler.Poll)

	app.Use("/ws", socketHandler.Upgrade)
	app.Get("/ws", socketHandler.Handle())
	app.Use("/socket.io", socketHandler.Upgrade)
	app.Get("/socket.io", socketHandler.Handle())

	app.Use("/t/:sid/*", proxyHandler.Handle)
	app.Get("/t/:sid/*", proxyHandler.ProxyWS())

	app.Use("/assets", handlers.ServeEmbeddedAssets())
	app.Get("/*", handlers.ServeSPA)

	if remote {
		go func() {
			url, err := tunnel.Start()
			if err != nil {
				logger.Errorf("Failed to open tunnel: %v", err)
				return
			}
			logger.Infof("Public URL: %s/?token=%s", url, gate.Token())
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Infof("Listening on %s", addr)
		errCh <- app.Listen(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Shutdown order: stop accepting traffic, close the tunnel, stop
	// gateways (terminal windows survive on purpose), then the registry.
	_ = app.ShutdownWithTimeout(5 * time.Second)
	tunnel.Stop()
	orchestrator.Cleanup()
	if err := store.Close(); err != nil {
		logger.Warnf("Registry close: %v", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// validatedRepos drops allow-list entries that are not git repositories
// so a typo cannot wedge the initial selection.
func validatedRepos(paths []string, svc *git.Service) []string {
	var out []string
	for _, p := range paths {
		safe, err := git.SafePath(p)
		if err != nil {
			logger.Warnf("Ignoring repository path %q: %v", p, err)
			continue
		}
		if !svc.IsRepo(safe) {
			logger.Warnf("Ignoring %s: not a git repository", safe)
			continue
		}
		out = append(out, safe)
	}
	return out
}
