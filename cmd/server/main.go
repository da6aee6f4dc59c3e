package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/agent-racer/observer/internal/adapter"
	"github.com/agent-racer/observer/internal/bus"
	"github.com/agent-racer/observer/internal/command"
	"github.com/agent-racer/observer/internal/config"
	"github.com/agent-racer/observer/internal/frontend"
	"github.com/agent-racer/observer/internal/mock"
	"github.com/agent-racer/observer/internal/parser"
	"github.com/agent-racer/observer/internal/pattern"
	"github.com/agent-racer/observer/internal/persona"
	"github.com/agent-racer/observer/internal/poller"
	"github.com/agent-racer/observer/internal/project"
	"github.com/agent-racer/observer/internal/reconciler"
	"github.com/agent-racer/observer/internal/session"
	"github.com/agent-racer/observer/internal/store"
	"github.com/agent-racer/observer/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use a synthetic adapter instead of the real multiplexer")
	devMode := flag.Bool("dev", false, "Development mode (serve frontend from filesystem)")
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/agent-racer/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	dbPath := flag.String("db", "", "Path to the persisted-state sqlite database (defaults to XDG state dir)")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	persist, err := store.Open(resolveDBPath(*dbPath))
	if err != nil {
		log.Fatalf("Failed to open persisted state: %v", err)
	}
	defer persist.Close()

	patterns := pattern.Default()
	if cfg.Pattern.Version != "" {
		if !patterns.SetCurrent(cfg.Pattern.Version) {
			log.Fatalf("Unknown pattern version %q", cfg.Pattern.Version)
		}
	}
	p := parser.New(patterns, cfg.Tuning.CaptureLines)

	sessionStore := session.NewStore()
	personas := persona.NewRegistry()
	projects := project.NewRegistry()
	eventBus := bus.New(bus.DefaultQueueSize)

	var a adapter.Adapter
	if *mockMode {
		log.Println("Starting with a synthetic adapter (mock mode)")
		a = mock.NewFakeAdapter()
	} else {
		log.Println("Starting against the host multiplexer")
		a, err = adapter.NewTmuxAdapter()
		if err != nil {
			log.Fatalf("Failed to initialize multiplexer adapter: %v", err)
		}
	}

	rec := reconciler.New(eventBus, sessionStore, p, personas, projects, reconciler.Config{
		HookPrecedence: cfg.Tuning.HookPrecedence(),
		MinHold:        cfg.Tuning.MinHold(),
		Coalesce:       cfg.Tuning.Coalesce(),
		IdleGrace:      cfg.Tuning.IdleGrace(),
	})

	pollr := poller.New(a, eventBus, cfg.Tuning.PollInterval(), cfg.Tuning.CaptureLines, cfg.Monitor.HealthWarningThreshold)

	broadcaster := ws.NewBroadcaster(sessionStore, personas, projects, cfg.Server.MaxConnections, cfg.Tuning.PauseHighBytes, cfg.Tuning.ResumeLowBytes)
	broadcaster.SetPrivacyFilter(cfg.Privacy.NewPrivacyFilter())

	surface := command.NewSurface(a, sessionStore, cfg.Tuning.MaxPanesPerGroup)

	frontendDir := ""
	if *devMode {
		exe, _ := os.Executable()
		frontendDir = filepath.Join(filepath.Dir(exe), "..", "..", "frontend")
		if _, err := os.Stat(frontendDir); os.IsNotExist(err) {
			cwd, _ := os.Getwd()
			frontendDir = filepath.Join(cwd, "..", "frontend")
		}
	}

	// Embedded frontend handler: when built with -tags embed, serves from binary.
	// Otherwise falls back to serving from the filesystem.
	var embeddedHandler http.Handler
	if !*devMode {
		embeddedHandler = frontend.Handler()
		if embeddedHandler == nil {
			cwd, _ := os.Getwd()
			fallback := filepath.Join(cwd, "..", "frontend")
			if _, err := os.Stat(fallback); err == nil {
				log.Printf("No embedded frontend, falling back to: %s", fallback)
				embeddedHandler = http.FileServer(http.Dir(fallback))
			}
		}
	}

	server := ws.NewServer(cfg, sessionStore, persist, broadcaster, surface, eventBus, frontendDir, *devMode, embeddedHandler, cfg.Server.AllowedOrigins, cfg.Server.AuthToken)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec.Start(ctx)
	broadcaster.Start(ctx, eventBus)
	go pollr.Run(ctx)
	go persist.RunSweeper(ctx, cfg.Tuning.SweepInterval(), cfg.Tuning.Retention())

	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	// SIGHUP reloads config from cfgPath without restarting the process.
	// Diff logs every compared section that changed, but only the privacy
	// filter and the pattern version are swapped at runtime; everything else
	// (ports, tuning knobs baked into already-constructed components, monitor
	// and sound settings) takes effect on next start.
	var cfgMu sync.Mutex
	liveCfg := cfg
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			cfgMu.Lock()
			newCfg, err := config.Load(cfgPath)
			if err != nil {
				log.Printf("[config] reload failed: %v", err)
				cfgMu.Unlock()
				continue
			}

			changes := config.Diff(liveCfg, newCfg)
			if len(changes) == 0 {
				log.Println("[config] reload: no changes")
			} else {
				for _, c := range changes {
					log.Printf("[config] reload: %s", c)
				}
			}

			broadcaster.SetPrivacyFilter(newCfg.Privacy.NewPrivacyFilter())
			if newCfg.Pattern.Version != "" && !patterns.SetCurrent(newCfg.Pattern.Version) {
				log.Printf("[config] reload: unknown pattern version %q, keeping current", newCfg.Pattern.Version)
			}
			liveCfg = newCfg
			cfgMu.Unlock()
		}
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func resolveDBPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		stateDir = filepath.Join(home, ".local", "state")
	}
	dir := filepath.Join(stateDir, "agent-racer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	return filepath.Join(dir, "observer.db")
}
