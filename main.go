package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jshsakura/oc-terminal-list/internal/auth"
	"github.com/jshsakura/oc-terminal-list/internal/config"
	"github.com/jshsakura/oc-terminal-list/internal/database"
	"github.com/jshsakura/oc-terminal-list/internal/handlers"
	"github.com/jshsakura/oc-terminal-list/internal/history"
	"github.com/jshsakura/oc-terminal-list/internal/logging"
	"github.com/jshsakura/oc-terminal-list/internal/metrics"
	"github.com/jshsakura/oc-terminal-list/internal/middleware"
	"github.com/jshsakura/oc-terminal-list/internal/ptyproc"
	"github.com/jshsakura/oc-terminal-list/internal/reactor"
	"github.com/jshsakura/oc-terminal-list/internal/terminal"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 && os.Args[1] == "--issue-token" {
		runCLICommand("issue-token")
		return
	}

	configPath := flag.String("config", "", "Path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init("termlist", cfg.LogLevel, cfg.LogPath)
	defer logger.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		logger.Close()
		os.Exit(1)
	}
}

func run(cfg config.Settings, logger *logging.Logger) error {
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer db.Close()

	// The signing secret must exist before the first request is accepted.
	secret, err := auth.LoadOrCreateSecret(ctx, db)
	if err != nil {
		return fmt.Errorf("jwt secret: %w", err)
	}
	tokens := auth.NewJWT(secret, cfg.TokenTTL)

	shell := cfg.ResolveShell()
	if err := ptyproc.ValidateShell(shell); err != nil {
		return err
	}
	workDir := cfg.ResolveWorkDir()

	m := metrics.New()
	hist := history.New(db, cfg.HistoryLimit, logger.Component("history"), m)
	defer hist.Close()

	rx, err := reactor.New()
	if err != nil {
		return fmt.Errorf("reactor init: %w", err)
	}
	defer rx.Close()
	reactorLog := logger.Component("reactor")
	rx.OnPanic = func(fd int, v any) {
		reactorLog.Error().Int("fd", fd).Interface("panic", v).Msg("readiness callback panicked")
	}

	mgr := terminal.NewManager(terminal.Options{
		Spawner: terminal.ShellSpawner{
			Shell:  shell,
			Dir:    workDir,
			Locale: cfg.Locale,
		},
		Poller:         rx,
		History:        hist,
		Records:        db,
		Metrics:        m,
		Log:            logger.Component("session-mgr"),
		LivenessPeriod: cfg.LivenessPeriod,
	})
	log.Info().
		Str("shell", shell).
		Str("workdir", workDir).
		Int("history_limit", cfg.HistoryLimit).
		Msg("terminal session manager initialized")

	h := &handlers.Handler{
		Sessions:       mgr,
		Records:        db,
		Auth:           tokens,
		Log:            logger.Component("http"),
		AuthRequired:   cfg.AuthRequired,
		Anonymous:      cfg.AnonymousIdentity,
		OriginPatterns: cfg.CORSOrigins,
		OutboundQueue:  cfg.OutboundQueue,
	}
	if cfg.AuthDisabled {
		h.Auth = nil
	}

	retention := newRetentionJob(db, hist, mgr, cfg.RetentionMaxAge, logger.Component("retention"))
	c := cron.New()
	if _, err := c.AddFunc(cfg.RetentionSchedule, func() { retention.Run(ctx) }); err != nil {
		return fmt.Errorf("retention schedule %q: %w", cfg.RetentionSchedule, err)
	}
	c.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(cfg, h, tokens, m, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rx.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		<-c.Stop().Done()
		err := srv.Shutdown(shutdownCtx)
		// Hijacked WebSocket connections are not covered by srv.Shutdown;
		// stopping the sessions detaches them.
		mgr.Shutdown(shutdownCtx)
		if flushErr := hist.Flush(shutdownCtx); flushErr != nil {
			log.Warn().Err(flushErr).Msg("flush history")
		}
		return err
	})

	err = g.Wait()
	log.Info().Msg("server stopped")
	return err
}

func newRouter(cfg config.Settings, h *handlers.Handler, tokens auth.Resolver, m *metrics.Metrics, logger *logging.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger.Component("http"), m))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// No auth
	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", m.Handler())

	// The WebSocket resolves its own token from the query string.
	r.Get("/ws/{sessionID}", h.TerminalWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens, cfg.AuthDisabled, cfg.AnonymousIdentity))

		r.Get("/auth/verify", h.VerifyToken)

		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSessionAuto)
		r.Get("/sessions/live", h.ListLiveSessions)
		r.Post("/sessions/{sessionID}", h.CreateSession)
		r.Delete("/sessions/{sessionID}", h.DeleteSession)
		r.Post("/sessions/{sessionID}/resize", h.ResizeSession)
		r.Get("/sessions/{sessionID}/history", h.GetHistory)
	})

	if cfg.StaticDir != "" {
		spa := middleware.NewSPAHandler(os.DirFS(cfg.StaticDir))
		r.NotFound(spa.ServeHTTP)
	}

	return r
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username the token is issued for")
	configPath := fs.String("config", "", "Path to a TOML config file")
	fs.Parse(os.Args[2:])

	if *username == "" {
		fmt.Fprintf(os.Stderr, "Usage: termlist --%s --username <user> [--config <file>]\n", command)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database init: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	secret, err := auth.LoadOrCreateSecret(context.Background(), db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jwt secret: %v\n", err)
		os.Exit(1)
	}
	token, err := auth.NewJWT(secret, cfg.TokenTTL).Issue(*username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
