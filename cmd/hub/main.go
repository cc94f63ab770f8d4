package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/psp-hub/platform/internal/audit"
	"github.com/psp-hub/platform/internal/auth"
	"github.com/psp-hub/platform/internal/docstore"
	"github.com/psp-hub/platform/internal/kurrentdb"
	"github.com/psp-hub/platform/internal/roster"
	"github.com/psp-hub/platform/internal/session"
	"github.com/psp-hub/platform/internal/shared/config"
	"github.com/psp-hub/platform/internal/shared/database"
	"github.com/psp-hub/platform/internal/shared/metrics"
	secmiddleware "github.com/psp-hub/platform/internal/shared/middleware"
)

// App holds all application dependencies
type App struct {
	Config    *config.Config
	DB        *database.DB
	KurrentDB *kurrentdb.Client
	Store     docstore.Store
	Audit     *audit.Logger
	Session   *session.Context
	Sessions  *auth.Sessions
	List      *roster.List
}

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	if cfg.Store.Backend == "postgres" || cfg.Audit.Backend == "postgres" {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			fmt.Fprintf(os.Stderr, "database not available: %v\n", err)
			os.Exit(1)
		}
		app.DB = db
		defer db.Close()

		applied, err := database.Migrate(ctx, db.Pool)
		if err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		for _, v := range applied {
			fmt.Printf("Applied migration %s\n", v)
		}
	}

	switch cfg.Store.Backend {
	case "postgres":
		app.Store = docstore.NewPostgres(app.DB.Pool)
	default:
		mem := docstore.NewMemory()
		defer mem.Close()
		app.Store = mem
	}

	var auditRepo audit.Repository
	switch cfg.Audit.Backend {
	case "postgres":
		auditRepo = audit.NewPostgresRepository(app.DB.Pool)
	case "kurrentdb":
		client, err := kurrentdb.NewClient(kurrentdb.FromConfig(cfg.KurrentDB))
		if err != nil {
			fmt.Fprintf(os.Stderr, "KurrentDB not available: %v\n", err)
			os.Exit(1)
		}
		app.KurrentDB = client
		defer client.Close()
		auditRepo = audit.NewKurrentDBRepository(client, cfg.Audit.Stream)
	default:
		auditRepo = audit.NewMemoryRepository()
	}
	if err := auditRepo.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "audit initialization failed: %v\n", err)
		os.Exit(1)
	}

	app.Audit = audit.NewLogger(auditRepo, cfg.Audit.Location())

	provider := auth.NewTokenProvider(cfg.Auth)
	resolver := auth.NewResolver(auth.NewStoreRoleSource(app.Store, cfg.Roster.RolesCollection))
	// The process session is the operator's; HTTP callers authenticate per
	// request with their own bearer token.
	app.Session = session.New(provider, resolver, app.Audit)
	if err := app.Session.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "session failed to start: %v\n", err)
		os.Exit(1)
	}

	app.List = roster.NewList()
	go roster.NewSynchronizer(app.Store, app.List, cfg.Roster).Run(ctx)

	reorder := roster.NewReorderController(app.List, app.Store, cfg.Roster.Collection)
	service := roster.NewService(app.List, app.Store, cfg.Roster.Collection, app.Audit, cfg.Audit.Location())

	app.Sessions = auth.NewSessions(auth.SessionConfigFrom(cfg.Auth))
	authn := auth.NewAuthenticator(provider, resolver, app.Sessions)

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go sweep(ctx, limiter, app.Sessions)

	if app.DB != nil {
		go reportPool(ctx, app.DB)
	}

	var gate auth.RequestGate
	sessionHandler := session.NewHandler(authn, app.Audit)
	rosterHandler := roster.NewHandler(app.List, service, reorder, gate)
	auditHandler := audit.NewHandler(app.Audit, gate, cfg.Audit.ListLimit)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API info
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)

		r.With(middleware.Timeout(30*time.Second), secmiddleware.BodyLimit(1<<20)).
			Post("/session/login", sessionHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware)

			// Event streams stay open; only request/response routes get the timeout.
			r.Mount("/roster/stream", rosterHandler.StreamRoutes())
			r.Mount("/audit/stream", auditHandler.StreamRoutes())

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Use(secmiddleware.BodyLimit(1 << 20))

				r.Mount("/session", sessionHandler.Routes())
				r.Get("/hierarchy", sessionHandler.Hierarchy)
				r.Mount("/roster", rosterHandler.Routes())
				r.Mount("/audit", auditHandler.Routes())
			})
		})
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Ends the roster subscription and open streams.
		stop()
		app.Session.Stop()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		app.Audit.Wait()
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("PSP Hub")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:         http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Document store: %s\n", cfg.Store.Backend)
	fmt.Printf("Audit backend:  %s\n", cfg.Audit.Backend)
	fmt.Printf("Audit timezone: %s\n", cfg.Audit.Location())
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "PSP Hub",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.KurrentDB != nil {
			if err := app.KurrentDB.HealthCheck(r.Context()); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		if app.List.Snapshot().Stale {
			checks["roster"] = "not ready: subscription lost"
		} else {
			checks["roster"] = "ready"
		}

		if app.Session.Current().Resolving() {
			checks["session"] = "resolving"
		} else {
			checks["session"] = "ready"
		}
		checks["openSessions"] = strconv.Itoa(app.Sessions.Len())

		allReady := true
		for name, status := range checks {
			if name == "session" || name == "openSessions" {
				continue
			}
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

// sweep drops idle rate-limit buckets and ended request sessions.
func sweep(ctx context.Context, limiter *secmiddleware.IPRateLimiter, sessions *auth.Sessions) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
			if n := sessions.Sweep(); n > 0 {
				log.Printf("hub: swept %d ended sessions", n)
			}
		}
	}
}

func reportPool(ctx context.Context, db *database.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.RecordDBConnections(db.AcquiredConns())
		}
	}
}
