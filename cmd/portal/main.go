package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/trimwell/portal/internal/adapters/labs"
	"github.com/trimwell/portal/internal/care"
	"github.com/trimwell/portal/internal/patient/api"
	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/patient/infrastructure"
	"github.com/trimwell/portal/internal/shared/auth"
	"github.com/trimwell/portal/internal/shared/config"
	"github.com/trimwell/portal/internal/shared/database"
	"github.com/trimwell/portal/internal/shared/events"
	"github.com/trimwell/portal/internal/shared/logging"
	"github.com/trimwell/portal/internal/shared/metrics"
	secmiddleware "github.com/trimwell/portal/internal/shared/middleware"
)

// App holds all application dependencies. Bus stays nil when archival is
// disabled so the readiness probe can tell "down" from "not configured".
type App struct {
	Config  *config.Config
	DB      *database.DB
	Bus     *events.Bus
	Reducer *care.Reducer
	Labs    *labs.Adapter
	Log     zerolog.Logger
}

// store is the repository plus the record source and section persister the
// reducer needs.
type store interface {
	domain.Repository
	care.RecordSource
	care.SectionPersister
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Server.Env)
	app := &App{Config: cfg, Log: log}

	// Storage: Postgres when reachable, otherwise an in-memory store so the
	// portal still runs for local development.
	var patientStore store
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warn().Err(err).Msg("database not available, running with in-memory storage")
		patientStore = infrastructure.NewMemoryStore()
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			log.Error().Err(err).Msg("migration failed")
			os.Exit(1)
		}
		patientStore = infrastructure.NewPostgresStore(db, logging.Component(log, "storage"))
	}

	// Event archival (optional): per-patient streams in EventStoreDB.
	var archiver events.Archiver = events.NopArchiver{}
	if cfg.EventStore.Enabled {
		bus, err := events.NewBus(ctx, cfg.EventStore)
		if err != nil {
			log.Warn().Err(err).Msg("event store not available, archival disabled")
		} else {
			archiver = bus
			app.Bus = bus
			defer bus.Close()
			log.Info().Msg("event archival enabled")
		}
	}

	reducer := care.NewReducer(patientStore, patientStore, archiver,
		cfg.Persist, logging.Component(log, "reducer"))
	app.Reducer = reducer
	actions := care.NewActionHandler(reducer, patientStore, logging.Component(log, "actions"))
	patientHandler := api.NewHandler(patientStore, reducer, actions, logging.Component(log, "api"))

	// Partner LIS polling (optional).
	if cfg.Labs.Enabled {
		adapter := labs.New(cfg.Labs, reducer, logging.Component(log, "labs"))
		if err := adapter.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("labs adapter failed to start")
		} else {
			app.Labs = adapter
		}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.MaxBody(1 << 20))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	rateLimiter := secmiddleware.NewIPRateLimiter(20, 40)
	r.Use(rateLimiter.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		r.Mount("/patients", patientHandler.Routes())
		r.Mount("/tasks", patientHandler.TaskRoutes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		if app.Labs != nil {
			if err := app.Labs.Stop(ctx); err != nil {
				log.Error().Err(err).Msg("labs adapter shutdown error")
			}
		}
		// Let in-flight section writes drain before the process exits.
		reducer.Wait()
		close(done)
	}()

	log.Info().
		Str("env", cfg.Server.Env).
		Int("port", cfg.Server.Port).
		Bool("database", app.DB != nil).
		Bool("labs", app.Labs != nil).
		Msg("trimwell portal started")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}

	<-done
	log.Info().Msg("server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Trimwell Patient Portal",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
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

		if app.Labs != nil {
			if err := app.Labs.Health(r.Context()); err != nil {
				checks["labs"] = "not ready: " + err.Error()
			} else {
				checks["labs"] = "ready"
			}
		} else {
			checks["labs"] = "not configured"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["eventstore"] = "not ready: " + err.Error()
			} else {
				checks["eventstore"] = "ready"
			}
		} else {
			checks["eventstore"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
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

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
