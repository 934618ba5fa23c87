package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/Syaminata/ticketaf-sub000/internal/audit"
	"github.com/Syaminata/ticketaf-sub000/internal/auth"
	"github.com/Syaminata/ticketaf-sub000/internal/config"
	"github.com/Syaminata/ticketaf-sub000/internal/db"
	"github.com/Syaminata/ticketaf-sub000/internal/directory"
	"github.com/Syaminata/ticketaf-sub000/internal/httputil"
	"github.com/Syaminata/ticketaf-sub000/internal/logger"
	"github.com/Syaminata/ticketaf-sub000/internal/metrics"
	mw "github.com/Syaminata/ticketaf-sub000/internal/middleware"
	"github.com/Syaminata/ticketaf-sub000/internal/notifications"
	"github.com/Syaminata/ticketaf-sub000/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("failed to read .env")
	}
	cfg := config.Load()
	log := logger.New("ticketaf-notifications", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Warn("database connection failed, continuing with in-memory stores")
	} else {
		defer database.Close()
		if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
			log.WithError(err).Warn("migrations failed")
		}
	}

	var (
		store      notifications.Store
		recipients directory.Directory
		auditStore audit.Store
	)
	if database != nil {
		store = notifications.NewPostgresStore(database.Pool)
		recipients = directory.NewPostgresDirectory(database.Pool)
		auditStore = audit.NewPostgresStore(database.Pool)
	} else {
		store = notifications.NewMemoryStore()
		recipients = directory.NewMemoryDirectory()
		auditStore = audit.NewMemoryStore()
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Live delivery: broker -> consumer -> websocket hub
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	broker, err := notifications.NewBroker(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("notification broker setup failed")
	}
	defer broker.Close() //nolint:errcheck

	consumer := notifications.NewConsumer(broker, hub, cfg.KafkaDeliveriesTopic, log)
	if err := consumer.Start(); err != nil {
		log.WithError(err).Warn("live delivery consumer failed to start")
	}

	// Notifications
	resolver := notifications.NewResolver(recipients, cfg.RoleAliases)
	engine := notifications.NewEngine(store, resolver, broker, m, log, notifications.EngineConfig{
		BatchSize: cfg.FanoutBatchSize,
		Topic:     cfg.KafkaDeliveriesTopic,
	})
	notifHandlers := notifications.NewHandlers(
		engine,
		notifications.NewTracker(store),
		notifications.NewAggregator(store),
		store,
		log,
	)
	auditHandlers := audit.NewHandlers(auditStore)

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	wsHandler := ws.NewWSHandler(hub, jwtService, ws.NewOriginChecker(cfg.AllowedOrigins))

	// Router
	r := mux.NewRouter()
	r.Use(mw.RequestLogger(log))
	r.Use(m.Middleware())
	r.Use(mw.RateLimitMiddleware(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst))

	r.HandleFunc("/healthz", healthzHandler(database)).Methods("GET")
	r.Handle("/metrics", m.Handler()).Methods("GET")
	wsHandler.RegisterRoutes(r)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(mw.AuthMiddleware(jwtService))
	notifHandlers.RegisterRoutes(protected)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(mw.AuthMiddleware(jwtService))
	admin.Use(mw.RequireAdmin)
	admin.Use(audit.Middleware(auditStore, log, audit.WithPartialRoutes(
		"/api/admin/notifications/send",
		"/api/admin/notifications/{id}/redeliver",
	)))
	notifHandlers.RegisterAdminRoutes(admin)
	auditHandlers.RegisterRoutes(admin)

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        corsMiddleware(cfg.AllowedOrigins, r),
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("server shutdown failed")
		}
	}()

	log.WithField("port", cfg.Port).Info("starting server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed to start")
	}
	log.Info("server stopped")
}

func healthzHandler(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok", "database": "up"}
		if database == nil {
			status["database"] = "disabled"
		} else if !database.Healthy(ctx) {
			status["status"], status["database"] = "degraded", "down"
			httputil.WriteJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, status)
	}
}

// corsMiddleware wraps the whole router so OPTIONS preflight requests are
// answered before mux routing.
func corsMiddleware(allowedOrigins string, next http.Handler) http.Handler {
	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
