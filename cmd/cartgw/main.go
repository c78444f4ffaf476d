package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	edgegateway "github.com/cartwheel-labs/edge-gateway"
	"github.com/cartwheel-labs/edge-gateway/internal/admin"
	"github.com/cartwheel-labs/edge-gateway/internal/cache"
	"github.com/cartwheel-labs/edge-gateway/internal/logging"
	"github.com/cartwheel-labs/edge-gateway/internal/requestlog"
	"github.com/cartwheel-labs/edge-gateway/internal/version"
)

func main() {
	logging.Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg := edgegateway.DefaultConfig()
	if cfgPath := os.Getenv("GATEWAY_CONFIG"); cfgPath != "" {
		loaded, err := edgegateway.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
		log.Printf("Config loaded: %d capability(ies), %d route(s)", len(cfg.Capabilities), len(cfg.Routes))
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Invalid environment override: %v", err)
	}

	gw, err := buildGateway(cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	logStore := openRequestLog()
	if logStore != nil {
		gw.SetRequestLog(logStore)
		defer func() {
			_ = logStore.Close()
		}()
	}

	keyStore := openKeyStore()

	r := newRouter(gw, keyStore, logStore, cfg.CORSOrigins)

	addr := ":8080"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go gw.RunMaintenance(ctx, 5*time.Minute)

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		_ = gw.Close()
	}()

	log.Printf("CartGateway %s listening on %s (%d route(s))", version.Short(), addr, len(cfg.Routes))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	log.Println("Server stopped.")
}

// buildGateway wires the cache stores: Redis-backed when REDIS_URL is set,
// in-memory otherwise.
func buildGateway(cfg edgegateway.Config) (*edgegateway.Gateway, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return edgegateway.New(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	credentials, err := cache.NewRedis(ctx, redisURL, "cartgw:cred", cfg.Auth.CredentialTTL.Std())
	if err != nil {
		return nil, err
	}
	responses, err := cache.NewRedis(ctx, redisURL, "cartgw:resp", cfg.Cache.ResponseTTL.Std())
	if err != nil {
		_ = credentials.Close()
		return nil, err
	}
	log.Println("Cache stores: redis")
	return edgegateway.NewWithStores(cfg, credentials, responses)
}

// openRequestLog opens the access-log store selected by REQUEST_LOG_DRIVER.
// Unset or "none" disables persistence.
func openRequestLog() *requestlog.SQLStore {
	driver := os.Getenv("REQUEST_LOG_DRIVER")
	dsn := os.Getenv("REQUEST_LOG_DSN")
	switch driver {
	case "", "none":
		return nil
	case "sqlite":
		store, err := requestlog.NewSQLiteStore(dsn)
		if err != nil {
			log.Fatalf("Request log store: %v", err)
		}
		log.Println("Request log: sqlite")
		return store
	case "postgres":
		store, err := requestlog.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("Request log store: %v", err)
		}
		log.Println("Request log: postgres")
		return store
	default:
		log.Fatalf("Unknown REQUEST_LOG_DRIVER %q (want sqlite, postgres, or none)", driver)
		return nil
	}
}

// openKeyStore opens the control API key store selected by
// ADMIN_KEYS_DRIVER. The in-memory store is the default; it starts empty,
// so a bootstrap key is created and printed once.
func openKeyStore() admin.Store {
	driver := os.Getenv("ADMIN_KEYS_DRIVER")
	dsn := os.Getenv("ADMIN_KEYS_DSN")
	var store admin.Store
	switch driver {
	case "", "memory":
		store = admin.NewKeyStore()
	case "sqlite":
		s, err := admin.NewSQLiteStore(dsn)
		if err != nil {
			log.Fatalf("Admin key store: %v", err)
		}
		store = s
	case "postgres":
		s, err := admin.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("Admin key store: %v", err)
		}
		store = s
	default:
		log.Fatalf("Unknown ADMIN_KEYS_DRIVER %q (want memory, sqlite, or postgres)", driver)
	}

	if len(store.List()) == 0 {
		key, err := store.Create("bootstrap", []string{admin.ScopeAdmin}, nil)
		if err != nil {
			log.Fatalf("Bootstrap admin key: %v", err)
		}
		log.Printf("Bootstrap admin key (shown once): %s", key.Key)
	}
	return store
}

// newRouter builds the HTTP surface: health and metrics, the control API
// under /admin, and the proxy pipeline under /api.
func newRouter(gw *edgegateway.Gateway, keyStore admin.Store, logStore *requestlog.SQLStore, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(corsOrigins))

	health := func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "ok",
			"capabilities": gw.Capabilities(),
		})
	}
	r.Get("/health", health)
	r.Get("/healthz", health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	adminHandlers := &admin.Handlers{
		Keys:    keyStore,
		Gateway: gw,
	}
	if logStore != nil {
		adminHandlers.Logs = logStore
		adminHandlers.LogAdmin = logStore
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.AuthMiddleware(keyStore))
		r.Mount("/", adminHandlers.Routes())
	})

	r.Handle("/api/*", gw)

	return r
}
