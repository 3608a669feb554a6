// cmd/gateway-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wagate/internal/dispatch"
	"wagate/internal/engine"
	"wagate/internal/gatewayapi"
	"wagate/internal/session"
	"wagate/internal/webhookauth"
	"wagate/pkg/config"
	"wagate/pkg/db"
	"wagate/pkg/logger"
	"wagate/pkg/middleware"
	"wagate/pkg/users"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	var pool = db.MustConnect(cfg, log)

	var store users.Store
	if pool != nil {
		store = users.NewPostgresStore(pool, log)
		if err := users.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := users.SeedFromEnv(context.Background(), pool, os.Getenv("USER_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
	} else {
		store = users.NewMemoryStoreFromEnv(log)
	}
	if cfg.UsersDir != "" {
		if err := users.ImportFromDir(context.Background(), store, log, cfg.UsersDir); err != nil {
			log.Warnw("user import", "dir", cfg.UsersDir, "err", err)
		}
	}

	rdb := db.MustRedis(cfg, log)

	eng := engine.NewMemoryEngine(log)
	broker := webhookauth.NewBroker(store, log, cfg.WebhookTimeout)
	resolver := webhookauth.NewHeaderResolver(broker, log)
	dispatcher := dispatch.New(store, resolver, rdb, log, cfg.WebhookTimeout, cfg.JournalSize)

	// One subscription for the life of the process; every session status
	// change fans out to the owning user's webhook.
	session.NewBridge(eng, dispatcher, log)

	app := gatewayapi.New(log, store, eng, session.NewHandshake(eng, log), broker, dispatcher, gatewayapi.Config{
		AdminUser:     cfg.AdminUser,
		AdminPassword: cfg.AdminPassword,
		AdminJWKSURL:  cfg.AdminJWKSURL,
		AdminIssuer:   cfg.AdminIssuer,
		AdminAudience: cfg.AdminAudience,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(log))
	r.Use(middleware.Tracing())

	r.Mount("/", app.Handler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("gateway-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("gateway-service stopped")
}
