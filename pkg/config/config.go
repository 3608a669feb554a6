// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Virtual admin identity. Admin is never a row in the user store;
	// credentials live only in the environment.
	AdminUser     string
	AdminPassword string

	// Optional bearer-JWT admin auth (JWKS). When set, admin requests may
	// also authenticate with a signed token instead of basic credentials.
	AdminJWKSURL  string
	AdminIssuer   string
	AdminAudience string

	// Webhook dispatch
	WebhookTimeout time.Duration // outbound call timeout (token endpoint + webhook targets)
	JournalSize    int           // per-user delivery journal length kept in redis

	// Declarative user provisioning
	UsersDir string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:            env("WAGATE_ENV", "dev"),
		HTTPAddr:       env("WAGATE_HTTP_ADDR", ":8080"),
		AdminUser:      env("WAGATE_ADMIN_USER", "admin"),
		AdminPassword:  env("WAGATE_ADMIN_PASSWORD", ""),
		AdminJWKSURL:   env("WAGATE_ADMIN_JWKS_URL", ""),
		AdminIssuer:    env("WAGATE_ADMIN_ISSUER", ""),
		AdminAudience:  env("WAGATE_ADMIN_AUDIENCE", "wagate-admin"),
		WebhookTimeout: envDur("WAGATE_WEBHOOK_TIMEOUT_SEC", 5) * time.Second,
		JournalSize:    envInt("WAGATE_JOURNAL_SIZE", 50),
		UsersDir:       env("WAGATE_USERS_DIR", ""),
		RedisURL:       env("REDIS_URL", ""),
		DatabaseURL:    env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory user store for dev")
	}
	if cfg.AdminPassword == "" && cfg.AdminJWKSURL == "" {
		log.Println("[WARN] WAGATE_ADMIN_PASSWORD not set — admin API disabled")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
