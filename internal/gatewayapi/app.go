package gatewayapi

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"

	"wagate/internal/dispatch"
	"wagate/internal/engine"
	"wagate/internal/session"
	"wagate/pkg/users"
)

// Config holds the gateway API configuration.
type Config struct {
	AdminUser     string
	AdminPassword string

	// Optional bearer-JWT admin auth. When JWKSURL is set, admin requests
	// may carry a signed token instead of basic credentials.
	AdminJWKSURL  string
	AdminIssuer   string
	AdminAudience string
}

// Broker is the token acquisition surface the handlers need.
type Broker interface {
	ExchangeAuthorizationCode(ctx context.Context, u users.User, code, redirectURI string) error
	ClientCredentials(ctx context.Context, u users.User) error
}

// App is the gateway API application container. Handlers and middleware have
// methods on this type. Keep it lean: shared deps and config only;
// request-scoped work uses context.
type App struct {
	log       *zap.SugaredLogger
	store     users.Store
	engine    engine.Engine
	handshake *session.Handshake
	broker    Broker
	journal   *dispatch.Dispatcher // nil when dispatch is not configured
	cfg       Config

	adminJWKS jwk.Set
}

// New constructs App and performs one-time startup tasks (admin JWKS fetch).
func New(log *zap.SugaredLogger, store users.Store, eng engine.Engine, hs *session.Handshake, broker Broker, journal *dispatch.Dispatcher, cfg Config) *App {
	app := &App{
		log:       log,
		store:     store,
		engine:    eng,
		handshake: hs,
		broker:    broker,
		journal:   journal,
		cfg:       cfg,
	}
	if cfg.AdminJWKSURL != "" {
		app.adminJWKS = mustJWKS(cfg.AdminJWKSURL)
	}
	return app
}

// mustJWKS fetches JWKS and panics on failure.
func mustJWKS(url string) jwk.Set {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	set, err := jwk.Fetch(ctx, url)
	if err != nil {
		panic(err)
	}
	return set
}
