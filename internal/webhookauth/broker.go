// internal/webhookauth/broker.go
package webhookauth

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"wagate/pkg/users"
)

// defaultExpiresIn applies when the token endpoint omits expires_in.
const defaultExpiresIn = 3600 * time.Second

// Outcome says where the token handed back by GetValidToken came from. The
// refresh path never raises: callers branch on "did I get a usable token"
// instead of unwinding on failure.
type Outcome string

const (
	OutcomeCached    Outcome = "cached"    // unexpired cached token, no network call
	OutcomeRefreshed Outcome = "refreshed" // refresh grant succeeded, new token persisted
	OutcomeStale     Outcome = "stale"     // refresh unavailable or failed; stale cache returned as-is
	OutcomeNone      Outcome = "none"      // nothing cached at all
)

var refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wagate_token_refreshes_total",
	Help: "OAuth2 token broker resolutions by outcome.",
}, []string{"outcome"})

// Broker acquires, caches, and refreshes OAuth2 tokens for webhook delivery.
// All durable token state lives in the user store; the broker holds none of
// its own, so concurrent refreshes for one user are tolerated (duplicate
// grant calls, last write wins) rather than serialized.
type Broker struct {
	store  users.Store
	log    *zap.SugaredLogger
	client *http.Client
	now    func() time.Time
}

func NewBroker(store users.Store, log *zap.SugaredLogger, timeout time.Duration) *Broker {
	return &Broker{
		store:  store,
		log:    log,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// GetValidToken returns the token to attach to a webhook call, or "" when
// none is available. First match wins:
//  1. unexpired cached token — returned unchanged, no network call;
//  2. refresh token + full config — refresh grant, persist, return new token;
//  3. otherwise the stale cached token as-is; re-authentication needs an
//     authorization code the broker does not possess, so the delivery is
//     allowed to fail downstream instead.
func (b *Broker) GetValidToken(ctx context.Context, u users.User) (string, Outcome) {
	tok, out := b.getValidToken(ctx, u)
	refreshes.WithLabelValues(string(out)).Inc()
	return tok, out
}

func (b *Broker) getValidToken(ctx context.Context, u users.User) (string, Outcome) {
	nowMillis := b.now().UnixMilli()
	if u.OAuth2AccessToken != "" && u.OAuth2TokenExpiry > nowMillis {
		return u.OAuth2AccessToken, OutcomeCached
	}

	if u.OAuth2RefreshToken != "" && u.HasOAuth2Config() {
		seed := &oauth2.Token{RefreshToken: u.OAuth2RefreshToken}
		tok, err := b.oauthConfig(u, "").TokenSource(b.httpCtx(ctx), seed).Token()
		if err == nil {
			b.persist(ctx, u, tok)
			return tok.AccessToken, OutcomeRefreshed
		}
		b.log.Warnw("token refresh failed", "user", u.Username, "err", err)
	}

	if u.OAuth2AccessToken == "" {
		return "", OutcomeNone
	}
	return u.OAuth2AccessToken, OutcomeStale
}

// ExchangeAuthorizationCode performs the authorization-code grant and
// persists the resulting token triple. Invoked by configuration-time
// endpoints, never by the dispatch path.
func (b *Broker) ExchangeAuthorizationCode(ctx context.Context, u users.User, code, redirectURI string) error {
	tok, err := b.oauthConfig(u, redirectURI).Exchange(b.httpCtx(ctx), code)
	if err != nil {
		return err
	}
	b.persist(ctx, u, tok)
	return nil
}

// ClientCredentials performs the client-credentials grant (with the user's
// configured scope, when set) and persists the resulting token triple.
func (b *Broker) ClientCredentials(ctx context.Context, u users.User) error {
	cfg := &clientcredentials.Config{
		ClientID:     u.OAuth2ClientID,
		ClientSecret: u.OAuth2ClientSecret,
		TokenURL:     u.OAuth2TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if u.OAuth2Scope != "" {
		cfg.Scopes = []string{u.OAuth2Scope}
	}
	tok, err := cfg.Token(b.httpCtx(ctx))
	if err != nil {
		return err
	}
	b.persist(ctx, u, tok)
	return nil
}

// persist writes the token triple in one atomic record write. Expiry is
// stored as absolute epoch millis; a missing expires_in assumes one hour.
// When the endpoint returned no rotated refresh token, the old one is kept.
func (b *Broker) persist(ctx context.Context, u users.User, tok *oauth2.Token) {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = b.now().Add(defaultExpiresIn)
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = u.OAuth2RefreshToken
	}
	upd := users.TokenUpdate(tok.AccessToken, expiry.UnixMilli(), refresh)
	if err := b.store.UpdateWebhookAuth(ctx, u.ID, upd); err != nil {
		b.log.Warnw("token persist failed", "user", u.Username, "err", err)
	}
}

// oauthConfig builds the grant config for a user. Client credentials go in
// the form body (not a basic auth header), matching the token endpoints the
// gateway integrates with.
func (b *Broker) oauthConfig(u users.User, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     u.OAuth2ClientID,
		ClientSecret: u.OAuth2ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			TokenURL:  u.OAuth2TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (b *Broker) httpCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.client)
}
