package webhookauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wagate/internal/webhookauth"
	"wagate/pkg/logger"
	"wagate/pkg/users"
)

type tokenEndpoint struct {
	t        *testing.T
	calls    int
	wantForm map[string]string
	status   int
	resp     map[string]any
}

func (e *tokenEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e.calls++
		require.Equal(e.t, http.MethodPost, r.Method)
		require.Contains(e.t, r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
		require.NoError(e.t, r.ParseForm())
		for k, v := range e.wantForm {
			require.Equal(e.t, v, r.PostForm.Get(k), "form field %s", k)
		}
		w.Header().Set("Content-Type", "application/json")
		if e.status != 0 {
			w.WriteHeader(e.status)
		}
		_ = json.NewEncoder(w).Encode(e.resp)
	}
}

func oauth2User(t *testing.T, s users.Store, tokenURL string, seed users.WebhookAuthUpdate) users.User {
	t.Helper()
	u, err := s.Create(context.Background(), "acme", "x")
	require.NoError(t, err)
	typ := users.AuthOAuth2
	cid, csec := "client-1", "secret-1"
	upd := users.WebhookAuthUpdate{
		AuthType:           &typ,
		OAuth2ClientID:     &cid,
		OAuth2ClientSecret: &csec,
		OAuth2TokenURL:     &tokenURL,
	}
	require.NoError(t, s.UpdateWebhookAuth(context.Background(), u.ID, upd))
	require.NoError(t, s.UpdateWebhookAuth(context.Background(), u.ID, seed))
	u, err = s.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	return u
}

func TestGetValidTokenCacheHit(t *testing.T) {
	ep := &tokenEndpoint{t: t}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	store := users.NewMemoryStore(logger.Nop())
	future := time.Now().Add(10 * time.Minute).UnixMilli()
	u := oauth2User(t, store, srv.URL, users.TokenUpdate("cached-token", future, ""))

	b := webhookauth.NewBroker(store, logger.Nop(), time.Second)
	tok, out := b.GetValidToken(context.Background(), u)
	require.Equal(t, "cached-token", tok)
	require.Equal(t, webhookauth.OutcomeCached, out)
	require.Zero(t, ep.calls, "cache hit must not touch the network")
}

func TestGetValidTokenRefreshes(t *testing.T) {
	ep := &tokenEndpoint{
		t: t,
		wantForm: map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": "refresh-1",
			"client_id":     "client-1",
			"client_secret": "secret-1",
		},
		resp: map[string]any{
			"access_token":  "fresh-token",
			"token_type":    "Bearer",
			"expires_in":    120,
			"refresh_token": "refresh-2",
		},
	}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	store := users.NewMemoryStore(logger.Nop())
	past := time.Now().Add(-time.Minute).UnixMilli()
	u := oauth2User(t, store, srv.URL, users.TokenUpdate("expired-token", past, "refresh-1"))

	b := webhookauth.NewBroker(store, logger.Nop(), time.Second)
	tok, out := b.GetValidToken(context.Background(), u)
	require.Equal(t, "fresh-token", tok)
	require.Equal(t, webhookauth.OutcomeRefreshed, out)
	require.Equal(t, 1, ep.calls)

	got, err := store.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "fresh-token", got.OAuth2AccessToken)
	require.Equal(t, "refresh-2", got.OAuth2RefreshToken)
	require.Greater(t, got.OAuth2TokenExpiry, time.Now().UnixMilli())

	// persisted token is a cache hit now; no further calls
	tok, out = b.GetValidToken(context.Background(), got)
	require.Equal(t, "fresh-token", tok)
	require.Equal(t, webhookauth.OutcomeCached, out)
	require.Equal(t, 1, ep.calls)
}

func TestGetValidTokenNoRefreshTokenReturnsStale(t *testing.T) {
	ep := &tokenEndpoint{t: t}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	store := users.NewMemoryStore(logger.Nop())
	past := time.Now().Add(-time.Minute).UnixMilli()
	u := oauth2User(t, store, srv.URL, users.TokenUpdate("stale-token", past, ""))

	b := webhookauth.NewBroker(store, logger.Nop(), time.Second)
	tok, out := b.GetValidToken(context.Background(), u)
	require.Equal(t, "stale-token", tok)
	require.Equal(t, webhookauth.OutcomeStale, out)
	require.Zero(t, ep.calls)

	// the stale token is not nulled out
	got, err := store.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "stale-token", got.OAuth2AccessToken)
}

func TestGetValidTokenRefreshFailureDegrades(t *testing.T) {
	ep := &tokenEndpoint{t: t, status: http.StatusBadRequest, resp: map[string]any{"error": "invalid_grant"}}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	store := users.NewMemoryStore(logger.Nop())
	past := time.Now().Add(-time.Minute).UnixMilli()
	u := oauth2User(t, store, srv.URL, users.TokenUpdate("stale-token", past, "refresh-1"))

	b := webhookauth.NewBroker(store, logger.Nop(), time.Second)
	tok, out := b.GetValidToken(context.Background(), u)
	require.Equal(t, "stale-token", tok)
	require.Equal(t, webhookauth.OutcomeStale, out)
	require.Equal(t, 1, ep.calls)

	got, err := store.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "stale-token", got.OAuth2AccessToken)
	require.Equal(t, "refresh-1", got.OAuth2RefreshToken)
}

func TestGetValidTokenNothingCached(t *testing.T) {
	store := users.NewMemoryStore(logger.Nop())
	u := oauth2User(t, store, "https://idp.test/token", users.WebhookAuthUpdate{})

	b := webhookauth.NewBroker(store, logger.Nop(), time.Second)
	tok, out := b.GetValidToken(context.Background(), u)
	require.Empty(t, tok)
	require.Equal(t, webhookauth.OutcomeNone, out)
}

func TestExchangeAuthorizationCode(t *testing.T) {
	ep := &tokenEndpoint{
		t: t,
		wantForm: map[string]string{
			"grant_type":    "authorization_code",
			"code":          "auth-code-1",
			"redirect_uri":  "https://acme.test/callback",
			"client_id":     "client-1",
			"client_secret": "secret-1",
		},
		resp: map[string]any{
			"access_token":  "code-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
		},
	}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	store := users.NewMemoryStore(logger.Nop())
	u := oauth2User(t, store, srv.URL, users.WebhookAuthUpdate{})

	b := webhookauth.NewBroker(store, logger.Nop(), time.Second)
	require.NoError(t, b.ExchangeAuthorizationCode(context.Background(), u, "auth-code-1", "https://acme.test/callback"))

	got, err := store.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "code-token", got.OAuth2AccessToken)
	require.Equal(t, "refresh-1", got.OAuth2RefreshToken)
	require.Greater(t, got.OAuth2TokenExpiry, time.Now().UnixMilli())
}

func TestExchangeAuthorizationCodeError(t *testing.T) {
	ep := &tokenEndpoint{t: t, status: http.StatusBadRequest, resp: map[string]any{"error": "invalid_code"}}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	store := users.NewMemoryStore(logger.Nop())
	u := oauth2User(t, store, srv.URL, users.WebhookAuthUpdate{})

	b := webhookauth.NewBroker(store, logger.Nop(), time.Second)
	err := b.ExchangeAuthorizationCode(context.Background(), u, "bad-code", "")
	require.Error(t, err)

	got, gerr := store.GetByID(context.Background(), u.ID)
	require.NoError(t, gerr)
	require.Empty(t, got.OAuth2AccessToken)
}

func TestClientCredentials(t *testing.T) {
	ep := &tokenEndpoint{
		t: t,
		wantForm: map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     "client-1",
			"client_secret": "secret-1",
			"scope":         "events:write",
		},
		// no expires_in: broker assumes one hour
		resp: map[string]any{"access_token": "cc-token", "token_type": "Bearer"},
	}
	srv := httptest.NewServer(ep.handler())
	defer srv.Close()

	store := users.NewMemoryStore(logger.Nop())
	scope := "events:write"
	u := oauth2User(t, store, srv.URL, users.WebhookAuthUpdate{OAuth2Scope: &scope})

	b := webhookauth.NewBroker(store, logger.Nop(), time.Second)
	require.NoError(t, b.ClientCredentials(context.Background(), u))

	got, err := store.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, "cc-token", got.OAuth2AccessToken)
	wantExpiry := time.Now().Add(time.Hour).UnixMilli()
	require.InDelta(t, wantExpiry, got.OAuth2TokenExpiry, float64(30*time.Second.Milliseconds()))
}
