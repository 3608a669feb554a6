// internal/webhookauth/resolver.go
package webhookauth

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"wagate/pkg/users"
)

// TokenSource is the broker surface the resolver needs.
type TokenSource interface {
	GetValidToken(ctx context.Context, u users.User) (string, Outcome)
}

// HeaderResolver turns a user's webhook auth policy into the header set for
// an outbound call. It never fails: missing credentials yield an empty set
// and the delivery proceeds unauthenticated, since webhook dispatch is
// fire-and-forget.
type HeaderResolver struct {
	tokens TokenSource
	log    *zap.SugaredLogger
}

func NewHeaderResolver(tokens TokenSource, log *zap.SugaredLogger) *HeaderResolver {
	return &HeaderResolver{tokens: tokens, log: log}
}

// Headers returns the headers to attach for the user's policy. The token
// broker is consulted only for the oauth2 policy.
func (r *HeaderResolver) Headers(ctx context.Context, u users.User) map[string]string {
	switch u.WebhookAuthType {
	case users.AuthBasic:
		if u.WebhookAuthUsername != "" && u.WebhookAuthPassword != "" {
			creds := base64.StdEncoding.EncodeToString([]byte(u.WebhookAuthUsername + ":" + u.WebhookAuthPassword))
			return map[string]string{"Authorization": "Basic " + creds}
		}
	case users.AuthBearer:
		if u.WebhookAuthBearerToken != "" {
			return map[string]string{"Authorization": "Bearer " + u.WebhookAuthBearerToken}
		}
	case users.AuthOAuth2:
		if tok, _ := r.tokens.GetValidToken(ctx, u); tok != "" {
			return map[string]string{"Authorization": "Bearer " + tok}
		}
	}
	return map[string]string{}
}
