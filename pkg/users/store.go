package users

import (
	"context"
)

// WebhookAuthUpdate is a partial update of a user's webhook auth record.
// Only non-nil fields are written; a non-nil pointer to the empty string
// writes NULL. This keeps TokenBroker writes (token fields only) and
// configuration writes (config fields + token reset) from trampling each
// other's columns.
type WebhookAuthUpdate struct {
	AuthType *string

	Username *string
	Password *string

	BearerToken *string

	OAuth2ClientID     *string
	OAuth2ClientSecret *string
	OAuth2TokenURL     *string
	OAuth2Scope        *string

	OAuth2AccessToken  *string
	OAuth2TokenExpiry  *int64
	OAuth2RefreshToken *string
}

// ClearTokens marks the three cached token fields for reset in this update.
// Called whenever the auth type or oauth2 client config is replaced so a
// stale token cannot outlive the config that produced it.
func (u *WebhookAuthUpdate) ClearTokens() {
	empty := ""
	var zero int64
	u.OAuth2AccessToken = &empty
	u.OAuth2TokenExpiry = &zero
	u.OAuth2RefreshToken = &empty
}

// TokenUpdate builds an update writing only the cached token triple.
func TokenUpdate(access string, expiry int64, refresh string) WebhookAuthUpdate {
	return WebhookAuthUpdate{
		OAuth2AccessToken:  &access,
		OAuth2TokenExpiry:  &expiry,
		OAuth2RefreshToken: &refresh,
	}
}

// Store is the durable per-tenant credential record store.
type Store interface {
	GetByID(ctx context.Context, id string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	GetBySessionName(ctx context.Context, session string) (User, error)
	List(ctx context.Context) ([]User, error)

	Create(ctx context.Context, username, passwordHash string) (User, error)
	Delete(ctx context.Context, id string) error

	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateSessionName(ctx context.Context, id, session string) error
	UpdateCallbackURL(ctx context.Context, id, url string) error
	UpdateEventFilter(ctx context.Context, id, expr string) error

	// UpdateWebhookAuth applies a partial update as a single atomic record
	// write. Unset fields are left untouched.
	UpdateWebhookAuth(ctx context.Context, id string, upd WebhookAuthUpdate) error
}
