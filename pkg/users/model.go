package users

import (
	"errors"
	"fmt"
)

// Webhook auth policies. Exactly one is active per user.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthOAuth2 = "oauth2"
)

var ErrNotFound = errors.New("user not found")

// User is one gateway tenant: one messaging session, one webhook config.
// The admin identity is virtual (env credentials) and never appears here.
type User struct {
	ID           string // uuid
	Username     string
	PasswordHash string // bcrypt
	SessionName  string // engine session key; empty -> username
	CallbackURL  string // webhook target; empty disables dispatch
	EventFilter  string // optional JMESPath expression gating dispatch

	WebhookAuthType string // none | basic | bearer | oauth2

	// basic
	WebhookAuthUsername string
	WebhookAuthPassword string

	// bearer
	WebhookAuthBearerToken string

	// oauth2 client configuration
	OAuth2ClientID     string
	OAuth2ClientSecret string
	OAuth2TokenURL     string
	OAuth2Scope        string

	// oauth2 cached token state. Derived, never user-editable; the three
	// fields are always cleared together when the auth type or oauth2
	// config changes.
	OAuth2AccessToken  string
	OAuth2TokenExpiry  int64 // absolute epoch millis; 0 = no token
	OAuth2RefreshToken string
}

// Session returns the engine session key for the user.
func (u User) Session() string {
	if u.SessionName != "" {
		return u.SessionName
	}
	return u.Username
}

// HasOAuth2Config reports whether the full oauth2 client config is present.
func (u User) HasOAuth2Config() bool {
	return u.OAuth2ClientID != "" && u.OAuth2ClientSecret != "" && u.OAuth2TokenURL != ""
}

// HasWebhookCredentials reports whether the fields required by the active
// auth policy are actually present, not merely that a policy is selected.
func (u User) HasWebhookCredentials() bool {
	switch u.WebhookAuthType {
	case AuthBasic:
		return u.WebhookAuthUsername != "" && u.WebhookAuthPassword != ""
	case AuthBearer:
		return u.WebhookAuthBearerToken != ""
	case AuthOAuth2:
		return u.HasOAuth2Config()
	}
	return false
}

// ValidateWebhookAuth checks that the fields required by the selected auth
// type are present. Enforced at configuration time, never at dispatch time.
func ValidateWebhookAuth(u WebhookAuthUpdate) error {
	if u.AuthType == nil {
		return errors.New("auth_type is required")
	}
	switch *u.AuthType {
	case AuthNone:
		return nil
	case AuthBasic:
		if strDeref(u.Username) == "" || strDeref(u.Password) == "" {
			return errors.New("username and password are required for basic authentication")
		}
	case AuthBearer:
		if strDeref(u.BearerToken) == "" {
			return errors.New("bearer token is required for bearer authentication")
		}
	case AuthOAuth2:
		if strDeref(u.OAuth2ClientID) == "" || strDeref(u.OAuth2ClientSecret) == "" || strDeref(u.OAuth2TokenURL) == "" {
			return errors.New("client ID, client secret, and token URL are required for OAuth2 authentication")
		}
	default:
		return fmt.Errorf("unknown auth type %q", *u.AuthType)
	}
	return nil
}

func strDeref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
