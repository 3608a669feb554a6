package gatewayapi

import (
	"net/http"
	"strings"

	"wagate/pkg/users"
)

// webhookAuthBody is the wire shape for configuring webhook auth. The whole
// config is replaced on every PUT; cached oauth2 tokens are reset alongside.
type webhookAuthBody struct {
	AuthType string `json:"auth_type"`

	Username string `json:"username"`
	Password string `json:"password"`

	BearerToken string `json:"bearer_token"`

	OAuth2ClientID     string `json:"oauth2_client_id"`
	OAuth2ClientSecret string `json:"oauth2_client_secret"`
	OAuth2TokenURL     string `json:"oauth2_token_url"`
	OAuth2Scope        string `json:"oauth2_scope"`
}

func (b webhookAuthBody) toUpdate() users.WebhookAuthUpdate {
	authType := strings.TrimSpace(b.AuthType)
	upd := users.WebhookAuthUpdate{
		AuthType:           &authType,
		Username:           &b.Username,
		Password:           &b.Password,
		BearerToken:        &b.BearerToken,
		OAuth2ClientID:     &b.OAuth2ClientID,
		OAuth2ClientSecret: &b.OAuth2ClientSecret,
		OAuth2TokenURL:     &b.OAuth2TokenURL,
		OAuth2Scope:        &b.OAuth2Scope,
	}
	upd.ClearTokens()
	return upd
}

// applyWebhookAuth validates and persists a full webhook auth replacement for
// the given user. Shared between the dashboard and admin routes.
func (a *App) applyWebhookAuth(w http.ResponseWriter, r *http.Request, userID string) {
	var body webhookAuthBody
	if !decodeJSON(w, r, &body) {
		return
	}
	upd := body.toUpdate()
	if err := users.ValidateWebhookAuth(upd); err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid-webhook-auth", "Bad Request", err.Error())
		return
	}
	if err := a.store.UpdateWebhookAuth(r.Context(), userID, upd); err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"message": "Webhook authentication updated", "auth_type": *upd.AuthType}, http.StatusOK)
}

func (a *App) putWebhookAuth(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	a.applyWebhookAuth(w, r, p.user.ID)
}

// getWebhookAuth returns the current config with secrets masked. Cached token
// material is summarized, never returned.
func (a *App) getWebhookAuth(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	u, err := a.store.GetByID(r.Context(), p.user.ID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}

	out := map[string]any{"auth_type": u.WebhookAuthType}
	switch u.WebhookAuthType {
	case users.AuthBasic:
		out["username"] = u.WebhookAuthUsername
		out["password"] = maskSecret(u.WebhookAuthPassword)
	case users.AuthBearer:
		out["bearer_token"] = maskSecret(u.WebhookAuthBearerToken)
	case users.AuthOAuth2:
		out["oauth2_client_id"] = u.OAuth2ClientID
		out["oauth2_client_secret"] = maskSecret(u.OAuth2ClientSecret)
		out["oauth2_token_url"] = u.OAuth2TokenURL
		out["oauth2_scope"] = nullIfEmpty(u.OAuth2Scope)
		out["oauth2_has_token"] = u.OAuth2AccessToken != ""
		out["oauth2_has_refresh_token"] = u.OAuth2RefreshToken != ""
		out["oauth2_token_expiry"] = u.OAuth2TokenExpiry
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) exchangeOAuth2Code(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body struct {
		Code        string `json:"code"`
		RedirectURI string `json:"redirect_uri"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		writeProblem(w, http.StatusBadRequest, "invalid-grant-request", "Bad Request", "code is required")
		return
	}

	u, err := a.store.GetByID(r.Context(), p.user.ID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	if u.WebhookAuthType != users.AuthOAuth2 || !u.HasOAuth2Config() {
		writeProblem(w, http.StatusBadRequest, "oauth2-not-configured", "Bad Request", "OAuth2 is not configured for this user")
		return
	}
	if err := a.broker.ExchangeAuthorizationCode(r.Context(), u, body.Code, body.RedirectURI); err != nil {
		writeProblem(w, http.StatusBadRequest, "oauth2-grant-failed", "Bad Request", err.Error())
		return
	}
	writeJSON(w, map[string]any{"message": "OAuth2 token acquired"}, http.StatusOK)
}

func (a *App) fetchClientCredentials(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	u, err := a.store.GetByID(r.Context(), p.user.ID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	if u.WebhookAuthType != users.AuthOAuth2 || !u.HasOAuth2Config() {
		writeProblem(w, http.StatusBadRequest, "oauth2-not-configured", "Bad Request", "OAuth2 is not configured for this user")
		return
	}
	if err := a.broker.ClientCredentials(r.Context(), u); err != nil {
		writeProblem(w, http.StatusBadRequest, "oauth2-grant-failed", "Bad Request", err.Error())
		return
	}
	writeJSON(w, map[string]any{"message": "OAuth2 token acquired"}, http.StatusOK)
}
