package gatewayapi

import (
	"net/http"
	"net/url"
	"strings"

	jmes "github.com/jmespath/go-jmespath"

	"wagate/internal/session"
)

func (a *App) startSession(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	name := p.user.Session()

	res, err := a.handshake.Start(r.Context(), name)
	if err != nil {
		a.log.Errorw("session start", "session", name, "err", err)
		writeProblem(w, http.StatusBadGateway, "session-start-failed", "Session Start Failed", err.Error())
		return
	}

	if res.Status == session.StatusConnected {
		writeJSON(w, map[string]any{
			"status":       "connected",
			"message":      "Session connected",
			"session_name": name,
		}, http.StatusOK)
		return
	}
	writeJSON(w, map[string]any{
		"status":       "pairing",
		"session_name": name,
		"qr":           res.QR,
		"qr_image":     nullIfEmpty(res.QRData),
	}, http.StatusOK)
}

func (a *App) disconnectSession(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	name := p.user.Session()

	if err := a.engine.Stop(r.Context(), name); err != nil {
		a.log.Errorw("session stop", "session", name, "err", err)
		writeProblem(w, http.StatusBadGateway, "session-stop-failed", "Session Stop Failed", err.Error())
		return
	}
	writeJSON(w, map[string]any{"message": "Session disconnected", "session_name": name}, http.StatusOK)
}

func (a *App) getSessionInfo(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	u := p.user

	writeJSON(w, map[string]any{
		"session_name": u.Session(),
		"is_connected": a.engine.IsActive(u.Session()),
		"callback_url": nullIfEmpty(u.CallbackURL),
		"event_filter": nullIfEmpty(u.EventFilter),
		"webhook_auth": map[string]any{
			"auth_type":       u.WebhookAuthType,
			"has_credentials": u.HasWebhookCredentials(),
		},
	}, http.StatusOK)
}

func (a *App) putCallback(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body struct {
		CallbackURL string `json:"callback_url"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	cb := strings.TrimSpace(body.CallbackURL)
	if cb != "" {
		u, err := url.Parse(cb)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			writeProblem(w, http.StatusBadRequest, "invalid-callback", "Bad Request", "callback_url must be an absolute http(s) URL")
			return
		}
	}
	if err := a.store.UpdateCallbackURL(r.Context(), p.user.ID, cb); err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"callback_url": nullIfEmpty(cb)}, http.StatusOK)
}

func (a *App) putEventFilter(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var body struct {
		EventFilter string `json:"event_filter"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	expr := strings.TrimSpace(body.EventFilter)
	if expr != "" {
		if _, err := jmes.Compile(expr); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid-filter", "Bad Request", "event_filter is not a valid JMESPath expression: "+err.Error())
			return
		}
	}
	if err := a.store.UpdateEventFilter(r.Context(), p.user.ID, expr); err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"event_filter": nullIfEmpty(expr)}, http.StatusOK)
}

func (a *App) listDeliveries(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	if a.journal == nil {
		writeJSON(w, map[string]any{"deliveries": []any{}}, http.StatusOK)
		return
	}
	items, err := a.journal.RecentDeliveries(r.Context(), p.user.ID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "journal-error", "Internal Server Error", err.Error())
		return
	}
	if items == nil {
		items = []map[string]any{}
	}
	writeJSON(w, map[string]any{"deliveries": items}, http.StatusOK)
}
