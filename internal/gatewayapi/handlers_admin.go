package gatewayapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"wagate/pkg/users"
)

func (a *App) listUsers(w http.ResponseWriter, r *http.Request) {
	all, err := a.store.List(r.Context())
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	out := make([]map[string]any, 0, len(all))
	for _, u := range all {
		out = append(out, map[string]any{
			"id":                u.ID,
			"username":          u.Username,
			"session_name":      u.Session(),
			"callback_url":      nullIfEmpty(u.CallbackURL),
			"webhook_auth_type": u.WebhookAuthType,
			"is_connected":      a.engine.IsActive(u.Session()),
		})
	}
	writeJSON(w, map[string]any{"users": out}, http.StatusOK)
}

func (a *App) createUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		SessionName string `json:"session_name"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		writeProblem(w, http.StatusBadRequest, "invalid-user", "Bad Request", "username and password are required")
		return
	}
	if a.cfg.AdminUser != "" && username == a.cfg.AdminUser {
		writeProblem(w, http.StatusConflict, "username-taken", "Conflict", "username is reserved")
		return
	}
	if _, err := a.store.GetByUsername(r.Context(), username); err == nil {
		writeProblem(w, http.StatusConflict, "username-taken", "Conflict", "username already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "hash-error", "Internal Server Error", err.Error())
		return
	}
	u, err := a.store.Create(r.Context(), username, string(hash))
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	if name := strings.TrimSpace(body.SessionName); name != "" {
		if err := a.store.UpdateSessionName(r.Context(), u.ID, name); err != nil {
			writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
			return
		}
		u.SessionName = name
	}
	writeJSON(w, map[string]any{
		"id":           u.ID,
		"username":     u.Username,
		"session_name": u.Session(),
	}, http.StatusCreated)
}

func (a *App) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "user-not-found", "Not Found", "no such user")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}

	// Tear down the live session first; a failure there is logged but does
	// not keep the record alive.
	if a.engine.IsActive(u.Session()) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		if err := a.engine.Stop(ctx, u.Session()); err != nil {
			a.log.Warnw("session stop on delete", "session", u.Session(), "err", err)
		}
		cancel()
	}

	if err := a.store.Delete(r.Context(), id); err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"message": "User deleted", "id": id}, http.StatusOK)
}

func (a *App) putUserPassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Password == "" {
		writeProblem(w, http.StatusBadRequest, "invalid-password", "Bad Request", "password is required")
		return
	}
	if _, err := a.store.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "user-not-found", "Not Found", "no such user")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "hash-error", "Internal Server Error", err.Error())
		return
	}
	if err := a.store.UpdatePassword(r.Context(), id, string(hash)); err != nil {
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"message": "Password updated", "id": id}, http.StatusOK)
}

func (a *App) putUserWebhookAuth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := a.store.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "user-not-found", "Not Found", "no such user")
			return
		}
		writeProblem(w, http.StatusInternalServerError, "store-error", "Internal Server Error", err.Error())
		return
	}
	a.applyWebhookAuth(w, r, id)
}
