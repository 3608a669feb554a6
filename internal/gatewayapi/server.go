package gatewayapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	allowed := []string{"http://localhost:3001"}
	if v := strings.TrimSpace(os.Getenv("WAGATE_CORS_ORIGINS")); v != "" {
		parts := strings.Split(v, ",")
		tmp := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				tmp = append(tmp, s)
			}
		}
		if len(tmp) > 0 {
			allowed = tmp
		}
	}

	r.Route("/dashboard", func(dr chi.Router) {
		dr.Use(cors(allowed))
		dr.Use(a.userAuth)
		dr.Post("/session/start", a.startSession)
		dr.Post("/session/disconnect", a.disconnectSession)
		dr.Get("/session/info", a.getSessionInfo)
		dr.Put("/callback", a.putCallback)
		dr.Put("/event-filter", a.putEventFilter)
		dr.Get("/webhook-auth", a.getWebhookAuth)
		dr.Put("/webhook-auth", a.putWebhookAuth)
		dr.Post("/webhook-auth/oauth2-token", a.exchangeOAuth2Code)
		dr.Post("/webhook-auth/oauth2-client-credentials", a.fetchClientCredentials)
		dr.Get("/deliveries", a.listDeliveries)
	})

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(cors(allowed))
		ar.Use(a.adminAuth)
		ar.Get("/users", a.listUsers)
		ar.Post("/users", a.createUser)
		ar.Delete("/users/{id}", a.deleteUser)
		ar.Put("/users/{id}/password", a.putUserPassword)
		ar.Put("/users/{id}/webhook-auth", a.putUserWebhookAuth)
	})

	return r
}
