package gatewayapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"

	"wagate/pkg/users"
)

type ctxKey string

const principalKey ctxKey = "principal"

// principal is the authenticated caller. Admin is true for the virtual
// operator account configured via environment; that account never has a
// backing store row.
type principal struct {
	user  users.User
	admin bool
}

func principalFrom(ctx context.Context) (principal, bool) {
	p, ok := ctx.Value(principalKey).(principal)
	return p, ok
}

// cors returns a middleware that sets CORS headers and handles preflight requests.
// allowed may contain exact origins (e.g., http://localhost:3001) or "*" to allow all.
func cors(allowed []string) func(http.Handler) http.Handler {
	match := func(origin string) (string, bool) {
		if origin == "" {
			return "", false
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || a == origin {
				return a, true
			}
		}
		return "", false
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if ao, ok := match(origin); ok {
				w.Header().Set("Access-Control-Allow-Origin", ao)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Max-Age", "86400")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate resolves HTTP basic credentials to a principal. The virtual
// admin account is checked first so that an operator name colliding with a
// provisioned user never falls through to the store.
func (a *App) authenticate(r *http.Request) (principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return principal{}, errors.New("missing credentials")
	}
	if a.cfg.AdminUser != "" && a.cfg.AdminPassword != "" && username == a.cfg.AdminUser {
		if password != a.cfg.AdminPassword {
			return principal{}, errors.New("invalid credentials")
		}
		return principal{user: users.User{Username: username}, admin: true}, nil
	}
	u, err := a.store.GetByUsername(r.Context(), username)
	if err != nil {
		return principal{}, errors.New("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return principal{}, errors.New("invalid credentials")
	}
	return principal{user: u}, nil
}

// userAuth guards the dashboard routes: basic auth against the user store.
// The virtual admin is rejected here; it has no session of its own.
func (a *App) userAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="wagate"`)
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", err.Error())
			return
		}
		if p.admin {
			writeProblem(w, http.StatusBadRequest, "admin-not-allowed", "Bad Request", "admin account has no session; use a regular user")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

// adminAuth guards the admin routes. Basic auth with the virtual admin
// account always works; when JWKS is configured a bearer JWT with an admin
// role claim is accepted as well.
func (a *App) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authz := r.Header.Get("Authorization"); a.adminJWKS != nil && strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			tok := strings.TrimSpace(authz[len("Bearer "):])
			jt, err := jwt.Parse([]byte(tok),
				jwt.WithKeySet(a.adminJWKS),
				jwt.WithIssuer(a.cfg.AdminIssuer),
				jwt.WithAudience(a.cfg.AdminAudience),
				jwt.WithValidate(true),
			)
			if err != nil {
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "invalid token")
				return
			}
			role, _ := jt.Get("role")
			if rs, _ := role.(string); rs != "gateway_admin" && rs != "admin" {
				writeProblem(w, http.StatusForbidden, "forbidden", "Forbidden", "admin role required")
				return
			}
			p := principal{user: users.User{Username: jt.Subject()}, admin: true}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
			return
		}

		p, err := a.authenticate(r)
		if err != nil || !p.admin {
			w.Header().Set("WWW-Authenticate", `Basic realm="wagate-admin"`)
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "admin credentials required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}
