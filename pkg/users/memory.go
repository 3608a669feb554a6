// pkg/users/memory.go
package users

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	log  *zap.SugaredLogger
	mu   sync.RWMutex
	byID map[string]User
}

// NewMemoryStore returns an empty in-memory store. Used in tests and as the
// dev fallback when no database is configured.
func NewMemoryStore(log *zap.SugaredLogger) Store {
	return &memStore{log: log, byID: map[string]User{}}
}

// NewMemoryStoreFromEnv seeds an in-memory store from USER_SEED_JSON using
// the same entry format as the postgres seeder.
func NewMemoryStoreFromEnv(log *zap.SugaredLogger) Store {
	s := &memStore{log: log, byID: map[string]User{}}
	seed := os.Getenv("USER_SEED_JSON")
	if seed != "" {
		var entries []struct {
			Username    string `json:"username"`
			Password    string `json:"password"`
			SessionName string `json:"session_name"`
			CallbackURL string `json:"callback_url"`
		}
		_ = json.Unmarshal([]byte(seed), &entries)
		for _, e := range entries {
			hash, err := bcrypt.GenerateFromPassword([]byte(e.Password), bcrypt.DefaultCost)
			if err != nil {
				continue
			}
			id := uuid.NewString()
			s.byID[id] = User{
				ID: id, Username: e.Username, PasswordHash: string(hash),
				SessionName: e.SessionName, CallbackURL: e.CallbackURL,
				WebhookAuthType: AuthNone,
			}
		}
	}
	return s
}

func (s *memStore) GetByID(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.byID[id]; ok {
		return u, nil
	}
	return User{}, ErrNotFound
}

func (s *memStore) GetByUsername(ctx context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *memStore) GetBySessionName(ctx context.Context, session string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.byID {
		if u.Session() == session {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *memStore) List(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *memStore) Create(ctx context.Context, username, passwordHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Username == username {
			return User{}, errors.New("username already exists")
		}
	}
	u := User{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash, WebhookAuthType: AuthNone}
	s.byID[u.ID] = u
	return u, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *memStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.mutate(id, func(u *User) { u.PasswordHash = passwordHash })
}

func (s *memStore) UpdateSessionName(ctx context.Context, id, session string) error {
	return s.mutate(id, func(u *User) { u.SessionName = session })
}

func (s *memStore) UpdateCallbackURL(ctx context.Context, id, url string) error {
	return s.mutate(id, func(u *User) { u.CallbackURL = url })
}

func (s *memStore) UpdateEventFilter(ctx context.Context, id, expr string) error {
	return s.mutate(id, func(u *User) { u.EventFilter = expr })
}

func (s *memStore) UpdateWebhookAuth(ctx context.Context, id string, upd WebhookAuthUpdate) error {
	return s.mutate(id, func(u *User) { applyWebhookAuth(u, upd) })
}

// mutate applies fn to the record under the write lock, making each update a
// single atomic record write.
func (s *memStore) mutate(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	s.byID[id] = u
	return nil
}

func applyWebhookAuth(u *User, upd WebhookAuthUpdate) {
	if upd.AuthType != nil {
		u.WebhookAuthType = *upd.AuthType
	}
	if upd.Username != nil {
		u.WebhookAuthUsername = *upd.Username
	}
	if upd.Password != nil {
		u.WebhookAuthPassword = *upd.Password
	}
	if upd.BearerToken != nil {
		u.WebhookAuthBearerToken = *upd.BearerToken
	}
	if upd.OAuth2ClientID != nil {
		u.OAuth2ClientID = *upd.OAuth2ClientID
	}
	if upd.OAuth2ClientSecret != nil {
		u.OAuth2ClientSecret = *upd.OAuth2ClientSecret
	}
	if upd.OAuth2TokenURL != nil {
		u.OAuth2TokenURL = *upd.OAuth2TokenURL
	}
	if upd.OAuth2Scope != nil {
		u.OAuth2Scope = *upd.OAuth2Scope
	}
	if upd.OAuth2AccessToken != nil {
		u.OAuth2AccessToken = *upd.OAuth2AccessToken
	}
	if upd.OAuth2TokenExpiry != nil {
		u.OAuth2TokenExpiry = *upd.OAuth2TokenExpiry
	}
	if upd.OAuth2RefreshToken != nil {
		u.OAuth2RefreshToken = *upd.OAuth2RefreshToken
	}
}
