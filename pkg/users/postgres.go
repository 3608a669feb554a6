// pkg/users/postgres.go
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed user store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist plus
// webhook-auth columns added after initial versions. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
  id uuid PRIMARY KEY,
  username text UNIQUE NOT NULL,
  password_hash text NOT NULL,
  session_name text DEFAULT '',
  callback_url text DEFAULT '',
  event_filter text DEFAULT '',
  webhook_auth_type text NOT NULL DEFAULT 'none',
  webhook_auth_username text DEFAULT '',
  webhook_auth_password text DEFAULT '',
  webhook_auth_bearer_token text DEFAULT '',
  oauth2_client_id text DEFAULT '',
  oauth2_client_secret text DEFAULT '',
  oauth2_token_url text DEFAULT '',
  oauth2_scope text DEFAULT '',
  oauth2_access_token text DEFAULT '',
  oauth2_token_expiry bigint NOT NULL DEFAULT 0,
  oauth2_refresh_token text DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT NOW()
);
-- Backfill / ensure columns added after initial versions (for upgrades)
ALTER TABLE users ADD COLUMN IF NOT EXISTS event_filter text DEFAULT '';
ALTER TABLE users ADD COLUMN IF NOT EXISTS webhook_auth_bearer_token text DEFAULT '';
ALTER TABLE users ADD COLUMN IF NOT EXISTS oauth2_scope text DEFAULT '';
ALTER TABLE users ADD COLUMN IF NOT EXISTS oauth2_refresh_token text DEFAULT '';
CREATE UNIQUE INDEX IF NOT EXISTS users_session_name_idx ON users(session_name) WHERE session_name <> '';
`)
	return err
}

// SeedFromEnv ingests initial users. jsonSeed format (USER_SEED_JSON):
//
//	[{"username":"acme","password":"secret","session_name":"acme","callback_url":"https://acme.test/hook"}]
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		SessionName string `json:"session_name"`
		CallbackURL string `json:"callback_url"`
	}
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, e := range entries {
		hash, err := bcrypt.GenerateFromPassword([]byte(e.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		_, _ = dbPool.Exec(ctx, `INSERT INTO users(id,username,password_hash,session_name,callback_url)
		  VALUES ($1,$2,$3,$4,$5)
		  ON CONFLICT (username) DO UPDATE SET session_name=EXCLUDED.session_name,callback_url=EXCLUDED.callback_url`,
			uuid.NewString(), e.Username, string(hash), e.SessionName, e.CallbackURL)
	}
	return nil
}

const userCols = `id,username,password_hash,COALESCE(session_name,''),COALESCE(callback_url,''),COALESCE(event_filter,''),
webhook_auth_type,COALESCE(webhook_auth_username,''),COALESCE(webhook_auth_password,''),COALESCE(webhook_auth_bearer_token,''),
COALESCE(oauth2_client_id,''),COALESCE(oauth2_client_secret,''),COALESCE(oauth2_token_url,''),COALESCE(oauth2_scope,''),
COALESCE(oauth2_access_token,''),oauth2_token_expiry,COALESCE(oauth2_refresh_token,'')`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.SessionName, &u.CallbackURL, &u.EventFilter,
		&u.WebhookAuthType, &u.WebhookAuthUsername, &u.WebhookAuthPassword, &u.WebhookAuthBearerToken,
		&u.OAuth2ClientID, &u.OAuth2ClientSecret, &u.OAuth2TokenURL, &u.OAuth2Scope,
		&u.OAuth2AccessToken, &u.OAuth2TokenExpiry, &u.OAuth2RefreshToken)
	if err != nil {
		if err == pgx.ErrNoRows {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *pgStore) GetByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.dbPool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (s *pgStore) GetByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.dbPool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username=$1`, username))
}

func (s *pgStore) GetBySessionName(ctx context.Context, session string) (User, error) {
	u, err := scanUser(s.dbPool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE session_name=$1`, session))
	if err == ErrNotFound {
		// session name defaults to username when unset
		return scanUser(s.dbPool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE username=$1 AND COALESCE(session_name,'')=''`, session))
	}
	return u, err
}

func (s *pgStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.dbPool.Query(ctx, `SELECT `+userCols+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *pgStore) Create(ctx context.Context, username, passwordHash string) (User, error) {
	id := uuid.NewString()
	_, err := s.dbPool.Exec(ctx, `INSERT INTO users(id,username,password_hash) VALUES ($1,$2,$3)`, id, username, passwordHash)
	if err != nil {
		return User{}, err
	}
	return s.GetByID(ctx, id)
}

func (s *pgStore) Delete(ctx context.Context, id string) error {
	tag, err := s.dbPool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.updateOne(ctx, id, `password_hash`, passwordHash)
}

func (s *pgStore) UpdateSessionName(ctx context.Context, id, session string) error {
	return s.updateOne(ctx, id, `session_name`, session)
}

func (s *pgStore) UpdateCallbackURL(ctx context.Context, id, url string) error {
	return s.updateOne(ctx, id, `callback_url`, url)
}

func (s *pgStore) UpdateEventFilter(ctx context.Context, id, expr string) error {
	return s.updateOne(ctx, id, `event_filter`, expr)
}

func (s *pgStore) updateOne(ctx context.Context, id, col string, v any) error {
	tag, err := s.dbPool.Exec(ctx, `UPDATE users SET `+col+`=$1 WHERE id=$2`, v, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateWebhookAuth writes only the fields present in upd, in one statement.
func (s *pgStore) UpdateWebhookAuth(ctx context.Context, id string, upd WebhookAuthUpdate) error {
	sets, args := BuildWebhookAuthSet(upd)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := fmt.Sprintf(`UPDATE users SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	tag, err := s.dbPool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BuildWebhookAuthSet renders the SET clauses and arguments for a partial
// webhook-auth update. Exported so the construction is testable without a
// database.
func BuildWebhookAuthSet(upd WebhookAuthUpdate) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if upd.AuthType != nil {
		add("webhook_auth_type", *upd.AuthType)
	}
	if upd.Username != nil {
		add("webhook_auth_username", *upd.Username)
	}
	if upd.Password != nil {
		add("webhook_auth_password", *upd.Password)
	}
	if upd.BearerToken != nil {
		add("webhook_auth_bearer_token", *upd.BearerToken)
	}
	if upd.OAuth2ClientID != nil {
		add("oauth2_client_id", *upd.OAuth2ClientID)
	}
	if upd.OAuth2ClientSecret != nil {
		add("oauth2_client_secret", *upd.OAuth2ClientSecret)
	}
	if upd.OAuth2TokenURL != nil {
		add("oauth2_token_url", *upd.OAuth2TokenURL)
	}
	if upd.OAuth2Scope != nil {
		add("oauth2_scope", *upd.OAuth2Scope)
	}
	if upd.OAuth2AccessToken != nil {
		add("oauth2_access_token", *upd.OAuth2AccessToken)
	}
	if upd.OAuth2TokenExpiry != nil {
		add("oauth2_token_expiry", *upd.OAuth2TokenExpiry)
	}
	if upd.OAuth2RefreshToken != nil {
		add("oauth2_refresh_token", *upd.OAuth2RefreshToken)
	}
	return sets, args
}
