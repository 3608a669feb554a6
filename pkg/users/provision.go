// pkg/users/provision.go
package users

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// UserSpec is a declarative user definition loaded from a provisioning dir.
type UserSpec struct {
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	SessionName string `json:"session_name" yaml:"session_name"`
	CallbackURL string `json:"callback_url" yaml:"callback_url"`
	EventFilter string `json:"event_filter" yaml:"event_filter"`
	WebhookAuth struct {
		Type        string `json:"type" yaml:"type"`
		Username    string `json:"username" yaml:"username"`
		Password    string `json:"password" yaml:"password"`
		BearerToken string `json:"bearer_token" yaml:"bearer_token"`
		OAuth2      struct {
			ClientID     string `json:"client_id" yaml:"client_id"`
			ClientSecret string `json:"client_secret" yaml:"client_secret"`
			TokenURL     string `json:"token_url" yaml:"token_url"`
			Scope        string `json:"scope" yaml:"scope"`
		} `json:"oauth2" yaml:"oauth2"`
	} `json:"webhook_auth" yaml:"webhook_auth"`
}

func loadUserSpecs(dir string) ([]UserSpec, error) {
	if dir == "" {
		return nil, nil
	}
	out := []UserSpec{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			return nil
		}

		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var spec UserSpec
		if ext == ".json" {
			if err := json.Unmarshal(b, &spec); err != nil {
				return err
			}
		} else {
			if err := yaml.Unmarshal(b, &spec); err != nil {
				return fmt.Errorf("yaml parse %s: %w", path, err)
			}
		}
		if spec.Username != "" {
			out = append(out, spec)
		}
		return nil
	})
	return out, err
}

// ImportFromDir loads user specs from a directory and upserts them into the
// store. Omitted fields leave the stored value untouched: existing users keep
// their password, callback URL, and event filter when the spec does not set
// them. Webhook auth config from a spec replaces the stored one (and so
// clears any cached oauth2 token state).
func ImportFromDir(ctx context.Context, store Store, log *zap.SugaredLogger, dir string) error {
	specs, err := loadUserSpecs(dir)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return nil
	}
	for _, s := range specs {
		u, err := store.GetByUsername(ctx, s.Username)
		if err == ErrNotFound {
			if s.Password == "" {
				log.Warnw("provision: new user without password, skipping", "username", s.Username)
				continue
			}
			hash, herr := bcrypt.GenerateFromPassword([]byte(s.Password), bcrypt.DefaultCost)
			if herr != nil {
				return herr
			}
			u, err = store.Create(ctx, s.Username, string(hash))
		}
		if err != nil {
			return err
		}
		if s.SessionName != "" {
			if err := store.UpdateSessionName(ctx, u.ID, s.SessionName); err != nil {
				return err
			}
		}
		if s.CallbackURL != "" {
			if err := store.UpdateCallbackURL(ctx, u.ID, s.CallbackURL); err != nil {
				return err
			}
		}
		if s.EventFilter != "" {
			if err := store.UpdateEventFilter(ctx, u.ID, s.EventFilter); err != nil {
				return err
			}
		}
		if s.WebhookAuth.Type != "" {
			upd := WebhookAuthUpdate{
				AuthType:           &s.WebhookAuth.Type,
				Username:           &s.WebhookAuth.Username,
				Password:           &s.WebhookAuth.Password,
				BearerToken:        &s.WebhookAuth.BearerToken,
				OAuth2ClientID:     &s.WebhookAuth.OAuth2.ClientID,
				OAuth2ClientSecret: &s.WebhookAuth.OAuth2.ClientSecret,
				OAuth2TokenURL:     &s.WebhookAuth.OAuth2.TokenURL,
				OAuth2Scope:        &s.WebhookAuth.OAuth2.Scope,
			}
			if err := ValidateWebhookAuth(upd); err != nil {
				log.Warnw("provision: invalid webhook auth, skipping", "username", s.Username, "err", err)
				continue
			}
			upd.ClearTokens()
			if err := store.UpdateWebhookAuth(ctx, u.ID, upd); err != nil {
				return err
			}
		}
	}
	log.Infof("provisioned %d users from %s", len(specs), dir)
	return nil
}
