// internal/dispatch/dispatcher.go
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	jmes "github.com/jmespath/go-jmespath"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"wagate/internal/session"
	"wagate/pkg/users"
)

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wagate_webhook_deliveries_total",
	Help: "Outbound webhook deliveries by event kind and outcome.",
}, []string{"kind", "outcome"})

// HeaderSource resolves the auth headers for one delivery.
type HeaderSource interface {
	Headers(ctx context.Context, u users.User) map[string]string
}

// Dispatcher forwards engine events to each user's callback URL. Delivery is
// fire-and-forget: failures are logged and journaled, never retried here.
type Dispatcher struct {
	store   users.Store
	headers HeaderSource
	log     *zap.SugaredLogger
	client  *http.Client

	rdb         *redis.Client // optional delivery journal
	journalSize int
}

func New(store users.Store, headers HeaderSource, rdb *redis.Client, log *zap.SugaredLogger, timeout time.Duration, journalSize int) *Dispatcher {
	return &Dispatcher{
		store:       store,
		headers:     headers,
		log:         log,
		client:      &http.Client{Timeout: timeout},
		rdb:         rdb,
		journalSize: journalSize,
	}
}

// DeliverStatus implements session.Sink.
func (d *Dispatcher) DeliverStatus(ev session.StatusEvent) {
	d.deliver(ev.Session, "session.status", map[string]any{
		"event":   "session.status",
		"session": ev.Session,
		"status":  ev.Status,
	})
}

// DeliverMessage forwards one inbound message event for the named session.
func (d *Dispatcher) DeliverMessage(sessionName string, payload map[string]any) {
	d.deliver(sessionName, "message", map[string]any{
		"event":   "message",
		"session": sessionName,
		"payload": payload,
	})
}

func (d *Dispatcher) deliver(sessionName, kind string, body map[string]any) {
	// the user record is read fresh per event so config changes apply
	// without restarts
	ctx := context.Background()
	u, err := d.store.GetBySessionName(ctx, sessionName)
	if err != nil {
		deliveries.WithLabelValues(kind, "no_user").Inc()
		return
	}
	if u.CallbackURL == "" {
		deliveries.WithLabelValues(kind, "unconfigured").Inc()
		return
	}
	if !d.matchesFilter(u, body) {
		deliveries.WithLabelValues(kind, "filtered").Inc()
		return
	}

	status, err := d.post(ctx, u, body)
	outcome := "ok"
	errMsg := ""
	switch {
	case err != nil:
		outcome = "error"
		errMsg = err.Error()
		d.log.Warnw("webhook delivery failed", "user", u.Username, "kind", kind, "err", err)
	case status < 200 || status > 299:
		outcome = "rejected"
		d.log.Warnw("webhook delivery rejected", "user", u.Username, "kind", kind, "status", status)
	}
	deliveries.WithLabelValues(kind, outcome).Inc()
	d.journal(ctx, u.ID, kind, status, errMsg)
}

func (d *Dispatcher) post(ctx context.Context, u users.User, body map[string]any) (int, error) {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.CallbackURL, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.headers.Headers(ctx, u) {
		req.Header.Set(k, v)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// matchesFilter applies the user's JMESPath event filter, if any. A filter
// that fails to compile or errors at evaluation time does not block delivery.
func (d *Dispatcher) matchesFilter(u users.User, body map[string]any) bool {
	if u.EventFilter == "" {
		return true
	}
	res, err := jmes.Search(u.EventFilter, body)
	if err != nil {
		d.log.Warnw("event filter error", "user", u.Username, "filter", u.EventFilter, "err", err)
		return true
	}
	return isTruthy(res)
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

type journalEntry struct {
	Event  string `json:"event"`
	Status int    `json:"status_code"`
	Error  string `json:"error,omitempty"`
	At     string `json:"at"`
}

// JournalKey is the redis list holding a user's recent delivery outcomes.
func JournalKey(userID string) string { return "wagate:deliveries:" + userID }

func (d *Dispatcher) journal(ctx context.Context, userID, kind string, status int, errMsg string) {
	if d.rdb == nil {
		return
	}
	e := journalEntry{Event: kind, Status: status, Error: errMsg, At: time.Now().UTC().Format(time.RFC3339)}
	b, _ := json.Marshal(e)
	key := JournalKey(userID)
	pipe := d.rdb.Pipeline()
	pipe.LPush(ctx, key, b)
	pipe.LTrim(ctx, key, 0, int64(d.journalSize)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		d.log.Warnw("delivery journal write failed", "err", err)
	}
}

// RecentDeliveries reads the journal for a user, newest first.
func (d *Dispatcher) RecentDeliveries(ctx context.Context, userID string) ([]map[string]any, error) {
	if d.rdb == nil {
		return nil, nil
	}
	raw, err := d.rdb.LRange(ctx, JournalKey(userID), 0, int64(d.journalSize)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("journal read: %w", err)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		var m map[string]any
		if json.Unmarshal([]byte(r), &m) == nil {
			out = append(out, m)
		}
	}
	return out, nil
}
