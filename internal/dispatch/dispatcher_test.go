package dispatch_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"wagate/internal/dispatch"
	"wagate/internal/engine"
	"wagate/internal/session"
	"wagate/pkg/logger"
	"wagate/pkg/users"
)

type staticHeaders map[string]string

func (h staticHeaders) Headers(ctx context.Context, u users.User) map[string]string { return h }

type received struct {
	body    map[string]any
	headers http.Header
}

func newReceiver(t *testing.T) (*httptest.Server, *[]received) {
	t.Helper()
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		got = append(got, received{body: m, headers: r.Header.Clone()})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func seedUser(t *testing.T, s users.Store, callback, filter string) users.User {
	t.Helper()
	u, err := s.Create(context.Background(), "acme", "x")
	require.NoError(t, err)
	require.NoError(t, s.UpdateCallbackURL(context.Background(), u.ID, callback))
	if filter != "" {
		require.NoError(t, s.UpdateEventFilter(context.Background(), u.ID, filter))
	}
	u, err = s.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	return u
}

func TestDeliverStatusPostsWithHeaders(t *testing.T) {
	srv, got := newReceiver(t)
	store := users.NewMemoryStore(logger.Nop())
	seedUser(t, store, srv.URL, "")

	d := dispatch.New(store, staticHeaders{"Authorization": "Bearer tok"}, nil, logger.Nop(), time.Second, 10)
	d.DeliverStatus(session.StatusEvent{Session: "acme", Status: "connected"})

	require.Len(t, *got, 1)
	ev := (*got)[0]
	require.Equal(t, "session.status", ev.body["event"])
	require.Equal(t, "acme", ev.body["session"])
	require.Equal(t, "connected", ev.body["status"])
	require.Equal(t, "Bearer tok", ev.headers.Get("Authorization"))
	require.Equal(t, "application/json", ev.headers.Get("Content-Type"))
}

func TestEngineMessageReachesWebhook(t *testing.T) {
	srv, got := newReceiver(t)
	store := users.NewMemoryStore(logger.Nop())
	seedUser(t, store, srv.URL, "")

	// same assembly as the service binary: engine -> bridge -> dispatcher
	eng := engine.NewMemoryEngine(logger.Nop())
	d := dispatch.New(store, staticHeaders{}, nil, logger.Nop(), time.Second, 10)
	session.NewBridge(eng, d, logger.Nop())

	require.NoError(t, eng.Start(context.Background(), "acme", engine.StartHandlers{}))
	eng.Confirm("acme")
	eng.EmitMessage("acme", map[string]any{"from": "123", "text": "hi"})

	var msg map[string]any
	for _, ev := range *got {
		if ev.body["event"] == "message" {
			msg = ev.body
		}
	}
	require.NotNil(t, msg, "inbound engine message must reach the webhook")
	require.Equal(t, "acme", msg["session"])
	require.Equal(t, map[string]any{"from": "123", "text": "hi"}, msg["payload"])
}

func TestDeliverMessagePayload(t *testing.T) {
	srv, got := newReceiver(t)
	store := users.NewMemoryStore(logger.Nop())
	seedUser(t, store, srv.URL, "")

	d := dispatch.New(store, staticHeaders{}, nil, logger.Nop(), time.Second, 10)
	d.DeliverMessage("acme", map[string]any{"from": "123", "text": "hi"})

	require.Len(t, *got, 1)
	body := (*got)[0].body
	require.Equal(t, "message", body["event"])
	require.Equal(t, map[string]any{"from": "123", "text": "hi"}, body["payload"])
}

func TestDeliverSkipsUnknownSessionAndMissingCallback(t *testing.T) {
	srv, got := newReceiver(t)
	store := users.NewMemoryStore(logger.Nop())

	d := dispatch.New(store, staticHeaders{}, nil, logger.Nop(), time.Second, 10)
	d.DeliverStatus(session.StatusEvent{Session: "ghost", Status: "connected"})
	require.Empty(t, *got)

	// user exists but no callback configured
	seedUser(t, store, "", "")
	d.DeliverStatus(session.StatusEvent{Session: "acme", Status: "connected"})
	require.Empty(t, *got)
	_ = srv
}

func TestEventFilter(t *testing.T) {
	srv, got := newReceiver(t)
	store := users.NewMemoryStore(logger.Nop())
	seedUser(t, store, srv.URL, "status == 'disconnected'")

	d := dispatch.New(store, staticHeaders{}, nil, logger.Nop(), time.Second, 10)
	d.DeliverStatus(session.StatusEvent{Session: "acme", Status: "connected"})
	require.Empty(t, *got, "filtered event must not be delivered")

	d.DeliverStatus(session.StatusEvent{Session: "acme", Status: "disconnected"})
	require.Len(t, *got, 1)
}

func TestDeliveryJournal(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	srv, _ := newReceiver(t)
	store := users.NewMemoryStore(logger.Nop())
	u := seedUser(t, store, srv.URL, "")

	d := dispatch.New(store, staticHeaders{}, rdb, logger.Nop(), time.Second, 2)
	d.DeliverStatus(session.StatusEvent{Session: "acme", Status: "connecting"})
	d.DeliverStatus(session.StatusEvent{Session: "acme", Status: "connected"})
	d.DeliverStatus(session.StatusEvent{Session: "acme", Status: "disconnected"})

	// journal is capped at the configured size, newest first
	entries, err := d.RecentDeliveries(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "session.status", entries[0]["event"])
	require.EqualValues(t, http.StatusOK, entries[0]["status_code"])
}

func TestDeliveryRejectedStillJournaled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := users.NewMemoryStore(logger.Nop())
	u := seedUser(t, store, srv.URL, "")

	d := dispatch.New(store, staticHeaders{}, rdb, logger.Nop(), time.Second, 10)
	d.DeliverStatus(session.StatusEvent{Session: "acme", Status: "connected"})

	entries, err := d.RecentDeliveries(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.EqualValues(t, http.StatusUnauthorized, entries[0]["status_code"])
}
