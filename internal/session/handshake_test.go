package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wagate/internal/engine"
	"wagate/internal/session"
	"wagate/pkg/logger"
)

// fakeEngine scripts the first-event outcome of a start call.
type fakeEngine struct {
	active       map[string]bool
	startCalled  bool
	startErr     error
	script       func(h engine.StartHandlers)
	lastHandlers engine.StartHandlers

	onConnecting   []func(string)
	onConnected    []func(string)
	onDisconnected []func(string)
	onMessage      []func(string, map[string]any)
}

func (f *fakeEngine) IsActive(s string) bool { return f.active[s] }

func (f *fakeEngine) Start(ctx context.Context, s string, h engine.StartHandlers) error {
	f.startCalled = true
	f.lastHandlers = h
	if f.startErr != nil {
		return f.startErr
	}
	if f.script != nil {
		f.script(h)
	}
	return nil
}

func (f *fakeEngine) Stop(ctx context.Context, s string) error { return nil }
func (f *fakeEngine) OnConnecting(fn func(string))             { f.onConnecting = append(f.onConnecting, fn) }
func (f *fakeEngine) OnConnected(fn func(string))              { f.onConnected = append(f.onConnected, fn) }
func (f *fakeEngine) OnDisconnected(fn func(string)) {
	f.onDisconnected = append(f.onDisconnected, fn)
}
func (f *fakeEngine) OnMessageReceived(fn func(string, map[string]any)) {
	f.onMessage = append(f.onMessage, fn)
}

func TestStartShortCircuitsActiveSession(t *testing.T) {
	eng := &fakeEngine{active: map[string]bool{"acme": true}}
	h := session.NewHandshake(eng, logger.Nop())

	res, err := h.Start(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, session.StatusConnected, res.Status)
	require.Empty(t, res.QR)
	require.False(t, eng.startCalled, "engine start must not be invoked for an active session")
}

func TestStartQRWinsRace(t *testing.T) {
	eng := &fakeEngine{active: map[string]bool{}}
	eng.script = func(h engine.StartHandlers) {
		h.OnQRUpdated("pairing-payload")
	}
	h := session.NewHandshake(eng, logger.Nop())

	res, err := h.Start(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, session.StatusPairing, res.Status)
	require.Equal(t, "pairing-payload", res.QR)
	require.True(t, strings.HasPrefix(res.QRData, "data:image/png;base64,"))

	// a later connected emission from the same start call must not block
	// the engine or produce a second result
	done := make(chan struct{})
	go func() {
		eng.lastHandlers.OnConnected()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("losing listener blocked the engine callback")
	}
}

func TestStartConnectedWinsRace(t *testing.T) {
	eng := &fakeEngine{active: map[string]bool{}}
	eng.script = func(h engine.StartHandlers) {
		h.OnConnected()
	}
	h := session.NewHandshake(eng, logger.Nop())

	res, err := h.Start(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, session.StatusConnected, res.Status)
	require.Empty(t, res.QR)

	// the QR listener lost; a late rotation is dropped without blocking
	done := make(chan struct{})
	go func() {
		eng.lastHandlers.OnQRUpdated("late-rotation")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("losing listener blocked the engine callback")
	}
}

func TestStartOnlyFirstQRObserved(t *testing.T) {
	eng := &fakeEngine{active: map[string]bool{}}
	eng.script = func(h engine.StartHandlers) {
		h.OnQRUpdated("first")
		h.OnQRUpdated("second")
	}
	h := session.NewHandshake(eng, logger.Nop())

	res, err := h.Start(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, "first", res.QR)
}

func TestStartEngineErrorPropagates(t *testing.T) {
	eng := &fakeEngine{active: map[string]bool{}, startErr: context.DeadlineExceeded}
	h := session.NewHandshake(eng, logger.Nop())

	_, err := h.Start(context.Background(), "acme")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartAgainstMemoryEngine(t *testing.T) {
	eng := engine.NewMemoryEngine(logger.Nop())
	h := session.NewHandshake(eng, logger.Nop())

	res, err := h.Start(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, session.StatusPairing, res.Status)
	require.NotEmpty(t, res.QR)

	eng.Confirm("acme")
	require.True(t, eng.IsActive("acme"))

	// second start short-circuits now that the session is active
	res, err = h.Start(context.Background(), "acme")
	require.NoError(t, err)
	require.Equal(t, session.StatusConnected, res.Status)
}
