// internal/engine/memory.go
package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"

	"go.uber.org/zap"
)

type lifecycle int

const (
	evConnecting lifecycle = iota
	evConnected
	evDisconnected
)

// memEngine is an in-process engine used when no real engine transport is
// configured (dev mode) and by tests. New sessions always require pairing:
// Start emits a synthetic QR payload, and Confirm simulates the out-of-band
// scan completing the handshake.
type memEngine struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	active  map[string]bool
	pending map[string]StartHandlers
	subs    map[lifecycle][]func(string)
	msgSubs []func(string, map[string]any)
}

func NewMemoryEngine(log *zap.SugaredLogger) *memEngine {
	return &memEngine{
		log:     log,
		active:  map[string]bool{},
		pending: map[string]StartHandlers{},
		subs:    map[lifecycle][]func(string){},
	}
}

func (e *memEngine) IsActive(session string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[session]
}

func (e *memEngine) Start(ctx context.Context, session string, h StartHandlers) error {
	e.mu.Lock()
	if e.active[session] {
		e.mu.Unlock()
		return errors.New("session already active")
	}
	e.pending[session] = h
	e.mu.Unlock()

	e.emit(evConnecting, session)
	if h.OnQRUpdated != nil {
		h.OnQRUpdated(newPairingCode())
	}
	return nil
}

// Confirm completes a pending pairing, as if the QR had been scanned.
func (e *memEngine) Confirm(session string) {
	e.mu.Lock()
	h, ok := e.pending[session]
	if ok {
		delete(e.pending, session)
		e.active[session] = true
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if h.OnConnected != nil {
		h.OnConnected()
	}
	e.emit(evConnected, session)
}

func (e *memEngine) Stop(ctx context.Context, session string) error {
	e.mu.Lock()
	was := e.active[session]
	delete(e.active, session)
	delete(e.pending, session)
	e.mu.Unlock()
	if was {
		e.emit(evDisconnected, session)
	}
	return nil
}

func (e *memEngine) OnConnecting(fn func(string))   { e.subscribe(evConnecting, fn) }
func (e *memEngine) OnConnected(fn func(string))    { e.subscribe(evConnected, fn) }
func (e *memEngine) OnDisconnected(fn func(string)) { e.subscribe(evDisconnected, fn) }

func (e *memEngine) OnMessageReceived(fn func(string, map[string]any)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgSubs = append(e.msgSubs, fn)
}

// EmitMessage simulates an inbound message on an active session. Dropped for
// sessions that are not connected.
func (e *memEngine) EmitMessage(session string, payload map[string]any) {
	e.mu.Lock()
	if !e.active[session] {
		e.mu.Unlock()
		return
	}
	subs := make([]func(string, map[string]any), len(e.msgSubs))
	copy(subs, e.msgSubs)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(session, payload)
	}
}

func (e *memEngine) subscribe(ev lifecycle, fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[ev] = append(e.subs[ev], fn)
}

func (e *memEngine) emit(ev lifecycle, session string) {
	e.mu.Lock()
	subs := make([]func(string), len(e.subs[ev]))
	copy(subs, e.subs[ev])
	e.mu.Unlock()
	for _, fn := range subs {
		fn(session)
	}
}

func newPairingCode() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
