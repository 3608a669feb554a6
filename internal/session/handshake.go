// internal/session/handshake.go
package session

import (
	"context"
	"encoding/base64"
	"sync"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"wagate/internal/engine"
)

type Status string

const (
	StatusConnected Status = "connected"
	StatusPairing   Status = "pairing"
)

// Result is the single outcome of one start call: either the session came up
// connected, or pairing is required and QR carries the artifact. Never both,
// never neither.
type Result struct {
	Status Status
	QR     string // raw pairing payload; empty when connected
	QRData string // data:image/png;base64 rendering of QR; empty when connected
}

// Handshake wraps the engine's asynchronous start operation and resolves the
// race between its two first-event outcomes.
type Handshake struct {
	engine engine.Engine
	log    *zap.SugaredLogger
}

func NewHandshake(eng engine.Engine, log *zap.SugaredLogger) *Handshake {
	return &Handshake{engine: eng, log: log}
}

// Start connects the named session and returns exactly one result.
//
// An already-active session short-circuits to connected without touching the
// engine's start operation. Otherwise the first of the two signals wins:
// connected beats a later QR, a QR beats a later connected. Both handler
// closures are one-shot; the losing signal is dropped without blocking the
// engine and without leaving a waiter behind.
func (h *Handshake) Start(ctx context.Context, session string) (Result, error) {
	if h.engine.IsActive(session) {
		return Result{Status: StatusConnected}, nil
	}

	connected := make(chan struct{}, 1)
	qrUpdated := make(chan string, 1)
	var once sync.Once

	err := h.engine.Start(ctx, session, engine.StartHandlers{
		OnConnected: func() {
			once.Do(func() { connected <- struct{}{} })
		},
		OnQRUpdated: func(qr string) {
			// only the first emission is observed; rotations are ignored
			once.Do(func() { qrUpdated <- qr })
		},
	})
	if err != nil {
		return Result{}, err
	}

	// Single suspension point. No timeout here: how long to wait is the
	// caller's decision.
	select {
	case <-connected:
		return Result{Status: StatusConnected}, nil
	case qr := <-qrUpdated:
		return Result{Status: StatusPairing, QR: qr, QRData: encodeQR(h.log, qr)}, nil
	}
}

// encodeQR renders the pairing payload as a PNG data URL for display. A
// render failure degrades to the raw payload only.
func encodeQR(log *zap.SugaredLogger, qr string) string {
	png, err := qrcode.Encode(qr, qrcode.Medium, 256)
	if err != nil {
		log.Warnw("qr encode", "err", err)
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
