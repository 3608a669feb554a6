package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"wagate/internal/engine"
	"wagate/internal/session"
	"wagate/pkg/logger"
)

type recordedMessage struct {
	session string
	payload map[string]any
}

type recordingSink struct {
	events   []session.StatusEvent
	messages []recordedMessage
}

func (r *recordingSink) DeliverStatus(ev session.StatusEvent) {
	r.events = append(r.events, ev)
}

func (r *recordingSink) DeliverMessage(sess string, payload map[string]any) {
	r.messages = append(r.messages, recordedMessage{session: sess, payload: payload})
}

func TestBridgeForwardsEveryEventInOrder(t *testing.T) {
	eng := engine.NewMemoryEngine(logger.Nop())
	sink := &recordingSink{}
	session.NewBridge(eng, sink, logger.Nop())

	_, err := session.NewHandshake(eng, logger.Nop()).Start(context.Background(), "acme")
	require.NoError(t, err)
	eng.Confirm("acme")
	require.NoError(t, eng.Stop(context.Background(), "acme"))

	require.Equal(t, []session.StatusEvent{
		{Session: "acme", Status: "connecting"},
		{Session: "acme", Status: "connected"},
		{Session: "acme", Status: "disconnected"},
	}, sink.events)
}

func TestBridgeForwardsMessages(t *testing.T) {
	eng := engine.NewMemoryEngine(logger.Nop())
	sink := &recordingSink{}
	session.NewBridge(eng, sink, logger.Nop())

	require.NoError(t, eng.Start(context.Background(), "acme", engine.StartHandlers{}))

	// messages before the session is connected are dropped by the engine
	eng.EmitMessage("acme", map[string]any{"text": "too early"})
	require.Empty(t, sink.messages)

	eng.Confirm("acme")
	eng.EmitMessage("acme", map[string]any{"from": "123", "text": "hi"})

	require.Len(t, sink.messages, 1)
	require.Equal(t, "acme", sink.messages[0].session)
	require.Equal(t, map[string]any{"from": "123", "text": "hi"}, sink.messages[0].payload)
}

func TestBridgeNilSink(t *testing.T) {
	eng := engine.NewMemoryEngine(logger.Nop())
	session.NewBridge(eng, nil, logger.Nop())

	// events with no sink configured are logged and dropped, not a panic
	require.NoError(t, eng.Start(context.Background(), "acme", engine.StartHandlers{}))
	eng.Confirm("acme")
	eng.EmitMessage("acme", map[string]any{"text": "hi"})
}
