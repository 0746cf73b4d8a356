package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorevision/messaging"
)

func publishThrough(t *testing.T, ctx context.Context, msg *messaging.Message, err error) error {
	t.Helper()
	mw := NewTracingMiddleware()
	return mw.Handle(ctx, msg, func(ctx context.Context, m messaging.IMessage) error { return err })
}

func TestTracingMiddleware_AggregateCorrelation(t *testing.T) {
	msg := messaging.NewMessage("evt-1", "revision.created", nil)
	msg.SetMetadata("aggregate_type", "User")
	msg.SetMetadata("aggregate_id", "42")

	require.NoError(t, publishThrough(t, context.Background(), msg, nil))
	assert.Equal(t, "User:42", msg.Metadata[KeyCorrelationID])
	assert.Equal(t, "evt-1", msg.Metadata[KeyCausationID])
}

func TestTracingMiddleware_ContextWins(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "req-7")
	ctx = WithCausationID(ctx, "cmd-3")
	msg := messaging.NewMessage("evt-2", "revision.created", nil)
	msg.SetMetadata("aggregate_type", "User")
	msg.SetMetadata("aggregate_id", "42")

	require.NoError(t, publishThrough(t, ctx, msg, nil))
	assert.Equal(t, "req-7", msg.Metadata[KeyCorrelationID])
	assert.Equal(t, "cmd-3", msg.Metadata[KeyCausationID])
}

func TestTracingMiddleware_KeepsExistingAndPropagatesError(t *testing.T) {
	msg := messaging.NewMessage("evt-3", "revision.created", nil)
	msg.SetMetadata(KeyCorrelationID, "preset")

	boom := errors.New("transport down")
	err := publishThrough(t, context.Background(), msg, boom)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "preset", msg.Metadata[KeyCorrelationID])
	assert.Equal(t, "evt-3", msg.Metadata[KeyCausationID])
}
