package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorevision/messaging"
)

func TestSyncTransport_PublishFlow(t *testing.T) {
	tpt := NewSyncTransport()
	require.NoError(t, tpt.Start(context.Background()))
	defer tpt.Close()

	var seen []string
	require.NoError(t, tpt.Subscribe("revision.created", messaging.NewHandler("audit", func(ctx context.Context, m messaging.IMessage) error {
		seen = append(seen, m.GetID())
		return nil
	})))

	require.NoError(t, tpt.PublishAll(context.Background(), []messaging.IMessage{
		messaging.NewMessage("a", "revision.created", nil),
		messaging.NewMessage("b", "revision.created", nil),
	}))
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestSyncTransport_ErrorsAreReturned(t *testing.T) {
	tpt := NewSyncTransport()
	require.NoError(t, tpt.Start(context.Background()))

	boom := errors.New("boom")
	require.NoError(t, tpt.Subscribe(messaging.Wildcard, messaging.NewHandler("fail", func(ctx context.Context, m messaging.IMessage) error {
		return boom
	})))
	err := tpt.Publish(context.Background(), messaging.NewMessage("a", "revision.created", nil))
	assert.ErrorIs(t, err, boom)
}

func TestSyncTransport_Lifecycle(t *testing.T) {
	tpt := NewSyncTransport()
	assert.Error(t, tpt.Publish(context.Background(), messaging.NewMessage("x", "T", nil)))
	assert.Error(t, tpt.Close())
	require.NoError(t, tpt.Start(context.Background()))
	assert.Error(t, tpt.Start(context.Background()))
	assert.True(t, tpt.Stats().Running)
	require.NoError(t, tpt.Close())
}
