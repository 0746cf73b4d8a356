package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorevision/errors"
	"gorevision/messaging/transport/memory"
	"gorevision/messaging/transport/natsjetstream"
	"gorevision/messaging/transport/redisstreams"
	synctransport "gorevision/messaging/transport/sync"
)

func TestNew(t *testing.T) {
	tpt, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &memory.MemoryTransport{}, tpt)
	assert.Equal(t, 4, tpt.Stats().WorkerCount)

	tpt, err = New(Config{Kind: "SYNC"})
	require.NoError(t, err)
	assert.IsType(t, &synctransport.SyncTransport{}, tpt)

	tpt, err = New(Config{Kind: KindRedis, Redis: redisstreams.Config{Addr: "127.0.0.1:6379"}})
	require.NoError(t, err)
	assert.IsType(t, &redisstreams.Transport{}, tpt)
	require.NoError(t, tpt.Close())

	tpt, err = New(Config{Kind: KindNATS, NATS: natsjetstream.Config{URL: "nats://127.0.0.1:4222"}})
	require.NoError(t, err)
	assert.IsType(t, &natsjetstream.Transport{}, tpt)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Config{Kind: KindRedis})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfiguration))

	_, err = New(Config{Kind: "kafka"})
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeConfiguration))
}
