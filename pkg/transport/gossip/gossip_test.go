package gossip

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicName(t *testing.T) {
	assert.Equal(t, "/psi/v1/demo/step1", TopicName("demo", "step1"))
}

func TestParsePeers(t *testing.T) {
	_, err := parsePeers([]string{"not a multiaddr"})
	assert.Error(t, err)
	_, err = parsePeers([]string{"/ip4/127.0.0.1/tcp/4001"})
	assert.Error(t, err, "missing /p2p/ component")
	infos, err := parsePeers(nil)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestGossipRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("opens network sockets")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h1, ps1, err := NewHost(ctx, "/ip4/127.0.0.1/tcp/0", nil, nil)
	require.NoError(t, err)
	defer h1.Close()
	h2, ps2, err := NewHost(ctx, "/ip4/127.0.0.1/tcp/0", Addrs(h1), nil)
	require.NoError(t, err)
	defer h2.Close()

	t1 := New(ps1, h1.ID(), "test", nil)
	defer t1.Close()
	t2 := New(ps2, h2.ID(), "test", nil)
	defer t2.Close()

	var mtx sync.Mutex
	var got [][]byte
	_, err = t2.Subscribe("step1", func(p []byte) {
		mtx.Lock()
		defer mtx.Unlock()
		got = append(got, p)
	})
	require.NoError(t, err)
	var selfCalls int64
	_, err = t1.Subscribe("step1", func([]byte) { atomic.AddInt64(&selfCalls, 1) })
	require.NoError(t, err)

	// the mesh forms asynchronously, keep publishing until the peer hears us
	require.Eventually(t, func() bool {
		if err := t1.Publish(ctx, "step1", []byte("hello")); err != nil {
			return false
		}
		mtx.Lock()
		defer mtx.Unlock()
		return len(got) > 0
	}, 20*time.Second, 200*time.Millisecond)

	mtx.Lock()
	assert.Equal(t, "hello", string(got[0]))
	mtx.Unlock()
	assert.Zero(t, atomic.LoadInt64(&selfCalls), "own events are not delivered locally")

	require.NoError(t, t1.Close())
	assert.Error(t, t1.Publish(ctx, "step1", nil))
}
