// Copyright 2026 The knode Authors
// This file is part of the knode library.

package node

import (
	"io/ioutil"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/knode/knode/id"
	"github.com/knode/knode/log"
	"github.com/knode/knode/routing"
)

func newTestNode(t *testing.T) (*Node, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "knode-node-test")
	require.NoError(t, err)
	n, err := New(Config{ListenAddr: "127.0.0.1:0", StateDir: dir, Logger: log.Discard()})
	require.NoError(t, err)
	n.Run()
	return n, func() {
		n.Shutdown()
		os.RemoveAll(dir)
	}
}

func localEndpoint(t *testing.T, n *Node) routing.Endpoint {
	t.Helper()
	addr := n.transport.LocalAddr().(*net.UDPAddr)
	return routing.EndpointFromUDPAddr(*addr)
}

// Scenario 1: PING/PONG — both sides learn each other as active.
func TestPingPongScenario(t *testing.T) {
	a, cleanupA := newTestNode(t)
	defer cleanupA()
	b, cleanupB := newTestNode(t)
	defer cleanupB()

	err := a.SendPing(localEndpoint(t, b))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, ok := b.Table().Get(a.Self())
		return ok && p.Active
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		p, ok := a.Table().Get(b.Self())
		return ok && p.Active
	}, 2*time.Second, 10*time.Millisecond)
}

// Scenario 6: store fan-out — A stores locally and the peers closest to
// the key receive STORE and answer STORE_OK.
func TestStoreFanOutScenario(t *testing.T) {
	a, cleanupA := newTestNode(t)
	defer cleanupA()
	b, cleanupB := newTestNode(t)
	defer cleanupB()

	// seed A's routing table with B by a direct ping so B is a known peer.
	require.NoError(t, a.SendPing(localEndpoint(t, b)))
	require.Eventually(t, func() bool {
		_, ok := a.Table().Get(b.Self())
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	key, err := id.Parse("dddddddddddddddddddddddddddddddddddddddd")
	require.NoError(t, err)
	a.Store(key, []byte("hello"))

	v, ok := a.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)

	require.Eventually(t, func() bool {
		v, ok := b.Get(key)
		return ok && string(v) == "hello"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddPeerWithoutRoundTrip(t *testing.T) {
	a, cleanup := newTestNode(t)
	defer cleanup()

	other, err := id.Parse("9" + strings.Repeat("0", 39))
	require.NoError(t, err)
	ep := routing.Endpoint{IP: net.ParseIP("127.0.0.1").To4(), Port: 4321}
	require.NoError(t, a.AddPeer(ep, other))

	p, ok := a.Table().Get(other)
	require.True(t, ok)
	require.False(t, p.Active)
	require.False(t, p.Seen())
}
