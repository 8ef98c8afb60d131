// Copyright 2026 The knode Authors
// This file is part of the knode library.

package discovery

import (
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/knode/knode/id"
	"github.com/knode/knode/log"
	"github.com/knode/knode/routing"
	"github.com/knode/knode/wire"
)

func mustId(t *testing.T, prefix string) id.Id {
	v, err := id.Parse(prefix + strings.Repeat("0", 40-len(prefix)))
	require.NoError(t, err)
	return v
}

func testEp(port uint16) routing.Endpoint {
	return routing.Endpoint{IP: net.ParseIP("127.0.0.1").To4(), Port: port}
}

// fakeRequester simulates an RPC engine: FIND_NODE to seedPeer returns
// foundNodes once, then nothing; PING succeeds for every id when pingable
// is non-nil and times out when it is nil.
type fakeRequester struct {
	mu          sync.Mutex
	findCalls   int
	foundNodes  []wire.FoundNode
	pingable    map[id.Id]bool
	nextTxid    byte
}

func (f *fakeRequester) SendRequest(dst routing.Endpoint, sender id.Id, msg wire.Message) (id.Id, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTxid++
	var txid id.Id
	txid[0] = f.nextTxid
	txid[1] = msg.Tag
	if msg.Tag == wire.TagFindNode {
		f.findCalls++
	}
	return txid, nil
}

func (f *fakeRequester) AwaitResponse(txid id.Id, cancel <-chan struct{}) (wire.Packet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch txid[1] {
	case wire.TagFindNode:
		if f.findCalls > 1 {
			return wire.Packet{Message: wire.Message{Tag: wire.TagFindNodeResp}}, nil
		}
		return wire.Packet{Message: wire.Message{Tag: wire.TagFindNodeResp, Found: f.foundNodes}}, nil
	case wire.TagPing:
		if f.pingable == nil {
			return wire.Packet{}, errTimeout
		}
		return wire.Packet{Message: wire.Message{Tag: wire.TagPong}}, nil
	}
	return wire.Packet{}, nil
}

var errTimeout = &timeoutErr{}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "timeout" }

func TestRunTerminatesWhenNoNewPeers(t *testing.T) {
	local := mustId(t, "a")
	tbl := routing.New(local)
	seed := mustId(t, "8")
	_, err := tbl.Insert(testEp(1), seed, true)
	require.NoError(t, err)

	req := &fakeRequester{}
	d := New(tbl, req, log.Discard())

	n := d.Run(local, nil)
	require.Equal(t, 0, n)
}

func TestRunAddsNewlyDiscoveredPeers(t *testing.T) {
	local := mustId(t, "a")
	tbl := routing.New(local)
	seed := mustId(t, "8")
	_, err := tbl.Insert(testEp(1), seed, true)
	require.NoError(t, err)

	newPeer := mustId(t, "4")
	req := &fakeRequester{
		foundNodes: []wire.FoundNode{
			{NodeId: newPeer, Endpoint: net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}},
		},
	}
	d := New(tbl, req, log.Discard())

	n := d.Run(local, nil)
	require.Equal(t, 1, n)
	_, known := tbl.Get(newPeer)
	require.True(t, known)
}

func TestRunRespectsCancel(t *testing.T) {
	local := mustId(t, "a")
	tbl := routing.New(local)
	seed := mustId(t, "8")
	_, err := tbl.Insert(testEp(1), seed, true)
	require.NoError(t, err)

	req := &fakeRequester{}
	d := New(tbl, req, log.Discard())

	cancel := make(chan struct{})
	close(cancel)
	n := d.Run(local, cancel)
	require.Equal(t, 0, n)
}
