// Copyright 2026 The knode Authors
// This file is part of the knode library.

package rpc

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/knode/knode/id"
	"github.com/knode/knode/log"
	"github.com/knode/knode/routing"
	"github.com/knode/knode/wire"
)

type fakeSender struct {
	fail bool
	sent []routing.Endpoint
}

func (f *fakeSender) Send(dst routing.Endpoint, data []byte) error {
	f.sent = append(f.sent, dst)
	if f.fail {
		return errors.New("send: closed")
	}
	return nil
}

func testEndpoint(port uint16) routing.Endpoint {
	return routing.Endpoint{IP: net.ParseIP("127.0.0.1").To4(), Port: port}
}

// P6: a successful AwaitResponse returns a packet whose transaction id
// matches and whose source endpoint matches the one dialed.
func TestAwaitResponseMatchesTransactionAndSource(t *testing.T) {
	sender := &fakeSender{}
	e := New(sender, log.Discard(), nil)

	var self id.Id
	dst := testEndpoint(9001)
	txid, err := e.SendRequest(dst, self, wire.Message{Tag: wire.TagPing})
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		err := e.Deliver(wire.Packet{TransactionId: txid, Message: wire.Message{Tag: wire.TagPong}}, dst)
		require.NoError(t, err)
	}()

	pkt, err := e.AwaitResponse(txid, nil)
	require.NoError(t, err)
	require.Equal(t, txid, pkt.TransactionId)
	require.Equal(t, wire.TagPong, pkt.Message.Tag)
}

func TestDeliverRejectsUnexpectedSource(t *testing.T) {
	sender := &fakeSender{}
	e := New(sender, log.Discard(), nil)
	var self id.Id
	dst := testEndpoint(9001)
	txid, err := e.SendRequest(dst, self, wire.Message{Tag: wire.TagPing})
	require.NoError(t, err)

	wrong := testEndpoint(9002)
	err = e.Deliver(wire.Packet{TransactionId: txid, Message: wire.Message{Tag: wire.TagPong}}, wrong)
	require.Equal(t, ErrUnexpectedSource, err)
}

func TestDeliverUnknownTransaction(t *testing.T) {
	sender := &fakeSender{}
	e := New(sender, log.Discard(), nil)
	err := e.Deliver(wire.Packet{TransactionId: id.Id{0x01}}, testEndpoint(1))
	require.Equal(t, ErrUnknownTransaction, err)
}

// Scenario 5 / P7-adjacent: timeout after the deadline, and the
// transaction map no longer contains the id afterward.
func TestAwaitResponseTimesOut(t *testing.T) {
	sender := &fakeSender{}
	e := New(sender, log.Discard(), nil)
	var self id.Id
	txid, err := e.SendRequest(testEndpoint(9003), self, wire.Message{Tag: wire.TagPing})
	require.NoError(t, err)

	e.mu.Lock()
	e.pending[txid].deadline = time.Now().Add(-time.Second)
	e.mu.Unlock()

	_, err = e.AwaitResponse(txid, nil)
	require.Equal(t, ErrTimeout, err)
	require.Equal(t, 0, e.Pending())
}

// P7: cancellation returns Canceled promptly.
func TestAwaitResponseCanceled(t *testing.T) {
	sender := &fakeSender{}
	e := New(sender, log.Discard(), nil)
	var self id.Id
	txid, err := e.SendRequest(testEndpoint(9004), self, wire.Message{Tag: wire.TagPing})
	require.NoError(t, err)

	cancel := make(chan struct{})
	close(cancel)

	_, err = e.AwaitResponse(txid, cancel)
	require.Equal(t, ErrCanceled, err)
}

func TestSendFailureDoesNotPreventTimeout(t *testing.T) {
	sender := &fakeSender{fail: true}
	e := New(sender, log.Discard(), nil)
	var self id.Id
	txid, err := e.SendRequest(testEndpoint(9005), self, wire.Message{Tag: wire.TagPing})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	e.mu.Lock()
	e.pending[txid].deadline = time.Now().Add(-time.Second)
	e.mu.Unlock()

	_, err = e.AwaitResponse(txid, nil)
	require.Equal(t, ErrTimeout, err)
}
