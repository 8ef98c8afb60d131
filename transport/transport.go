// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package transport binds a UDP socket and runs the non-blocking receive
// and send loops of SPEC_FULL.md §4.2, grounded on the Rust original's
// server.rs (spawn receive thread with WouldBlock-driven polling, spawn a
// send thread draining a channel) translated to Go's idiomatic
// goroutine + channel + deadline-based non-blocking read, the same shape
// other_examples' p2p/discover udp.go's ReadFromUDP loop uses.
package transport

import (
	"errors"
	"net"
	"time"

	"github.com/knode/knode/log"
	"github.com/knode/knode/routing"
)

// MaxDatagramSize is the largest inbound datagram accepted; larger
// datagrams are truncated and dropped per §4.2.
const MaxDatagramSize = wireMaxSize

// kept separate from the wire package to avoid a needless import:
// transport only needs the numeric ceiling, not the codec.
const wireMaxSize = 1024

// pollInterval bounds the reader's blocking-read deadline, keeping the
// cancellation flag check at ≤100ms per §4.2/§5.
const pollInterval = 75 * time.Millisecond

var ErrBindFailed = errors.New("transport: bind failed")

// Datagram is one inbound UDP message paired with its source.
type Datagram struct {
	From routing.Endpoint
	Data []byte
}

// outbound is one queued write.
type outbound struct {
	To   routing.Endpoint
	Data []byte
}

// Transport owns the UDP socket and the receive/send loops. It is
// oblivious to packet semantics: callers read Datagrams off Inbound() and
// push writes through Send().
type Transport struct {
	conn *net.UDPConn
	log  *log.Logger

	inbound chan Datagram
	outq    chan outbound

	closing chan struct{}
	done    chan struct{}
}

// Bind acquires a UDP socket at addr, returning BindFailed on failure.
func Bind(addr string, logger *log.Logger) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, ErrBindFailed
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, ErrBindFailed
	}
	t := &Transport{
		conn:    conn,
		log:     logger,
		inbound: make(chan Datagram, 256),
		outq:    make(chan outbound, 256),
		closing: make(chan struct{}),
		done:    make(chan struct{}, 2),
	}
	go t.readLoop()
	go t.writeLoop()
	return t, nil
}

// Inbound is the receive stream: (source, bytes) pairs arriving from the
// network, one per datagram.
func (t *Transport) Inbound() <-chan Datagram { return t.inbound }

// Send enqueues an outbound datagram. Non-blocking on a full queue is not
// required by the spec; a best-effort bounded channel is used so a single
// slow consumer cannot deadlock the caller indefinitely.
func (t *Transport) Send(dst routing.Endpoint, data []byte) error {
	select {
	case t.outq <- outbound{To: dst, Data: data}:
		return nil
	case <-t.closing:
		return errors.New("transport: closed")
	}
}

func (t *Transport) readLoop() {
	defer func() { t.done <- struct{}{} }()
	buf := make([]byte, wireMaxSize+1)
	for {
		select {
		case <-t.closing:
			return
		default:
		}
		t.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-t.closing:
				return
			default:
				t.log.Warnf("read error: %v", err)
				continue
			}
		}
		if n > wireMaxSize {
			t.log.Warnf("datagram too large from %v (%d bytes), dropped", from, n)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		dg := Datagram{From: routing.EndpointFromUDPAddr(*from), Data: data}
		select {
		case t.inbound <- dg:
		case <-t.closing:
			return
		}
	}
}

func (t *Transport) writeLoop() {
	defer func() { t.done <- struct{}{} }()
	for {
		select {
		case ob := <-t.outq:
			addr := ob.To.UDPAddr()
			if _, err := t.conn.WriteToUDP(ob.Data, &addr); err != nil {
				t.log.Warnf("write error to %v: %v", ob.To, err)
			}
		case <-t.closing:
			return
		}
	}
}

// Shutdown signals both loops to drain and exit, then closes the socket.
// It blocks until both loops have returned, satisfying P7's "transport
// threads exit within 200ms" expectation for any reasonable pollInterval.
func (t *Transport) Shutdown() {
	close(t.closing)
	t.conn.Close()
	<-t.done
	<-t.done
}

// LocalAddr returns the bound local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }
