// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package routing implements the XOR-distance bucketed peer table, the
// generalization of the teacher's p2p/discover.Table (buckets, bump-to-tail,
// replacement policy, closest-set queries) from a 256-bucket Keccak256
// table onto the spec's 160-bucket SHA-1 NodeId table, merged with the
// two-pass seen/unseen selection policy of the Rust original's
// peers.rs::nearby_peers.
package routing

import (
	"net"
	"time"

	"github.com/knode/knode/id"
)

// Endpoint is the structured (IP family + bytes + port) in-memory address
// representation mandated to be structured on the wire by SPEC_FULL.md §9's
// resolved Open Question on Peer.endpoint.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) UDPAddr() net.UDPAddr {
	return net.UDPAddr{IP: e.IP, Port: int(e.Port)}
}

func EndpointFromUDPAddr(a net.UDPAddr) Endpoint {
	return Endpoint{IP: a.IP, Port: uint16(a.Port)}
}

// Peer is one remote node known to the local routing table, per §3.
type Peer struct {
	NodeId    id.Id
	Endpoint  Endpoint
	FirstSeen time.Time
	// LastSeen is the zero Time when the peer has only been learned by
	// reference this session (never inserted with active=true).
	LastSeen time.Time
	// Active is transient: true once the peer has been inserted with
	// active=true during the current process lifetime, which the node's
	// dispatcher does for every packet received from it. It is never
	// persisted.
	Active bool
}

// Seen reports whether LastSeen has been set at least once.
func (p Peer) Seen() bool { return !p.LastSeen.IsZero() }
