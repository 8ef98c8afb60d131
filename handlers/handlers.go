// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package handlers implements the server-side semantics of PING, STORE,
// FIND_NODE, and FIND_VALUE (§4.7), grounded on the Rust original's
// messages.rs::handle_request dispatch and logged in the shape of the
// teacher's p2p/discover/mlog.go (one structured line per handled request,
// naming source, request kind, and outcome) — condensed here to plain
// leveled Logger calls rather than the teacher's MLogT declarations, since
// this package has no home for a process-wide mlog singleton per §9's
// "ambient loggers" note.
package handlers

import (
	"github.com/knode/knode/id"
	"github.com/knode/knode/log"
	"github.com/knode/knode/metrics"
	"github.com/knode/knode/routing"
	"github.com/knode/knode/store"
	"github.com/knode/knode/wire"
)

// Handlers bundles the collaborators request handling needs: the routing
// table to answer FIND_NODE/FIND_VALUE neighbor queries and the value
// store to answer STORE/FIND_VALUE.
type Handlers struct {
	table *routing.Table
	store *store.Store
	log   *log.Logger
	met   *metrics.Metrics
}

// New returns a Handlers bound to table and store.
func New(table *routing.Table, st *store.Store, logger *log.Logger, met *metrics.Metrics) *Handlers {
	return &Handlers{table: table, store: st, log: logger, met: met}
}

// Handle dispatches one request message to its handler and returns the
// response message to echo back with the same transaction id, or ok=false
// for a malformed request body that the spec says should draw no response
// (§4.7's "Malformed request bodies... yield no response").
func (h *Handlers) Handle(from routing.Endpoint, req wire.Message) (resp wire.Message, ok bool) {
	switch req.Tag {
	case wire.TagPing:
		if h.met != nil {
			h.met.PingHandled.Mark(1)
		}
		h.log.Debugf("PING from %v", from)
		return wire.Message{Tag: wire.TagPong}, true

	case wire.TagFindNode:
		if h.met != nil {
			h.met.FindNodeHandled.Mark(1)
		}
		found := h.closestFoundNodes(req.Target)
		h.log.Debugf("FIND_NODE from %v target=%s -> %d nodes", from, req.Target, len(found))
		return wire.Message{Tag: wire.TagFindNodeResp, Found: found}, true

	case wire.TagStore:
		if h.met != nil {
			h.met.StoreHandled.Mark(1)
		}
		key := req.StoreKey
		if key == (id.Id{}) && len(req.StoreValue) == 0 {
			h.log.Warnf("malformed STORE from %v: empty key", from)
			return wire.Message{}, false
		}
		h.store.Put(key.String(), req.StoreValue)
		h.log.Debugf("STORE from %v key=%s (%d bytes)", from, key, len(req.StoreValue))
		return wire.Message{Tag: wire.TagStoreOK}, true

	case wire.TagFindValue:
		if h.met != nil {
			h.met.FindValueHandled.Mark(1)
		}
		key := req.LookupKey
		if v, present := h.store.Get(key.String()); present {
			h.log.Debugf("FIND_VALUE from %v key=%s hit", from, key)
			return wire.Message{Tag: wire.TagFindValueValue, Value: v}, true
		}
		found := h.closestFoundNodes(key)
		h.log.Debugf("FIND_VALUE from %v key=%s miss -> %d nodes", from, key, len(found))
		return wire.Message{Tag: wire.TagFindNodeResp, Found: found}, true

	default:
		h.log.Warnf("malformed request tag 0x%02x from %v", req.Tag, from)
		return wire.Message{}, false
	}
}

// closestFoundNodes answers a neighbor query. Per SPEC_FULL.md §9's
// resolved Open Question, an empty result is returned as-is: the responder
// does not self-advertise.
func (h *Handlers) closestFoundNodes(target id.Id) []wire.FoundNode {
	peers := h.table.FindClosest(target, routing.BucketSize)
	out := make([]wire.FoundNode, 0, len(peers))
	for _, p := range peers {
		out = append(out, wire.FoundNode{NodeId: p.NodeId, Endpoint: p.Endpoint.UDPAddr()})
	}
	return out
}
