// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package discovery drives the iterative self-lookup of §4.8: find the
// peers nearest the local id, ask each to FIND_NODE(local_id), and PING
// every newly returned node, repeating until a wave yields nothing new.
// Grounded on the teacher's table.go doRefresh/lookup (iterative,
// alpha-bounded, terminate-when-empty loop over a transport interface) and
// the Rust original's messages.rs::find_nearby_peers (issue FindNode to
// each nearby peer, then ping the newly-returned FoundNodes). The
// per-wave "asked" set uses gopkg.in/fatih/set.v0, in place of table.go's
// plain asked map, per SPEC_FULL.md's DOMAIN STACK.
package discovery

import (
	set "gopkg.in/fatih/set.v0"

	"github.com/knode/knode/id"
	"github.com/knode/knode/log"
	"github.com/knode/knode/routing"
	"github.com/knode/knode/rpc"
	"github.com/knode/knode/wire"
)

// Requester is the subset of the RPC engine the loop needs: send a
// request and await its response. The local sender id is passed in by the
// caller, taken from the routing table.
type Requester interface {
	SendRequest(dst routing.Endpoint, sender id.Id, msg wire.Message) (id.Id, error)
	AwaitResponse(txid id.Id, cancel <-chan struct{}) (wire.Packet, error)
}

// Discovery runs the self-lookup loop against a routing table via an RPC
// engine.
type Discovery struct {
	table *routing.Table
	rpc   Requester
	log   *log.Logger
}

// New returns a Discovery bound to table and rpc.
func New(table *routing.Table, r Requester, logger *log.Logger) *Discovery {
	return &Discovery{table: table, rpc: r, log: logger}
}

// Run performs one or more waves of iterative self-lookup, starting from
// the peers nearest the given target (local id on startup, or an
// operator-specified target on demand), until a wave adds no new peer or
// cancel fires. It returns the number of newly inserted peers across all
// waves.
//
// Per §4.8's "must yield cooperatively" requirement, no routing-table lock
// is held across a network round trip: FindClosest copies out a snapshot
// before any request is sent.
func (d *Discovery) Run(target id.Id, cancel <-chan struct{}) int {
	total := 0
	for {
		select {
		case <-cancel:
			return total
		default:
		}

		targets := d.table.FindClosest(target, routing.BucketSize)
		if len(targets) == 0 {
			return total
		}

		asked := set.New()
		newThisWave := 0

		for _, peer := range targets {
			select {
			case <-cancel:
				return total
			default:
			}
			if asked.Has(peer.NodeId) {
				continue
			}
			asked.Add(peer.NodeId)

			found := d.findNode(peer, target, cancel)
			for _, fn := range found {
				if fn.NodeId == d.table.Self() {
					continue
				}
				if _, known := d.table.Get(fn.NodeId); known {
					continue
				}
				if d.ping(fn, cancel) {
					newThisWave++
				} else {
					// passive reference: insert unseen if the bucket has
					// room, per §4.8 step 3.
					ep := routing.EndpointFromUDPAddr(fn.Endpoint)
					if _, err := d.table.Insert(ep, fn.NodeId, false); err == nil {
						newThisWave++
					}
				}
			}
		}

		total += newThisWave
		if newThisWave == 0 {
			return total
		}
	}
}

func (d *Discovery) findNode(peer routing.Peer, target id.Id, cancel <-chan struct{}) []wire.FoundNode {
	txid, err := d.rpc.SendRequest(peer.Endpoint, d.table.Self(), wire.Message{Tag: wire.TagFindNode, Target: target})
	if err != nil {
		d.log.Warnf("find_node send to %s failed: %v", peer.NodeId, err)
		return nil
	}
	pkt, err := d.rpc.AwaitResponse(txid, cancel)
	if err != nil {
		d.log.Debugf("find_node to %s: %v", peer.NodeId, err)
		return nil
	}
	return pkt.Message.Found
}

func (d *Discovery) ping(fn wire.FoundNode, cancel <-chan struct{}) bool {
	ep := routing.EndpointFromUDPAddr(fn.Endpoint)
	txid, err := d.rpc.SendRequest(ep, d.table.Self(), wire.Message{Tag: wire.TagPing})
	if err != nil {
		return false
	}
	_, err = d.rpc.AwaitResponse(txid, cancel)
	return err == nil
}
