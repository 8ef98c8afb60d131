// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package routing

import (
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/knode/knode/id"
)

// BucketSize (K) is the per-bucket capacity and default neighbor-query
// size, per the GLOSSARY.
const BucketSize = 20

// NumBuckets is one per possible shared-prefix length.
const NumBuckets = id.Bits

var (
	// ErrBucketFull is returned by Insert when the target bucket has no
	// room and the peer is not already present.
	ErrBucketFull = errors.New("routing: bucket full")
	// ErrSameId is returned by Insert when given the local node's own id
	// (Get reports such an id as not present).
	ErrSameId = id.ErrSameId
)

type bucket struct {
	entries []*Peer // ordered least-recently-seen (head) to most-recently-seen (tail)
}

func (b *bucket) indexOf(nid id.Id) int {
	for i, p := range b.entries {
		if p.NodeId == nid {
			return i
		}
	}
	return -1
}

// Table is the local node's bucketed peer set, the routing table of §3/§4.4.
type Table struct {
	mu      sync.Mutex
	self    id.Id
	buckets [NumBuckets]*bucket
}

// New returns an empty Table for local identifier self.
func New(self id.Id) *Table {
	t := &Table{self: self}
	for i := range t.buckets {
		t.buckets[i] = &bucket{}
	}
	return t
}

// Self returns the local node id the table was built for.
func (t *Table) Self() id.Id { return t.self }

// Insert implements §4.4's insertion policy: update-in-place and bump to
// tail if the peer is already present; append at tail if absent and the
// bucket has room; ErrBucketFull if absent and full; ErrSameId if nid is
// the local id.
func (t *Table) Insert(ep Endpoint, nid id.Id, active bool) (Peer, error) {
	if nid == t.self {
		return Peer{}, ErrSameId
	}
	idx, err := id.BucketIndex(t.self, nid)
	if err != nil {
		return Peer{}, ErrSameId
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]

	if i := b.indexOf(nid); i >= 0 {
		p := b.entries[i]
		if !sameIP(p.Endpoint.IP, ep.IP) {
			p.Endpoint = ep
		}
		if active {
			p.Active = true
			p.LastSeen = time.Now()
		}
		// bump to tail (most-recently-seen)
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		b.entries = append(b.entries, p)
		return *p, nil
	}

	if len(b.entries) >= BucketSize {
		return Peer{}, ErrBucketFull
	}

	p := &Peer{
		NodeId:    nid,
		Endpoint:  ep,
		FirstSeen: time.Now(),
		Active:    active,
	}
	if active {
		p.LastSeen = time.Now()
	}
	b.entries = append(b.entries, p)
	return *p, nil
}

func sameIP(a, b net.IP) bool { return a.Equal(b) }

// Get returns the peer with the given id, if present.
func (t *Table) Get(nid id.Id) (Peer, bool) {
	if nid == t.self {
		return Peer{}, false
	}
	idx, err := id.BucketIndex(t.self, nid)
	if err != nil {
		return Peer{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[idx]
	if i := b.indexOf(nid); i >= 0 {
		return *b.entries[i], true
	}
	return Peer{}, false
}

// Snapshot returns every peer currently held, for persistence/inspection.
func (t *Table) Snapshot() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Peer, 0, NumBuckets*4)
	for _, b := range t.buckets {
		for _, p := range b.entries {
			out = append(out, *p)
		}
	}
	return out
}

// FindClosest walks every bucket in the order b, b-1, b+1, b-2, b+2, ...
// clamped to [0, NumBuckets-1], where b is the bucket index of target,
// skipping target itself. It splits the peers into seen and unseen, sorts
// each group by XOR distance to target (ties: LastSeen descending, then
// node id), and returns the seen peers followed by as many unseen peers as
// fit, truncated to count. The walk does not stop early, so the result is
// the closest peers of the whole table, not of the first buckets visited.
func (t *Table) FindClosest(target id.Id, count int) []Peer {
	if count <= 0 {
		count = BucketSize
	}

	b := 0
	if target != t.self {
		if idx, err := id.BucketIndex(t.self, target); err == nil {
			b = idx
		}
	}

	t.mu.Lock()
	order := bucketVisitOrder(b)
	seen := make([]Peer, 0, count)
	unseen := make([]Peer, 0, count)
	for _, idx := range order {
		bk := t.buckets[idx]
		entries := make([]*Peer, len(bk.entries))
		copy(entries, bk.entries)
		sort.SliceStable(entries, func(i, j int) bool {
			return lastSeenDescendingLess(entries[i], entries[j])
		})
		for _, p := range entries {
			if p.NodeId == target {
				continue
			}
			if p.Seen() {
				seen = append(seen, *p)
			} else {
				unseen = append(unseen, *p)
			}
		}
	}
	t.mu.Unlock()

	sortByDistance(target, seen)
	sortByDistance(target, unseen)

	out := make([]Peer, 0, count)
	out = append(out, seen...)
	if len(out) < count {
		need := count - len(out)
		if need > len(unseen) {
			need = len(unseen)
		}
		out = append(out, unseen[:need]...)
	}
	if len(out) > count {
		out = out[:count]
	}
	return out
}

// lastSeenDescendingLess orders most-recently-seen first; never-seen peers
// sort after all seen peers (their zero LastSeen is the earliest possible).
func lastSeenDescendingLess(a, b *Peer) bool {
	if a.LastSeen.Equal(b.LastSeen) {
		return a.NodeId.String() < b.NodeId.String()
	}
	return a.LastSeen.After(b.LastSeen)
}

func sortByDistance(target id.Id, peers []Peer) {
	sort.SliceStable(peers, func(i, j int) bool {
		c := id.Cmp(target, peers[i].NodeId, peers[j].NodeId)
		if c != 0 {
			return c < 0
		}
		if !peers[i].LastSeen.Equal(peers[j].LastSeen) {
			return peers[i].LastSeen.After(peers[j].LastSeen)
		}
		return peers[i].NodeId.String() < peers[j].NodeId.String()
	})
}

// bucketVisitOrder returns b, b-1, b+1, b-2, b+2, ... clamped to
// [0, NumBuckets-1] with each valid index appearing exactly once.
func bucketVisitOrder(b int) []int {
	order := make([]int, 0, NumBuckets)
	order = append(order, b)
	for offset := 1; len(order) < NumBuckets; offset++ {
		lo, hi := b-offset, b+offset
		addedAny := false
		if lo >= 0 {
			order = append(order, lo)
			addedAny = true
		}
		if hi < NumBuckets {
			order = append(order, hi)
			addedAny = true
		}
		if !addedAny {
			break
		}
	}
	return order
}
