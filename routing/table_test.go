// Copyright 2026 The knode Authors
// This file is part of the knode library.

package routing

import (
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/knode/knode/id"
	"github.com/stretchr/testify/require"
)

func idAt(t *testing.T, prefix string) id.Id {
	v, err := id.Parse(prefix + strings.Repeat("0", 40-len(prefix)))
	require.NoError(t, err)
	return v
}

func ep(port uint16) Endpoint {
	return Endpoint{IP: net.ParseIP("127.0.0.1").To4(), Port: port}
}

// Scenario 3: bucket assignment golden vectors.
func TestInsertBucketAssignment(t *testing.T) {
	var local id.Id // all-zero
	tbl := New(local)

	b0 := idAt(t, "8")
	p, err := tbl.Insert(ep(1), b0, false)
	require.NoError(t, err)
	_ = p

	b1 := idAt(t, "4")
	_, err = tbl.Insert(ep(2), b1, false)
	require.NoError(t, err)

	last, err := id.Parse(strings.Repeat("00", 19) + "01")
	require.NoError(t, err)
	_, err = tbl.Insert(ep(3), last, false)
	require.NoError(t, err)

	snap := tbl.Snapshot()
	require.Len(t, snap, 3)

	for _, p := range snap {
		idx, err := id.BucketIndex(local, p.NodeId)
		require.NoError(t, err)
		switch p.NodeId {
		case b0:
			require.Equal(t, 0, idx)
		case b1:
			require.Equal(t, 1, idx)
		case last:
			require.Equal(t, 159, idx)
		}
	}
}

func TestInsertRejectsSelf(t *testing.T) {
	local := idAt(t, "a")
	tbl := New(local)
	_, err := tbl.Insert(ep(1), local, true)
	require.Equal(t, ErrSameId, err)
}

// P3: no bucket ever exceeds BucketSize entries.
func TestBucketCapacityEnforced(t *testing.T) {
	local := idAt(t, "")
	tbl := New(local)

	// All of these share bucket 0 (MSB set, differ only in low bits).
	inserted := 0
	for i := 0; i < BucketSize+5; i++ {
		peerHex := fmt.Sprintf("8%039x", i+1)
		pid, err := id.Parse(peerHex)
		require.NoError(t, err)
		_, err = tbl.Insert(ep(uint16(i)), pid, false)
		if err == nil {
			inserted++
		} else {
			require.Equal(t, ErrBucketFull, err)
		}
	}
	require.Equal(t, BucketSize, inserted)
	require.Len(t, tbl.Snapshot(), BucketSize)
}

func TestInsertUpdatesAndBumpsExisting(t *testing.T) {
	local := idAt(t, "")
	tbl := New(local)
	peer := idAt(t, "8")

	_, err := tbl.Insert(ep(1), peer, false)
	require.NoError(t, err)
	p, ok := tbl.Get(peer)
	require.True(t, ok)
	require.False(t, p.Active)
	require.True(t, p.LastSeen.IsZero())

	_, err = tbl.Insert(ep(1), peer, true)
	require.NoError(t, err)
	p, ok = tbl.Get(peer)
	require.True(t, ok)
	require.True(t, p.Active)
	require.False(t, p.LastSeen.IsZero())
}

// Scenario 4: two-pass neighbor selection — 5 seen in bucket 10, 20 unseen
// in bucket 11; find_closest(target in bucket 10, 20) returns all 5 seen
// first, then 15 unseen from bucket 11.
func TestFindClosestTwoPassSeenThenUnseen(t *testing.T) {
	local := idAt(t, "")
	tbl := New(local)

	// bucket 10 = bit 10 set (0-indexed from MSB): byte 1, bit position
	// 10-8=2 within byte 1 (0-indexed from MSB of that byte).
	bucket10Prefix := []byte{0x00, 0x20}
	bucket11Prefix := []byte{0x00, 0x10}

	seenIds := make([]id.Id, 0, 5)
	for i := 0; i < 5; i++ {
		var raw [20]byte
		copy(raw[:], bucket10Prefix)
		raw[19] = byte(i + 1)
		pid := id.Id(raw)
		seenIds = append(seenIds, pid)
		_, err := tbl.Insert(ep(uint16(i)), pid, true)
		require.NoError(t, err)
	}

	unseenIds := make([]id.Id, 0, 20)
	for i := 0; i < 20; i++ {
		var raw [20]byte
		copy(raw[:], bucket11Prefix)
		raw[19] = byte(i + 1)
		pid := id.Id(raw)
		unseenIds = append(unseenIds, pid)
		_, err := tbl.Insert(ep(uint16(100+i)), pid, false)
		require.NoError(t, err)
	}

	var target [20]byte
	copy(target[:], bucket10Prefix)
	target[19] = 0xFF
	result := tbl.FindClosest(id.Id(target), 20)

	require.Len(t, result, 20)
	for i := 0; i < 5; i++ {
		require.True(t, result[i].Seen(), "expected first 5 results seen")
	}
	for i := 5; i < 20; i++ {
		require.False(t, result[i].Seen(), "expected remaining results unseen")
	}
}

// P5: find_closest returns entries in non-decreasing distance, distinct,
// none equal to target.
func TestFindClosestOrderingAndDedup(t *testing.T) {
	local := idAt(t, "")
	tbl := New(local)
	for i := 1; i <= 30; i++ {
		raw := fmt.Sprintf("%040x", i)
		pid, err := id.Parse(raw)
		require.NoError(t, err)
		_, err = tbl.Insert(ep(uint16(i)), pid, true)
		require.NoError(t, err)
	}

	target := idAt(t, "")
	result := tbl.FindClosest(target, 10)
	require.LessOrEqual(t, len(result), 10)

	seenIds := map[id.Id]bool{}
	for i, p := range result {
		require.NotEqual(t, target, p.NodeId)
		require.False(t, seenIds[p.NodeId], "duplicate peer in result")
		seenIds[p.NodeId] = true
		if i > 0 {
			require.True(t, id.Cmp(target, result[i-1].NodeId, p.NodeId) <= 0)
		}
	}
}

func TestGetUnknownPeer(t *testing.T) {
	local := idAt(t, "")
	tbl := New(local)
	_, ok := tbl.Get(idAt(t, "9"))
	require.False(t, ok)
}

func TestFindClosestExcludesSelf(t *testing.T) {
	local := idAt(t, "a")
	tbl := New(local)
	_, err := tbl.Insert(ep(1), idAt(t, "b"), true)
	require.NoError(t, err)
	result := tbl.FindClosest(local, 20)
	for _, p := range result {
		require.NotEqual(t, local, p.NodeId)
	}
}
