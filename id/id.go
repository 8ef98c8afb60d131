// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package id implements the 160-bit node identifier and the XOR-distance
// arithmetic the routing table is built on, in the spirit of go-ethereum's
// p2p/discover logdist/distcmp functions but sized to a SHA-1 (160-bit)
// identifier rather than a Keccak256 (256-bit) one.
package id

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"errors"
)

// Len is the size of an Id in bytes (160 bits).
const Len = 20

// Bits is the number of buckets a RoutingTable needs, one per possible
// shared-prefix length between 0 and Len*8-1.
const Bits = Len * 8

// ErrInvalidId is returned by Parse for anything other than 40 lowercase
// hex characters.
var ErrInvalidId = errors.New("id: invalid identifier")

// ErrSameId is returned by BucketIndex when the two ids are identical; the
// caller must never store its own id as a peer.
var ErrSameId = errors.New("id: same identifier")

// Id is a 160-bit node or transaction identifier.
type Id [Len]byte

// Parse accepts exactly 40 lowercase hex characters.
func Parse(s string) (Id, error) {
	var out Id
	if len(s) != Len*2 {
		return out, ErrInvalidId
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return out, ErrInvalidId
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, ErrInvalidId
	}
	copy(out[:], b)
	return out, nil
}

// String renders the lowercase 40-hex form.
func (a Id) String() string {
	return hex.EncodeToString(a[:])
}

// Random generates a fresh SHA-1-derived identifier: 64 random bytes hashed
// to a 160-bit digest, per §6's "fresh identifier" contract.
func Random() (Id, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Id{}, err
	}
	sum := sha1.Sum(buf[:])
	return Id(sum), nil
}

// Distance returns the XOR of a and b as a 160-bit big-endian value.
func Distance(a, b Id) Id {
	var d Id
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// BucketIndex returns the bit position (counted from the most significant
// bit, 0-based) at which local and other first differ — equivalently, the
// number of leading zero bits in Distance(local, other). Returns ErrSameId
// when local == other.
func BucketIndex(local, other Id) (int, error) {
	d := Distance(local, other)
	if d == (Id{}) {
		return 0, ErrSameId
	}
	for i := 0; i < Len; i++ {
		if d[i] == 0 {
			continue
		}
		return i*8 + leadingZeros8(d[i]), nil
	}
	return 0, ErrSameId
}

func leadingZeros8(b byte) int {
	n := 0
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		if b&mask != 0 {
			break
		}
		n++
	}
	return n
}

// Less reports whether distance(target, a) < distance(target, b), with a
// node_id-lexicographic tie-break, per §4.1's deterministic tie-break rule.
func Less(target, a, b Id) bool {
	da, db := Distance(target, a), Distance(target, b)
	for i := range da {
		if da[i] != db[i] {
			return da[i] < db[i]
		}
	}
	return a.String() < b.String()
}

// Cmp returns -1, 0, or 1 comparing distance(target, a) to distance(target, b).
func Cmp(target, a, b Id) int {
	da, db := Distance(target, a), Distance(target, b)
	for i := range da {
		if da[i] != db[i] {
			if da[i] < db[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
