// Copyright 2026 The knode Authors
// This file is part of the knode library.

package id

import (
	"math/big"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
)

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := Parse("abcd")
	require.Equal(t, ErrInvalidId, err)
}

func TestParseRejectsUppercase(t *testing.T) {
	_, err := Parse("ABCD" + strings.Repeat("0", 36))
	require.Equal(t, ErrInvalidId, err)
}

func TestParseRoundTrip(t *testing.T) {
	want := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	got, err := Parse(want)
	require.NoError(t, err)
	require.Equal(t, want, got.String())
}

// P2: distance is symmetric and zero on the diagonal.
func TestDistanceSymmetric(t *testing.T) {
	distBig := func(a, b Id) *big.Int {
		return new(big.Int).SetBytes(Distance(a, b)[:])
	}
	f := func(a, b [Len]byte) bool {
		ai, bi := Id(a), Id(b)
		return distBig(ai, bi).Cmp(distBig(bi, ai)) == 0
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestDistanceSelfIsZero(t *testing.T) {
	var a Id
	copy(a[:], []byte("01234567890123456789"))
	require.Equal(t, Id{}, Distance(a, a))
}

// P1: bucket index equals the first-differing-bit position.
func TestBucketIndexGoldenVectors(t *testing.T) {
	var local Id // all-zero

	mustID := func(s string) Id {
		v, err := Parse(s)
		require.NoError(t, err)
		return v
	}

	idx, err := BucketIndex(local, mustID("80"+strings.Repeat("0", 38)))
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	idx, err = BucketIndex(local, mustID("40"+strings.Repeat("0", 38)))
	require.NoError(t, err)
	require.Equal(t, 1, idx)

	idx, err = BucketIndex(local, mustID(strings.Repeat("00", 19)+"01"))
	require.NoError(t, err)
	require.Equal(t, 159, idx)
}

func TestBucketIndexSameId(t *testing.T) {
	var a Id
	copy(a[:], []byte("abcdefghijklmnopqrst"))
	_, err := BucketIndex(a, a)
	require.Equal(t, ErrSameId, err)
}

func TestLessOrdersByDistance(t *testing.T) {
	target := Id{}
	near := Id{0x01}
	far := Id{0x80}
	require.True(t, Less(target, near, far))
	require.False(t, Less(target, far, near))
}
