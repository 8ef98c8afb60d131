// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package wire implements the binary, little-endian, length-prefixed wire
// format for Packet exchange, per the layout pinned in SPEC_FULL.md §6. No
// generic tagged-union codec exists anywhere in the retrieval pack (the
// teacher's p2p/discover v4 protocol hand-rolls its own RLP-free packet
// encode/decode functions directly against a []byte buffer), so this codec
// is written the same way: explicit tag bytes and manual field layout,
// mirroring other_examples' udp.go packet (de)serialization style rather
// than reaching for a reflection-based encoding/gob or third-party codec.
package wire

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/knode/knode/id"
)

// MaxDatagramSize is the hard ceiling a Packet must fit within; larger
// encodings are a programmer error and larger inbound datagrams are
// truncated and dropped by the transport before reaching this package.
const MaxDatagramSize = 1024

// ErrDecode is returned for any malformed input; the codec never panics.
var ErrDecode = errors.New("wire: malformed packet")

// Request/response tags, exactly as laid out in SPEC_FULL.md §6.
const (
	TagPing      byte = 0x01
	TagStore     byte = 0x02
	TagFindNode  byte = 0x03
	TagFindValue byte = 0x04

	TagPong           byte = 0x81
	TagStoreOK        byte = 0x82
	TagFindNodeResp   byte = 0x83
	TagFindValueValue byte = 0x84
)

// FoundNode is one entry of a FIND_NODE_RESP / the neighbor list returned
// in lieu of a missing value.
type FoundNode struct {
	NodeId   id.Id
	Endpoint net.UDPAddr
}

// Message is the tagged union of every request and response body.
type Message struct {
	Tag byte

	// Request bodies.
	StoreKey   id.Id
	StoreValue []byte
	Target     id.Id
	LookupKey  id.Id

	// Response bodies.
	Found []FoundNode
	Value []byte
}

// Packet is the full on-wire envelope: sender, transaction correlation id,
// and the message payload.
type Packet struct {
	SenderId      id.Id
	TransactionId id.Id
	Message       Message
}

func isRequestTag(tag byte) bool { return tag&0x80 == 0 }

// Encode serializes p into the wire format. It never returns an error for
// well-formed in-memory values; oversized STORE/FIND_VALUE payloads are the
// caller's responsibility to avoid (the value store and operator surface do
// not enforce a size cap per spec.md §4.5).
func Encode(p Packet) ([]byte, error) {
	buf := make([]byte, 0, 128)
	buf = append(buf, p.SenderId[:]...)
	buf = append(buf, p.TransactionId[:]...)
	buf = append(buf, p.Message.Tag)

	switch p.Message.Tag {
	case TagPing, TagPong, TagStoreOK:
		// empty body
	case TagStore:
		buf = append(buf, p.Message.StoreKey[:]...)
		buf = appendLenPrefixed(buf, p.Message.StoreValue)
	case TagFindNode:
		buf = append(buf, p.Message.Target[:]...)
	case TagFindValue:
		buf = append(buf, p.Message.LookupKey[:]...)
	case TagFindNodeResp:
		n := len(p.Message.Found)
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(n))
		buf = append(buf, lenBuf[:]...)
		for _, fn := range p.Message.Found {
			buf = append(buf, fn.NodeId[:]...)
			buf = appendEndpoint(buf, fn.Endpoint)
		}
	case TagFindValueValue:
		buf = appendLenPrefixed(buf, p.Message.Value)
	default:
		return nil, ErrDecode
	}

	if len(buf) > MaxDatagramSize {
		return nil, errors.New("wire: encoded packet exceeds 1024 bytes")
	}
	return buf, nil
}

func appendLenPrefixed(buf []byte, data []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, data...)
	return buf
}

func appendEndpoint(buf []byte, addr net.UDPAddr) []byte {
	ip4 := addr.IP.To4()
	if ip4 != nil {
		buf = append(buf, 4)
		buf = append(buf, ip4...)
	} else {
		ip16 := addr.IP.To16()
		if ip16 == nil {
			ip16 = make(net.IP, 16)
		}
		buf = append(buf, 16)
		buf = append(buf, ip16...)
	}
	var portBuf [2]byte
	binary.LittleEndian.PutUint16(portBuf[:], uint16(addr.Port))
	return append(buf, portBuf[:]...)
}

// Decode is total: any byte string either decodes to a valid Packet or
// yields ErrDecode, per §4.3's codec contract. It never panics.
func Decode(data []byte) (p Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = Packet{}
			err = ErrDecode
		}
	}()

	if len(data) > MaxDatagramSize {
		return Packet{}, ErrDecode
	}
	r := &reader{buf: data}

	var senderBytes, txBytes []byte
	if senderBytes, err = r.take(id.Len); err != nil {
		return Packet{}, err
	}
	if txBytes, err = r.take(id.Len); err != nil {
		return Packet{}, err
	}
	tag, err := r.byte()
	if err != nil {
		return Packet{}, err
	}

	var pkt Packet
	copy(pkt.SenderId[:], senderBytes)
	copy(pkt.TransactionId[:], txBytes)
	pkt.Message.Tag = tag

	switch tag {
	case TagPing, TagPong, TagStoreOK:
		// empty body
	case TagStore:
		keyBytes, err := r.take(id.Len)
		if err != nil {
			return Packet{}, err
		}
		copy(pkt.Message.StoreKey[:], keyBytes)
		val, err := r.lenPrefixed()
		if err != nil {
			return Packet{}, err
		}
		pkt.Message.StoreValue = val
	case TagFindNode:
		tBytes, err := r.take(id.Len)
		if err != nil {
			return Packet{}, err
		}
		copy(pkt.Message.Target[:], tBytes)
	case TagFindValue:
		kBytes, err := r.take(id.Len)
		if err != nil {
			return Packet{}, err
		}
		copy(pkt.Message.LookupKey[:], kBytes)
	case TagFindNodeResp:
		nBytes, err := r.take(2)
		if err != nil {
			return Packet{}, err
		}
		n := int(binary.LittleEndian.Uint16(nBytes))
		found := make([]FoundNode, 0, n)
		for i := 0; i < n; i++ {
			idBytes, err := r.take(id.Len)
			if err != nil {
				return Packet{}, err
			}
			var fn FoundNode
			copy(fn.NodeId[:], idBytes)
			addr, err := r.endpoint()
			if err != nil {
				return Packet{}, err
			}
			fn.Endpoint = addr
			found = append(found, fn)
		}
		pkt.Message.Found = found
	case TagFindValueValue:
		val, err := r.lenPrefixed()
		if err != nil {
			return Packet{}, err
		}
		pkt.Message.Value = val
	default:
		return Packet{}, ErrDecode
	}

	if !r.exhausted() {
		return Packet{}, ErrDecode
	}
	return pkt, nil
}

// IsRequest reports whether tag identifies a request (vs. a response).
func IsRequest(tag byte) bool { return isRequestTag(tag) }

type reader struct {
	buf []byte
	pos int
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, ErrDecode
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) lenPrefixed() ([]byte, error) {
	lenBytes, err := r.take(4)
	if err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBytes)
	if n > MaxDatagramSize {
		return nil, ErrDecode
	}
	return r.take(int(n))
}

func (r *reader) endpoint() (net.UDPAddr, error) {
	famBytes, err := r.take(1)
	if err != nil {
		return net.UDPAddr{}, err
	}
	var ipLen int
	switch famBytes[0] {
	case 4:
		ipLen = 4
	case 16:
		ipLen = 16
	default:
		return net.UDPAddr{}, ErrDecode
	}
	ipBytes, err := r.take(ipLen)
	if err != nil {
		return net.UDPAddr{}, err
	}
	portBytes, err := r.take(2)
	if err != nil {
		return net.UDPAddr{}, err
	}
	ip := make(net.IP, ipLen)
	copy(ip, ipBytes)
	return net.UDPAddr{IP: ip, Port: int(binary.LittleEndian.Uint16(portBytes))}, nil
}

func (r *reader) exhausted() bool { return r.pos == len(r.buf) }
