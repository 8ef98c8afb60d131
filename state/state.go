// Copyright 2026 The knode Authors
// This file is part of the knode library.
//
// The knode library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package state implements the load_state/save_state contract of
// SPEC_FULL.md §6: a bolt-backed snapshot of the routing table and value
// store, plus an afero-backed plain-text identity file, merging the Rust
// original's app_state.rs (bincode node-id-only file) and node_state.rs /
// peers.rs (TOML-ish node+peers file) into the single two-collaborator
// contract the spec names. Bucketing (one bolt bucket per concern) follows
// the teacher's accounts/cachedb.go.
package state

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/boltdb/bolt"
	"github.com/spf13/afero"

	"github.com/knode/knode/id"
	"github.com/knode/knode/routing"
	"github.com/knode/knode/store"
)

var (
	peersBucket  = []byte("peers")
	valuesBucket = []byte("values")
)

// persistedPeer is the on-disk shape of a routing.Peer, sans Active (which
// §3 marks transient and never persisted).
type persistedPeer struct {
	NodeId    string `json:"node_id"`
	IP        string `json:"ip"`
	Port      uint16 `json:"port"`
	FirstSeen int64  `json:"first_seen"`
	LastSeen  int64  `json:"last_seen,omitempty"`
}

// Snapshot is the in-memory shape load_state returns and save_state
// accepts, per §6.
type Snapshot struct {
	LocalId id.Id
	Peers   []routing.Peer
	Values  map[string][]byte
}

// Store is the persisted-state collaborator: a bolt database for the
// routing-table and value-store snapshots, plus an afero filesystem for
// the bare node-identity file.
type Store struct {
	db       *bolt.DB
	fs       afero.Fs
	idPath   string
}

// Open opens (creating if absent) the bolt database at <dir>/knode.db and
// wires an afero filesystem rooted in dir for the identity file. A nil fs
// defaults to the OS filesystem; tests may pass afero.NewMemMapFs().
func Open(dir string, fs afero.Fs) (*Store, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	// boltdb always talks to the real OS filesystem regardless of fs, so
	// the backing directory must exist there too even when fs is a
	// virtual filesystem used only for the identity file in tests.
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dir, "knode.db")
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(peersBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(valuesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, fs: fs, idPath: filepath.Join(dir, "identity")}, nil
}

// Close releases the underlying bolt database.
func (s *Store) Close() error { return s.db.Close() }

// Load implements load_state(): a missing identity file yields a fresh
// random id per §6; a missing/empty bolt database yields empty
// collections.
func (s *Store) Load() (Snapshot, error) {
	localId, err := s.loadOrCreateIdentity()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{LocalId: localId, Values: make(map[string][]byte)}

	err = s.db.View(func(tx *bolt.Tx) error {
		pb := tx.Bucket(peersBucket)
		if pb != nil {
			if err := pb.ForEach(func(_, v []byte) error {
				var pp persistedPeer
				if err := json.Unmarshal(v, &pp); err != nil {
					return err
				}
				nid, err := id.Parse(pp.NodeId)
				if err != nil {
					return nil // skip corrupt entries rather than fail the whole load
				}
				p := routing.Peer{
					NodeId:    nid,
					Endpoint:  routing.Endpoint{IP: parseIP(pp.IP), Port: pp.Port},
					FirstSeen: time.Unix(pp.FirstSeen, 0),
				}
				if pp.LastSeen != 0 {
					p.LastSeen = time.Unix(pp.LastSeen, 0)
				}
				snap.Peers = append(snap.Peers, p)
				return nil
			}); err != nil {
				return err
			}
		}

		vb := tx.Bucket(valuesBucket)
		if vb != nil {
			return vb.ForEach(func(k, v []byte) error {
				cp := make([]byte, len(v))
				copy(cp, v)
				snap.Values[string(k)] = cp
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Save implements save_state(): overwrites both bolt buckets with the
// given snapshot.
func (s *Store) Save(snap Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pb, err := resetBucket(tx, peersBucket)
		if err != nil {
			return err
		}
		for _, p := range snap.Peers {
			pp := persistedPeer{
				NodeId:    p.NodeId.String(),
				IP:        p.Endpoint.IP.String(),
				Port:      p.Endpoint.Port,
				FirstSeen: p.FirstSeen.Unix(),
			}
			if !p.LastSeen.IsZero() {
				pp.LastSeen = p.LastSeen.Unix()
			}
			data, err := json.Marshal(pp)
			if err != nil {
				return err
			}
			if err := pb.Put([]byte(p.NodeId.String()), data); err != nil {
				return err
			}
		}

		vb, err := resetBucket(tx, valuesBucket)
		if err != nil {
			return err
		}
		for k, v := range snap.Values {
			if err := vb.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveFrom is a convenience wrapper building a Snapshot from live
// collaborators; Node.Shutdown uses it to persist state on clean shutdown.
func (s *Store) SaveFrom(localId id.Id, table *routing.Table, vs *store.Store) error {
	return s.Save(Snapshot{
		LocalId: localId,
		Peers:   table.Snapshot(),
		Values:  vs.Snapshot(),
	})
}

func resetBucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
		return nil, err
	}
	return tx.CreateBucket(name)
}

func (s *Store) loadOrCreateIdentity() (id.Id, error) {
	data, err := afero.ReadFile(s.fs, s.idPath)
	if err == nil {
		line := strings.TrimSpace(string(data))
		parsed, perr := id.Parse(line)
		if perr == nil {
			return parsed, nil
		}
		return id.Id{}, errors.New("state: identity file is corrupt")
	}
	if !os.IsNotExist(err) {
		return id.Id{}, err
	}

	fresh, err := id.Random()
	if err != nil {
		return id.Id{}, err
	}
	if err := afero.WriteFile(s.fs, s.idPath, []byte(fresh.String()+"\n"), 0600); err != nil {
		return id.Id{}, err
	}
	return fresh, nil
}

func parseIP(s string) net.IP {
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}
