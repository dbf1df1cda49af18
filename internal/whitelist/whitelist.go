// Package whitelist is the Prompt Pool whitelist registry: the gate that
// admission must pass before an Evidence can be signed. Registry is the
// source of truth, in-memory and RWMutex-guarded, with every entry
// persisted to the shared bbolt store (bucket "wl") so a restart doesn't
// forget what was registered.
package whitelist

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/yuanjing-labs/yuanjing-core/internal/apierr"
	"github.com/yuanjing-labs/yuanjing-core/internal/kvstore"
)

// Status is the outcome of a Register call.
type Status string

const (
	Registered    Status = "Registered"
	AlreadyExists Status = "AlreadyPresent"
)

// Entry is a single whitelist record: a registered Prompt Pool hash and
// its human-readable description.
type Entry struct {
	Hash         [32]byte
	Description  string
	RegisteredAt uint64
}

func (e Entry) encode() []byte {
	buf := make([]byte, 0, 32+4+len(e.Description)+8)
	buf = append(buf, e.Hash[:]...)
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(e.Description)))
	buf = append(buf, length[:]...)
	buf = append(buf, []byte(e.Description)...)
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], e.RegisteredAt)
	buf = append(buf, ts[:]...)
	return buf
}

func decodeEntry(b []byte) (Entry, error) {
	var e Entry
	if len(b) < 32+4 {
		return e, fmt.Errorf("whitelist entry: truncated")
	}
	copy(e.Hash[:], b[:32])
	off := 32
	n := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4
	if len(b) < off+int(n)+8 {
		return e, fmt.Errorf("whitelist entry: truncated description/timestamp")
	}
	e.Description = string(b[off : off+int(n)])
	off += int(n)
	e.RegisteredAt = binary.LittleEndian.Uint64(b[off : off+8])
	return e, nil
}

// Registry maps Prompt Pool hashes to their registered description.
// Multiple readers and writers are safe; writes are serialized by mu.
type Registry struct {
	mu      sync.RWMutex
	kv      *kvstore.Store
	entries map[[32]byte]Entry
	mirror  Mirror // optional, best-effort
}

// Mirror is the optional write-through reporting sink (see pg_mirror.go).
// It never gates admission: Register succeeds or fails based solely on
// the in-memory/KV state. Postgres is a reporting convenience, not the
// source of truth for hot-path checks.
type Mirror interface {
	Mirror(hash [32]byte, description string, registeredAt uint64)
}

// Open loads every persisted whitelist entry into memory.
func Open(kv *kvstore.Store) (*Registry, error) {
	r := &Registry{kv: kv, entries: make(map[[32]byte]Entry)}

	err := kv.ForEach(kvstore.BucketWL, func(key, value []byte) error {
		entry, err := decodeEntry(value)
		if err != nil {
			return err
		}
		var h [32]byte
		copy(h[:], key)
		r.entries[h] = entry
		return nil
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "load whitelist", err)
	}
	return r, nil
}

// SetMirror installs an optional best-effort reporting mirror.
func (r *Registry) SetMirror(m Mirror) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirror = m
}

// Register is idempotent on an identical (hash, description) pair. A
// hash already registered under a different description returns
// AlreadyExists without overwriting the stored entry; the registry just
// reports the outcome and lets the HTTP layer decide the status code.
func (r *Registry) Register(hash [32]byte, description string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[hash]; ok {
		if existing.Description == description {
			return Registered, nil
		}
		return AlreadyExists, nil
	}

	entry := Entry{Hash: hash, Description: description, RegisteredAt: uint64(time.Now().Unix())}
	key := string(hash[:])
	if err := r.kv.Put(kvstore.BucketWL, key, entry.encode()); err != nil {
		return "", apierr.Wrap(apierr.Internal, "persist whitelist entry", err)
	}

	r.entries[hash] = entry
	if r.mirror != nil {
		r.mirror.Mirror(hash, description, entry.RegisteredAt)
	}
	return Registered, nil
}

// Contains reports whether hash is a registered Prompt Pool hash. Once it
// returns true for a hash, every later call for that hash also returns
// true: entries are append-only, there is no removal API.
func (r *Registry) Contains(hash [32]byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[hash]
	return ok
}

// Get returns the registered entry for hash, if any.
func (r *Registry) Get(hash [32]byte) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[hash]
	return e, ok
}
