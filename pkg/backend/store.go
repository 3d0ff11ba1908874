// Package backend implements the shared, process-wide key-space that
// command execution reads and writes: three independent namespaces (plain
// string values, hashes, and sets), guarded by per-shard locks, so many
// connections can operate on the key-space concurrently.
//
// A single key lives in at most one namespace at a time: a write through
// one namespace removes the key from the other two. A read through the
// wrong namespace reports the key as absent (zero value, false); the
// command layer answers such a read with Null, not with a type error.
//
// The store is sharded: rather than one mutex per namespace (spec's
// "simple correct design"), each namespace is split across N shards picked
// by hashing the key with xxhash, so unrelated keys rarely contend on the
// same lock. Within one key every operation still observes some total
// serial order, since per-key linearizability is unaffected by sharding:
// a single key always hashes to the same shard.
package backend

import (
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/IceFireDB/respkv/pkg/resp"
)

// KeyType names the namespace a key lives in, as reported by Type.
type KeyType string

const (
	TypeNone   KeyType = "none"
	TypeString KeyType = "string"
	TypeHash   KeyType = "hash"
	TypeSet    KeyType = "set"
)

type shard struct {
	mu     sync.RWMutex
	kv     map[string]resp.Frame
	hashes map[string]map[string]resp.Frame
	sets   map[string]map[string]struct{}
}

// Store is the process-wide shared key-space. The zero value is not usable;
// construct one with New. A Store is safe and cheap to share across
// arbitrarily many connection goroutines: cloning a *Store handle
// never clones the underlying maps.
type Store struct {
	shards []*shard
	mask   uint64
}

// New returns a Store sharded across the next power of two greater than or
// equal to 2×GOMAXPROCS shards (minimum 1), matched to the concurrency the
// runtime can actually bring to bear on it.
func New() *Store {
	n := nextPowerOfTwo(runtime.GOMAXPROCS(0) * 2)
	return NewWithShards(n)
}

// NewWithShards returns a Store with exactly n shards, rounded up to the
// next power of two (minimum 1). Exposed so tests and deployments can pick
// a fixed, reproducible shard count.
func NewWithShards(n int) *Store {
	n = nextPowerOfTwo(n)
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{
			kv:     make(map[string]resp.Frame),
			hashes: make(map[string]map[string]resp.Frame),
			sets:   make(map[string]map[string]struct{}),
		}
	}
	return &Store{shards: shards, mask: uint64(n - 1)}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (s *Store) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return s.shards[h&s.mask]
}

// Get returns the value stored under key, or (zero, false) if key is absent
// or does not hold a string value.
func (s *Store) Get(key string) (resp.Frame, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	f, ok := sh.kv[key]
	return f, ok
}

// Set stores value under key, overwriting any prior value in the string
// namespace and vacating key from the hash/set namespaces (a key lives in
// at most one namespace).
func (s *Store) Set(key string, value resp.Frame) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.hashes, key)
	delete(sh.sets, key)
	sh.kv[key] = value
}

// HGet returns the value stored under field within the hash at key, or
// (zero, false) if either is absent.
func (s *Store) HGet(key, field string) (resp.Frame, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	h, ok := sh.hashes[key]
	if !ok {
		return resp.Frame{}, false
	}
	f, ok := h[field]
	return f, ok
}

// HSet stores value under field within the hash at key, auto-creating the
// hash on first write, and vacates key from the string/set namespaces.
func (s *Store) HSet(key, field string, value resp.Frame) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.kv, key)
	delete(sh.sets, key)
	h, ok := sh.hashes[key]
	if !ok {
		h = make(map[string]resp.Frame)
		sh.hashes[key] = h
	}
	h[field] = value
}

// SAdd inserts member into the set at key, auto-creating the set on first
// write, and vacates key from the string/hash namespaces. It reports
// whether member was newly added (false if it was already a member).
func (s *Store) SAdd(key, member string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.kv, key)
	delete(sh.hashes, key)
	set, ok := sh.sets[key]
	if !ok {
		set = make(map[string]struct{})
		sh.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return false
	}
	set[member] = struct{}{}
	return true
}

// SIsMember reports whether member belongs to the set at key.
func (s *Store) SIsMember(key, member string) bool {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	set, ok := sh.sets[key]
	if !ok {
		return false
	}
	_, exists := set[member]
	return exists
}

// Del removes key from whichever namespace holds it. It reports whether
// anything was removed.
func (s *Store) Del(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.kv[key]; ok {
		delete(sh.kv, key)
		return true
	}
	if _, ok := sh.hashes[key]; ok {
		delete(sh.hashes, key)
		return true
	}
	if _, ok := sh.sets[key]; ok {
		delete(sh.sets, key)
		return true
	}
	return false
}

// Type reports which namespace key lives in, or TypeNone if it lives in
// none.
func (s *Store) Type(key string) KeyType {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if _, ok := sh.kv[key]; ok {
		return TypeString
	}
	if _, ok := sh.hashes[key]; ok {
		return TypeHash
	}
	if _, ok := sh.sets[key]; ok {
		return TypeSet
	}
	return TypeNone
}
