package dht

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Key is a 20-byte DHT key, as produced by ComputeDHTKey.
type Key = [20]byte

// regularRecord is a non-dictionary DHT record.
type regularRecord struct {
	value      []byte
	expiration float64
	inCache    bool
}

// dictEntry is one subkey's slot inside a dictionary record.
type dictEntry struct {
	value      []byte
	expiration float64
	inCache    bool
}

// cacheSlot identifies one in-cache record for LRU tracking: a regular
// record (empty subkey) or one dictionary subkey.
type cacheSlot struct {
	key    Key
	subkey string
}

// PeerView supplies the engine's nearest-peer hints. It is populated by
// the transport layer and consulted, never mutated, by FIND.
type PeerView interface {
	// Nearest returns up to n peer identities nearest to key by the
	// engine's distance metric, nearest first.
	Nearest(key Key, n int) []PeerHint
}

// PeerHint is one entry of a nearest-peer hint: the DHT-distance identity
// and the transport-level peer identity used to reach it.
type PeerHint struct {
	NodeID []byte
	PeerID []byte
}

// nearestHintCount is the maximum number of peer hints returned per FIND,
// per the spec's closest-peer selection.
const nearestHintCount = 20

// TimeSource reports the current wall-clock time as seconds since the
// epoch, matching the double-precision convention used for expirations.
type TimeSource func() float64

// WallClock is the default TimeSource.
func WallClock() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Engine is the in-memory DHT storage engine: it owns the regular and
// dictionary record tables and answers PING/STORE/FIND.
//
// Storage is protected by a single readers-writer lock; FIND and PING
// take a read lock, STORE and cleanup take a write lock, matching the
// engine's reader/writer disparity (many more FINDs than STOREs in
// steady state).
type Engine struct {
	mu         sync.RWMutex
	regular    map[Key]regularRecord
	dictionary map[Key]map[string]dictEntry

	// cacheLRU bounds the number of in-cache records (regular or
	// dictionary subkeys) the engine holds at once. Eviction touches only
	// entries stored with InCache=true; non-cache records have no
	// capacity bound, per the spec's open question on dictionary
	// capacity. Nil when no bound is configured.
	cacheLRU *lru.Cache[cacheSlot, struct{}]

	peerView PeerView
	now      TimeSource
}

// NewEngine constructs an empty storage engine with no capacity bound on
// cache-flagged records (TTL alone governs eviction). peerView may be nil
// until the transport is wired up; FIND simply reports no hints until
// then.
func NewEngine(peerView PeerView, now TimeSource) *Engine {
	e, err := newEngine(peerView, now, 0)
	if err != nil {
		// newEngine only errors when capacity > 0; unreachable here.
		panic(err)
	}
	return e
}

// NewEngineWithCacheCapacity constructs an engine that additionally
// evicts the least-recently-stored in-cache record once more than
// maxCacheEntries such records are held, per the spec's open question:
// "An implementer may add a capacity-triggered LRU over cache-flagged
// records; adding it over non-cache records would violate the current
// contract." maxCacheEntries must be positive.
func NewEngineWithCacheCapacity(peerView PeerView, now TimeSource, maxCacheEntries int) (*Engine, error) {
	return newEngine(peerView, now, maxCacheEntries)
}

func newEngine(peerView PeerView, now TimeSource, maxCacheEntries int) (*Engine, error) {
	if now == nil {
		now = WallClock
	}
	e := &Engine{
		regular:    make(map[Key]regularRecord),
		dictionary: make(map[Key]map[string]dictEntry),
		peerView:   peerView,
		now:        now,
	}
	if maxCacheEntries > 0 {
		c, err := lru.NewWithEvict(maxCacheEntries, e.onCacheEvicted)
		if err != nil {
			return nil, err
		}
		e.cacheLRU = c
	}
	return e, nil
}

// onCacheEvicted is invoked by cacheLRU while the caller already holds
// e.mu for writing (it fires from inside Store and Cleanup, since the LRU
// calls it on Remove as well as on capacity eviction). It must not itself
// acquire the lock. Only a record that is still cache-flagged is deleted,
// so a slot re-stored with InCache=false keeps its new record.
func (e *Engine) onCacheEvicted(slot cacheSlot, _ struct{}) {
	if slot.subkey == "" {
		if rec, ok := e.regular[slot.key]; ok && rec.inCache {
			delete(e.regular, slot.key)
		}
		return
	}
	dict, ok := e.dictionary[slot.key]
	if !ok {
		return
	}
	if ent, has := dict[slot.subkey]; !has || !ent.inCache {
		return
	}
	delete(dict, slot.subkey)
	if len(dict) == 0 {
		delete(e.dictionary, slot.key)
	}
}

// SetPeerView installs the peer view once the transport is available.
func (e *Engine) SetPeerView(pv PeerView) {
	e.mu.Lock()
	e.peerView = pv
	e.mu.Unlock()
}

// StoreEntry is one (key, subkey, value, expiration, in_cache) tuple
// supplied to Store. An empty Subkey means "regular record".
type StoreEntry struct {
	Key        Key
	Subkey     []byte
	Value      []byte
	Expiration float64
	InCache    bool
}

// Store applies a batch of entries, reporting per-entry acceptance.
// Entries are independent: one rejection does not affect the others.
// Store is idempotent — replaying an identical request yields the same
// final state — and takes the write lock, as Cleanup and SetPeerView do.
func (e *Engine) Store(entries []StoreEntry) []bool {
	now := e.now()
	ok := make([]bool, len(entries))

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, ent := range entries {
		if ent.Expiration <= now {
			ok[i] = false
			continue
		}
		if len(ent.Subkey) == 0 {
			e.regular[ent.Key] = regularRecord{
				value:      ent.Value,
				expiration: ent.Expiration,
				inCache:    ent.InCache,
			}
			e.trackCacheSlot(cacheSlot{key: ent.Key}, ent.InCache)
			ok[i] = true
			continue
		}

		dict, exists := e.dictionary[ent.Key]
		if !exists {
			dict = make(map[string]dictEntry)
			e.dictionary[ent.Key] = dict
		}
		sk := string(ent.Subkey)
		if existing, has := dict[sk]; has && existing.expiration > ent.Expiration {
			ok[i] = false
			continue
		}
		dict[sk] = dictEntry{value: ent.Value, expiration: ent.Expiration, inCache: ent.InCache}
		e.trackCacheSlot(cacheSlot{key: ent.Key, subkey: sk}, ent.InCache)
		ok[i] = true
	}

	return ok
}

// trackCacheSlot updates the capacity-bounded LRU's view of slot. A
// slot written with inCache=true is tracked (and may evict the
// least-recently-stored other in-cache slot); a slot written with
// inCache=false is untracked, since only cache-flagged records are
// subject to the capacity bound. No-op when no bound is configured.
func (e *Engine) trackCacheSlot(slot cacheSlot, inCache bool) {
	if e.cacheLRU == nil {
		return
	}
	if inCache {
		e.cacheLRU.Add(slot, struct{}{})
	} else {
		e.cacheLRU.Remove(slot)
	}
}

// FindResult is one key's lookup outcome.
type FindResult struct {
	Found      bool
	Dictionary bool
	Value      []byte
	Expiration float64
	Hints      []PeerHint
}

// Find answers a batch of key lookups. It never mutates storage.
func (e *Engine) Find(keys []Key) ([]FindResult, error) {
	now := e.now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]FindResult, len(keys))
	for i, k := range keys {
		hints := e.nearestLocked(k)

		if rec, ok := e.regular[k]; ok && rec.expiration > now {
			results[i] = FindResult{Found: true, Value: rec.value, Expiration: rec.expiration, Hints: hints}
			continue
		}

		if dict, ok := e.dictionary[k]; ok {
			entries, maxExp, latest := liveDictEntries(dict, now)
			if len(entries) > 0 {
				val, err := BuildDictionaryValue(maxExp, latest, entries)
				if err != nil {
					return nil, err
				}
				results[i] = FindResult{Found: true, Dictionary: true, Value: val, Expiration: maxExp, Hints: hints}
				continue
			}
		}

		results[i] = FindResult{Found: false, Hints: hints}
	}
	return results, nil
}

func liveDictEntries(dict map[string]dictEntry, now float64) ([]DictEntry, float64, float64) {
	entries := make([]DictEntry, 0, len(dict))
	var maxExp float64
	for sk, e := range dict {
		if e.expiration <= now {
			continue
		}
		entries = append(entries, DictEntry{Subkey: []byte(sk), Value: e.value, Expiration: e.expiration})
		if e.expiration > maxExp {
			maxExp = e.expiration
		}
	}
	// Deterministic ordering: dictionary ordering is not semantically
	// meaningful, but a stable order makes re-encoded bytes reproducible
	// for identical live sets, which is useful for tests and caching.
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].Subkey) < string(entries[j].Subkey)
	})
	return entries, maxExp, now
}

func (e *Engine) nearestLocked(k Key) []PeerHint {
	if e.peerView == nil {
		return nil
	}
	return e.peerView.Nearest(k, nearestHintCount)
}

// PingResult is the answer to a liveness probe.
type PingResult struct {
	DHTTime   float64
	Available bool
}

// Ping reports the engine's current time source. The request's Validate
// flag is accepted but unused: authentication is out of scope for the
// core and any future scheme must not change this response's shape.
func (e *Engine) Ping(validate bool) PingResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return PingResult{DHTTime: e.now(), Available: true}
}

// Cleanup removes every record whose expiration has passed. It is
// idempotent: running it twice in a row has the same effect as running
// it once. Correctness of FIND/Store does not depend on Cleanup ever
// running; it exists purely to reclaim space.
func (e *Engine) Cleanup() {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	for k, rec := range e.regular {
		if rec.expiration <= now {
			delete(e.regular, k)
			if e.cacheLRU != nil {
				e.cacheLRU.Remove(cacheSlot{key: k})
			}
		}
	}
	for k, dict := range e.dictionary {
		for sk, ent := range dict {
			if ent.expiration <= now {
				delete(dict, sk)
				if e.cacheLRU != nil {
					e.cacheLRU.Remove(cacheSlot{key: k, subkey: sk})
				}
			}
		}
		if len(dict) == 0 {
			delete(e.dictionary, k)
		}
	}
}
