package core

import (
	"bytes"
	"sort"
	"sync"
)

// KVStore is the typed read/write façade (C1) every other component builds
// on: a generic byte-keyed store with prefix scans and atomic batches.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Exists(key []byte) (bool, error)
	Iterator(prefix []byte) Iterator
	Batch() Batch
}

// Iterator walks all keys sharing a prefix in ascending key order.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// Batch accumulates writes and deletes that become visible atomically on
// Commit, or not at all if Commit is never called.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Commit() error
}

// InMemoryStore is the default KVStore backend, grounded on the teacher's
// cross_chain.go InMemoryStore/InMemoryIterator pair, with prefix-scan and
// atomic batch semantics added to satisfy spec §4.1.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string][]byte)}
}

func (s *InMemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *InMemoryStore) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.data[string(key)] = v
	return nil
}

func (s *InMemoryStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *InMemoryStore) Exists(key []byte) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[string(key)]
	return ok, nil
}

func (s *InMemoryStore) Iterator(prefix []byte) Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = s.data[k]
	}
	return &inMemoryIterator{keys: keys, values: values, index: -1}
}

type inMemoryIterator struct {
	keys   []string
	values [][]byte
	index  int
}

func (it *inMemoryIterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}

func (it *inMemoryIterator) Key() []byte   { return []byte(it.keys[it.index]) }
func (it *inMemoryIterator) Value() []byte { return it.values[it.index] }
func (it *inMemoryIterator) Error() error  { return nil }
func (it *inMemoryIterator) Close() error  { return nil }

type batchOp struct {
	del   bool
	key   []byte
	value []byte
}

type inMemoryBatch struct {
	store *InMemoryStore
	ops   []batchOp
}

func (b *inMemoryBatch) Set(key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	b.ops = append(b.ops, batchOp{key: k, value: v})
}

func (b *inMemoryBatch) Delete(key []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	b.ops = append(b.ops, batchOp{del: true, key: k})
}

// Commit applies every queued operation atomically: either all of them
// become visible, or (on the only failure mode, a nil store) none do.
func (b *inMemoryBatch) Commit() error {
	if b.store == nil {
		return ErrStorageWriteFail
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if op.del {
			delete(b.store.data, string(op.key))
		} else {
			b.store.data[string(op.key)] = op.value
		}
	}
	return nil
}

func (s *InMemoryStore) Batch() Batch {
	return &inMemoryBatch{store: s}
}

var (
	storeMu      sync.RWMutex
	currentStore KVStore = NewInMemoryStore()
)

// CurrentStore returns the process-wide KV store, mirroring the teacher's
// CurrentStore() global accessor (the one global this rebuild keeps: C1 is
// specified as a facade over "a generic byte-keyed store", not an
// injectable collaborator like the other components).
func CurrentStore() KVStore {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return currentStore
}

// SetStore overrides the process-wide store, used by tests and by node
// bootstrap to swap in a persistent backend.
func SetStore(s KVStore) {
	storeMu.Lock()
	defer storeMu.Unlock()
	currentStore = s
}

// Key layout helpers, matching the persisted key layout table (spec §6).
func trustKey(from, to Address) []byte     { return append([]byte("TRUST/"+from.Hex()+"/"), []byte(to.Hex())...) }
func trustInKey(to, from Address) []byte   { return append([]byte("TRUST_IN/"+to.Hex()+"/"), []byte(from.Hex())...) }
func trustOutPrefix(from Address) []byte   { return []byte("TRUST/" + from.Hex() + "/") }
func trustInPrefix(to Address) []byte      { return []byte("TRUST_IN/" + to.Hex() + "/") }
func voteKey(voteTx Hash) []byte           { return []byte("VOTE/" + voteTx.Hex()) }
func votesByTargetKey(target Address, voteTx Hash) []byte {
	return []byte("VOTES/" + target.Hex() + "/" + voteTx.Hex())
}
func votesByTargetPrefix(target Address) []byte { return []byte("VOTES/" + target.Hex() + "/") }
func disputeKey(id string) []byte               { return []byte("DISPUTE/" + id) }
func commitKey(dispute, voter string) []byte    { return []byte("COMMIT/" + dispute + "/" + voter) }
func commitPrefix(dispute string) []byte        { return []byte("COMMIT/" + dispute + "/") }
func rewardKey(rewardID string) []byte          { return []byte("REWARD/" + rewardID) }
func rewardsByRecipientKey(recipient Address) []byte {
	return []byte("REWARDS_BY/" + recipient.Hex())
}
func contractKey(addr Address) []byte         { return []byte("CONTRACT/" + addr.Hex()) }
func storageKey(addr Address, key Word) []byte {
	return []byte("STORAGE/" + addr.Hex() + "/" + key.String())
}
func storagePrefix(addr Address) []byte { return []byte("STORAGE/" + addr.Hex() + "/") }
func nonceKey(addr Address) []byte      { return []byte("NONCE/" + addr.Hex()) }
func balanceKey(addr Address) []byte    { return []byte("BALANCE/" + addr.Hex()) }
func anomalyKey(alertID uint64) []byte  { return []byte("ANOMALY/" + WordFromUint64(alertID).String()) }
var flaggedKey = []byte("FLAGGED")
