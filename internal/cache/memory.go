package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dgraph-io/ristretto/v2/z"
)

// tagSweepFloor is the smallest tag index size that triggers a sweep of
// expired members.
const tagSweepFloor = 1024

// MemoryBackend is an in-process backend on ristretto. Tags are tracked in a
// side registry since ristretto has no secondary index. Registry members are
// dropped when ristretto evicts them, and a sweep removes expired members once
// the registry doubles in size, so it stays proportional to the live entries.
type MemoryBackend struct {
	store *ristretto.Cache[string, []byte]

	mu      sync.Mutex
	tags    map[string]map[string]struct{}
	keyTags map[string][]string
	byHash  map[uint64]string
	sweepAt int
}

// NewMemoryBackend creates a backend bounded to maxBytes of payload. Each
// entry costs its encoded length.
func NewMemoryBackend(maxBytes int64) (*MemoryBackend, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	// Sized for ~1KiB entries, ten counters per expected entry.
	counters := maxBytes / 1024 * 10
	if counters < 1000 {
		counters = 1000
	}
	m := &MemoryBackend{
		tags:    make(map[string]map[string]struct{}),
		keyTags: make(map[string][]string),
		byHash:  make(map[uint64]string),
		sweepAt: tagSweepFloor,
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        counters,
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict: func(item *ristretto.Item[[]byte]) {
			m.forgetHash(item.Key)
		},
	})
	if err != nil {
		return nil, err
	}
	m.store = store
	return m, nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, ok := m.store.Get(key)
	return value, ok, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	// A write dropped by the admission policy is an ordinary miss later on.
	if !m.store.SetWithTTL(key, value, int64(len(value)), ttl) {
		return nil
	}
	// Make the write visible to the next Get.
	m.store.Wait()

	if len(tags) == 0 {
		return nil
	}
	if _, ok := m.store.GetTTL(key); !ok {
		// Rejected by the admission policy.
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.forget(key)
	for _, tag := range tags {
		members, ok := m.tags[tag]
		if !ok {
			members = make(map[string]struct{})
			m.tags[tag] = members
		}
		members[key] = struct{}{}
	}
	hash, _ := z.KeyToHash(key)
	m.keyTags[key] = append([]string(nil), tags...)
	m.byHash[hash] = key

	if len(m.keyTags) > m.sweepAt {
		m.sweep()
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.store.Del(key)
	}
	m.mu.Lock()
	for _, key := range keys {
		m.forget(key)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) InvalidateTag(_ context.Context, tag string) error {
	m.mu.Lock()
	members := m.tags[tag]
	for key := range members {
		m.forget(key)
	}
	delete(m.tags, tag)
	m.mu.Unlock()

	for key := range members {
		m.store.Del(key)
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	m.store.Close()
	return nil
}

// indexSize reports how many keys the tag registry tracks.
func (m *MemoryBackend) indexSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keyTags)
}

func (m *MemoryBackend) forgetHash(hash uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := m.byHash[hash]; ok {
		m.forget(key)
	}
}

// forget removes key from the registry. Callers hold mu.
func (m *MemoryBackend) forget(key string) {
	tags, ok := m.keyTags[key]
	if !ok {
		return
	}
	for _, tag := range tags {
		if members, ok := m.tags[tag]; ok {
			delete(members, key)
			if len(members) == 0 {
				delete(m.tags, tag)
			}
		}
	}
	hash, _ := z.KeyToHash(key)
	delete(m.byHash, hash)
	delete(m.keyTags, key)
}

// sweep drops registry members whose entries expired without an eviction
// callback. Callers hold mu.
func (m *MemoryBackend) sweep() {
	for key := range m.keyTags {
		if _, ok := m.store.GetTTL(key); !ok {
			m.forget(key)
		}
	}
	m.sweepAt = 2 * len(m.keyTags)
	if m.sweepAt < tagSweepFloor {
		m.sweepAt = tagSweepFloor
	}
}
