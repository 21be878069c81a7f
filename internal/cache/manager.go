// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package cache is the tiered cache: a byte-bounded memory layer over a disk
// layer, with per-kind eviction policies tracked in the sqlite index.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

const (
	// memoryEntryCap bounds the number of memory entries; bytes are the
	// primary budget, this is a backstop for the LRU container.
	memoryEntryCap = 4096
	// blobMemoryThreshold keeps large model blobs disk-only.
	blobMemoryThreshold = 8 << 20
)

type indexStore interface {
	GetCacheEntry(key string, kind model.CacheKind) (*model.CacheEntry, error)
	GetCacheEntries(kind model.CacheKind) ([]*model.CacheEntry, error)
	UpsertCacheEntry(entry *model.CacheEntry) error
	TouchCacheEntry(key string, kind model.CacheKind, accessAt int64) error
	DeleteCacheEntry(key string, kind model.CacheKind) error
	GetCacheTotals() (int64, int64, error)
}

// Options configures the cache manager.
type Options struct {
	MemoryCap int64
	DiskCap   int64
}

// Manager owns both cache layers. Entry values are immutable after
// insertion; readers receive copies, and eviction is announced on the
// invalidation topic.
type Manager struct {
	logger  log.FieldLogger
	index   indexStore
	broker  *events.Broker
	diskDir string
	options Options

	// mu is the single map-level lock for metadata updates.
	mu          sync.Mutex
	memory      *lru.Cache[string, []byte]
	memoryBytes int64
	hits        int64
	misses      int64
	evictions   int64
}

// NewManager creates the cache manager rooted at diskDir.
func NewManager(index indexStore, broker *events.Broker, diskDir string, options Options, logger log.FieldLogger) (*Manager, error) {
	if options.MemoryCap <= 0 {
		options.MemoryCap = 256 << 20
	}
	if options.DiskCap <= 0 {
		options.DiskCap = 10 << 30
	}

	memory, err := lru.New[string, []byte](memoryEntryCap)
	if err != nil {
		return nil, model.WrapError(model.ErrInternal, err, "failed to build memory layer")
	}

	for _, kind := range model.AllCacheKinds {
		if err := os.MkdirAll(filepath.Join(diskDir, string(kind)), 0755); err != nil {
			return nil, model.WrapError(model.ErrPermission, err, "failed to create cache dir for %s", kind)
		}
	}

	m := &Manager{
		logger:  logger.WithField("component", "cache"),
		index:   index,
		broker:  broker,
		diskDir: diskDir,
		options: options,
		memory:  memory,
	}

	// The memory layer starts empty, so entries the index still records as
	// memory-resident are demoted to the disk layer; values are reloaded
	// lazily from disk.
	if entries, err := index.GetCacheEntries(""); err == nil {
		for _, entry := range entries {
			if entry.Layer == model.CacheLayerMemory {
				entry.Layer = model.CacheLayerDisk
				_ = index.UpsertCacheEntry(entry)
			}
		}
	}

	return m, nil
}

func memoryKey(kind model.CacheKind, key string) string {
	return string(kind) + "/" + key
}

// diskPath maps a key to cache/disk/<kind>/<hex16>.{json|bin}.
func (m *Manager) diskPath(kind model.CacheKind, key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])[:16]
	ext := ".json"
	if kind == model.CacheModelBlob {
		ext = ".bin"
	}
	return filepath.Join(m.diskDir, string(kind), name+ext)
}

// Get returns a copy of the cached value, or nil on a miss.
func (m *Manager) Get(key string, kind model.CacheKind) ([]byte, error) {
	entry, err := m.index.GetCacheEntry(key, kind)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		m.countMiss()
		return nil, nil
	}
	if entry.Expired(model.GetMillis()) {
		_, _ = m.Invalidate(key, kind)
		m.countMiss()
		return nil, nil
	}

	m.mu.Lock()
	value, inMemory := m.memory.Get(memoryKey(kind, key))
	m.mu.Unlock()

	if !inMemory {
		value, err = os.ReadFile(m.diskPath(kind, key))
		if err != nil {
			if os.IsNotExist(err) {
				// Index and disk disagree; treat as a miss and self-heal.
				_ = m.index.DeleteCacheEntry(key, kind)
				m.countMiss()
				return nil, nil
			}
			return nil, model.WrapError(model.ErrPermission, err, "failed to read cache file")
		}

		// Promote to the memory layer on hit for LRU-governed kinds.
		if PolicyFor(entry) == model.PolicyLRU && int64(len(value)) <= blobMemoryThreshold {
			m.promote(kind, key, value, entry)
		}
	}

	now := model.GetMillis()
	if err = m.index.TouchCacheEntry(key, kind, now); err != nil {
		m.logger.WithError(err).Warn("Failed to touch cache entry")
	}

	m.mu.Lock()
	m.hits++
	m.mu.Unlock()

	return append([]byte(nil), value...), nil
}

func (m *Manager) countMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *Manager) promote(kind model.CacheKind, key string, value []byte, entry *model.CacheEntry) {
	m.mu.Lock()
	m.evictForBytes(kind, int64(len(value)))
	m.memory.Add(memoryKey(kind, key), value)
	m.memoryBytes += int64(len(value))
	m.mu.Unlock()

	entry.Layer = model.CacheLayerMemory
	if err := m.index.UpsertCacheEntry(entry); err != nil {
		m.logger.WithError(err).Warn("Failed to promote cache entry")
	}
}

// Put stores a value in both layers, evicting from memory first so the byte
// invariant holds before returning.
func (m *Manager) Put(key string, value []byte, kind model.CacheKind, opts model.CachePutOptions) error {
	if opts.Priority <= 0 {
		opts.Priority = 3
	}
	size := int64(len(value))
	now := model.GetMillis()

	previous, err := m.index.GetCacheEntry(key, kind)
	if err != nil {
		return err
	}

	entry := &model.CacheEntry{
		Key:          key,
		Kind:         kind,
		Layer:        model.CacheLayerMemory,
		SizeBytes:    size,
		CreatedAt:    now,
		LastAccessAt: now,
		TTLSeconds:   effectiveTTL(kind, opts.TTLSeconds, 0),
		Priority:     opts.Priority,
	}
	if previous != nil {
		entry.Hits = previous.Hits
	}

	diskOnly := kind == model.CacheModelBlob && size > blobMemoryThreshold
	if diskOnly {
		entry.Layer = model.CacheLayerDisk
	}

	// Write the disk layer first; the memory layer only ever fronts a
	// durable copy.
	path := m.diskPath(kind, key)
	if err = fsutil.WriteFileAtomic(path, value, 0644); err != nil {
		return err
	}

	if !diskOnly {
		mk := memoryKey(kind, key)
		m.mu.Lock()
		if old, ok := m.memory.Peek(mk); ok {
			m.memoryBytes -= int64(len(old))
			m.memory.Remove(mk)
		}
		m.evictForBytes(kind, size)
		m.memory.Add(mk, append([]byte(nil), value...))
		m.memoryBytes += size
		m.mu.Unlock()
	}

	if err = m.index.UpsertCacheEntry(entry); err != nil {
		return err
	}

	return nil
}

// evictForBytes evicts memory entries of the given kind per its policy until
// the new size fits. Callers hold mu.
func (m *Manager) evictForBytes(kind model.CacheKind, incoming int64) {
	for m.memoryBytes+incoming > m.options.MemoryCap && m.memory.Len() > 0 {
		victim := m.pickVictim(kind)
		if victim == nil {
			// No evictable entry of this kind; fall back to container LRU
			// order so the byte invariant still holds.
			mk, value, ok := m.memory.RemoveOldest()
			if !ok {
				return
			}
			m.memoryBytes -= int64(len(value))
			m.announceEvictionByMemoryKey(mk)
			continue
		}

		mk := memoryKey(victim.Kind, victim.Key)
		if value, ok := m.memory.Peek(mk); ok {
			m.memoryBytes -= int64(len(value))
			m.memory.Remove(mk)
		}
		victim.Layer = model.CacheLayerDisk
		if err := m.index.UpsertCacheEntry(victim); err != nil {
			m.logger.WithError(err).Warn("Failed to demote evicted cache entry")
		}
		m.evictions++
		m.broker.Publish(events.TopicCacheInvalidation, &model.CacheInvalidation{
			Key:       victim.Key,
			Kind:      victim.Kind,
			Timestamp: model.GetMillis(),
		})
	}
}

// pickVictim selects the memory-resident entry of the kind to evict: least
// recently used for LRU/TTL policies, least frequently used for LFU.
func (m *Manager) pickVictim(kind model.CacheKind) *model.CacheEntry {
	if !Evictable(kind) {
		return nil
	}
	entries, err := m.index.GetCacheEntries(kind)
	if err != nil {
		return nil
	}

	var candidates []*model.CacheEntry
	for _, entry := range entries {
		if entry.Layer != model.CacheLayerMemory {
			continue
		}
		if _, resident := m.memory.Peek(memoryKey(entry.Kind, entry.Key)); resident {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	byLFU := false
	if policy := kindPolicies[kind]; policy == model.PolicyLFU {
		byLFU = true
	} else if policy == model.PolicyAdaptive {
		// Adaptive kinds evict by their per-entry effective policy; an LFU
		// majority switches the selection.
		lfu := 0
		for _, entry := range candidates {
			if PolicyFor(entry) == model.PolicyLFU {
				lfu++
			}
		}
		byLFU = lfu*2 > len(candidates)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if byLFU {
			if candidates[i].Hits != candidates[j].Hits {
				return candidates[i].Hits < candidates[j].Hits
			}
		}
		return candidates[i].LastAccessAt < candidates[j].LastAccessAt
	})

	return candidates[0]
}

func (m *Manager) announceEvictionByMemoryKey(mk string) {
	m.evictions++
	for i := 0; i < len(mk); i++ {
		if mk[i] == '/' {
			m.broker.Publish(events.TopicCacheInvalidation, &model.CacheInvalidation{
				Key:       mk[i+1:],
				Kind:      model.CacheKind(mk[:i]),
				Timestamp: model.GetMillis(),
			})
			return
		}
	}
}

// Invalidate removes the entry from both layers. It reports whether an
// entry existed.
func (m *Manager) Invalidate(key string, kind model.CacheKind) (bool, error) {
	entry, err := m.index.GetCacheEntry(key, kind)
	if err != nil {
		return false, err
	}

	mk := memoryKey(kind, key)
	m.mu.Lock()
	if value, ok := m.memory.Peek(mk); ok {
		m.memoryBytes -= int64(len(value))
		m.memory.Remove(mk)
	}
	m.mu.Unlock()

	if err = os.Remove(m.diskPath(kind, key)); err != nil && !os.IsNotExist(err) {
		return false, model.WrapError(model.ErrPermission, err, "failed to remove cache file")
	}
	if err = m.index.DeleteCacheEntry(key, kind); err != nil {
		return false, err
	}

	if entry != nil {
		m.broker.Publish(events.TopicCacheInvalidation, &model.CacheInvalidation{
			Key:       key,
			Kind:      kind,
			Timestamp: model.GetMillis(),
		})
	}

	return entry != nil, nil
}

// PutJSON marshals and stores a value.
func (m *Manager) PutJSON(key string, value interface{}, kind model.CacheKind, opts model.CachePutOptions) error {
	data, err := json.Marshal(value)
	if err != nil {
		return model.WrapError(model.ErrInternal, err, "failed to marshal cache value")
	}
	return m.Put(key, data, kind, opts)
}

// GetJSON fetches and unmarshals a value, reporting whether it existed.
func (m *Manager) GetJSON(key string, kind model.CacheKind, out interface{}) (bool, error) {
	data, err := m.Get(key, kind)
	if err != nil || data == nil {
		return false, err
	}
	if err = json.Unmarshal(data, out); err != nil {
		return false, model.WrapError(model.ErrCorrupt, err, "failed to unmarshal cache value")
	}
	return true, nil
}

// Prefetch warms the memory layer with every small disk-resident
// app_metadata, dep_info or install_state entry whose key contains the app
// id. Entries keyed without the app id (such as profiles cached under their
// tree hash) are not warmed.
func (m *Manager) Prefetch(appID string) error {
	entries, err := m.index.GetCacheEntries("")
	if err != nil {
		return err
	}

	warmed := 0
	for _, entry := range entries {
		if entry.Layer != model.CacheLayerDisk || entry.SizeBytes > blobMemoryThreshold {
			continue
		}
		if !strings.Contains(entry.Key, appID) {
			continue
		}
		switch entry.Kind {
		case model.CacheAppMetadata, model.CacheDepInfo, model.CacheInstallState:
		default:
			continue
		}

		value, readErr := os.ReadFile(m.diskPath(entry.Kind, entry.Key))
		if readErr != nil {
			continue
		}
		m.promote(entry.Kind, entry.Key, value, entry)
		warmed++
	}

	m.logger.WithField("app", appID).Debugf("Prefetched %d cache entries", warmed)
	return nil
}

// Stats summarizes both layers.
func (m *Manager) Stats() (*model.CacheStats, error) {
	memoryBytes, diskBytes, err := m.index.GetCacheTotals()
	if err != nil {
		return nil, err
	}

	entries, err := m.index.GetCacheEntries("")
	if err != nil {
		return nil, err
	}

	byKind := map[model.CacheKind]int64{}
	for _, entry := range entries {
		byKind[entry.Kind]++
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return &model.CacheStats{
		MemoryBytes:   memoryBytes,
		MemoryCap:     m.options.MemoryCap,
		DiskBytes:     diskBytes,
		DiskCap:       m.options.DiskCap,
		Entries:       int64(len(entries)),
		Hits:          m.hits,
		Misses:        m.misses,
		Evictions:     m.evictions,
		EntriesByKind: byKind,
	}, nil
}

// Cleanup removes expired entries and enforces the disk cap by evicting the
// lowest (priority, last_access_at) tuples. Run periodically by a scheduler.
func (m *Manager) Cleanup() error {
	entries, err := m.index.GetCacheEntries("")
	if err != nil {
		return err
	}

	now := model.GetMillis()
	var live []*model.CacheEntry
	var diskBytes int64
	for _, entry := range entries {
		if entry.Expired(now) && Evictable(entry.Kind) {
			if _, err := m.Invalidate(entry.Key, entry.Kind); err != nil {
				m.logger.WithError(err).Warn("Failed to remove expired cache entry")
			}
			continue
		}
		live = append(live, entry)
		diskBytes += entry.SizeBytes
	}

	if diskBytes <= m.options.DiskCap {
		return nil
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].Priority != live[j].Priority {
			return live[i].Priority < live[j].Priority
		}
		return live[i].LastAccessAt < live[j].LastAccessAt
	})

	for _, entry := range live {
		if diskBytes <= m.options.DiskCap {
			break
		}
		if !Evictable(entry.Kind) {
			continue
		}
		if _, err := m.Invalidate(entry.Key, entry.Kind); err != nil {
			m.logger.WithError(err).Warn("Failed to evict cache entry for disk cap")
			continue
		}
		diskBytes -= entry.SizeBytes
	}

	return nil
}

// Shutdown is a hook for scheduler composition; the cache has no goroutines
// of its own.
func (m *Manager) Shutdown() {}

// Do implements the scheduler doer by running a cleanup pass.
func (m *Manager) Do() error {
	return m.Cleanup()
}
