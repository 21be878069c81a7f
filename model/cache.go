// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

// CacheLayer identifies which tier holds an entry.
type CacheLayer string

const (
	CacheLayerMemory CacheLayer = "memory"
	CacheLayerDisk   CacheLayer = "disk"
)

// CacheKind partitions the cache by content type; each kind has its own
// eviction policy and disk subdirectory.
type CacheKind string

const (
	CacheAppMetadata    CacheKind = "app_metadata"
	CacheModelBlob      CacheKind = "model_blob"
	CacheDepInfo        CacheKind = "dep_info"
	CacheInstallState   CacheKind = "install_state"
	CacheProcessInfo    CacheKind = "process_info"
	CacheTunnelConfig   CacheKind = "tunnel_config"
	CachePlatformConfig CacheKind = "platform_config"
	CacheUserPrefs      CacheKind = "user_prefs"
)

// AllCacheKinds is the list of every cache kind.
var AllCacheKinds = []CacheKind{
	CacheAppMetadata,
	CacheModelBlob,
	CacheDepInfo,
	CacheInstallState,
	CacheProcessInfo,
	CacheTunnelConfig,
	CachePlatformConfig,
	CacheUserPrefs,
}

// CachePolicy is the eviction policy applied to a cache kind.
type CachePolicy string

const (
	PolicyLRU        CachePolicy = "lru"
	PolicyLFU        CachePolicy = "lfu"
	PolicyTTL        CachePolicy = "ttl"
	PolicyAdaptive   CachePolicy = "adaptive"
	PolicyPersistent CachePolicy = "persistent"
)

// CacheEntry is the metadata tracked for one cached value. Entries are
// exclusively owned by the cache manager; readers receive copies.
type CacheEntry struct {
	Key          string     `json:"key"`
	Layer        CacheLayer `json:"layer"`
	Kind         CacheKind  `json:"kind"`
	SizeBytes    int64      `json:"size_bytes"`
	CreatedAt    int64      `json:"created_at"`
	LastAccessAt int64      `json:"last_access_at"`
	Hits         int64      `json:"hits"`
	TTLSeconds   int64      `json:"ttl_s,omitempty"`
	Priority     int        `json:"priority"`
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *CacheEntry) Expired(nowMillis int64) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return nowMillis-e.CreatedAt > e.TTLSeconds*1000
}

// CachePutOptions configures a cache put.
type CachePutOptions struct {
	TTLSeconds int64 `json:"ttl_s,omitempty"`
	Priority   int   `json:"priority,omitempty"`
}

// CacheStats summarizes cache health for the stats endpoint.
type CacheStats struct {
	MemoryBytes   int64               `json:"memory_bytes"`
	MemoryCap     int64               `json:"memory_cap"`
	DiskBytes     int64               `json:"disk_bytes"`
	DiskCap       int64               `json:"disk_cap"`
	Entries       int64               `json:"entries"`
	Hits          int64               `json:"hits"`
	Misses        int64               `json:"misses"`
	Evictions     int64               `json:"evictions"`
	EntriesByKind map[CacheKind]int64 `json:"entries_by_kind,omitempty"`
}

// CacheInvalidation is broadcast when an entry is evicted or invalidated so
// holders of blob references treat them as best-effort.
type CacheInvalidation struct {
	Key       string    `json:"key"`
	Kind      CacheKind `json:"kind"`
	Timestamp int64     `json:"timestamp"`
}
