// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package cache

import (
	"time"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// kindPolicies assigns the primary eviction policy per cache kind.
var kindPolicies = map[model.CacheKind]model.CachePolicy{
	model.CacheAppMetadata:    model.PolicyLRU,
	model.CacheModelBlob:      model.PolicyLFU,
	model.CacheDepInfo:        model.PolicyTTL,
	model.CacheInstallState:   model.PolicyAdaptive,
	model.CacheProcessInfo:    model.PolicyTTL,
	model.CacheTunnelConfig:   model.PolicyLRU,
	model.CachePlatformConfig: model.PolicyPersistent,
	model.CacheUserPrefs:      model.PolicyPersistent,
}

// defaultTTLs applies when a put supplies no TTL.
var defaultTTLs = map[model.CacheKind]time.Duration{
	model.CacheDepInfo:     24 * time.Hour,
	model.CacheProcessInfo: 5 * time.Minute,
}

const (
	// adaptiveLFUHits raises an adaptive entry to LFU treatment.
	adaptiveLFUHits = 10
	// adaptiveTTLHits drops an adaptive entry to TTL treatment.
	adaptiveTTLHits = 2
	// adaptiveTTL is the TTL applied to cold adaptive entries.
	adaptiveTTL = time.Hour
)

// PolicyFor resolves the effective policy of an entry. Adaptive entries
// shift between LFU and TTL based on observed access counts.
func PolicyFor(entry *model.CacheEntry) model.CachePolicy {
	policy, ok := kindPolicies[entry.Kind]
	if !ok {
		return model.PolicyLRU
	}
	if policy != model.PolicyAdaptive {
		return policy
	}

	switch {
	case entry.Hits >= adaptiveLFUHits:
		return model.PolicyLFU
	case entry.Hits < adaptiveTTLHits:
		return model.PolicyTTL
	default:
		return model.PolicyLRU
	}
}

// Evictable reports whether entries of the kind may ever be auto-evicted.
func Evictable(kind model.CacheKind) bool {
	return kindPolicies[kind] != model.PolicyPersistent
}

// effectiveTTL returns the entry TTL in seconds after defaulting.
func effectiveTTL(kind model.CacheKind, requested int64, hits int64) int64 {
	if requested > 0 {
		return requested
	}
	if kindPolicies[kind] == model.PolicyAdaptive && hits < adaptiveTTLHits {
		return int64(adaptiveTTL / time.Second)
	}
	if ttl, ok := defaultTTLs[kind]; ok {
		return int64(ttl / time.Second)
	}
	return 0
}
