// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package cache

import (
	"fmt"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/store"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

func testManager(t *testing.T, options Options) *Manager {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	sqlStore := store.MakeTestSQLStore(t, logger)
	t.Cleanup(func() { _ = sqlStore.Close() })

	broker := events.NewBroker(logger)
	m, err := NewManager(sqlStore, broker, t.TempDir(), options, logger)
	require.NoError(t, err)

	return m
}

func TestPutThenGetRoundtrip(t *testing.T) {
	m := testManager(t, Options{})

	value := []byte(`{"name":"demo"}`)
	require.NoError(t, m.Put("profile/abc", value, model.CacheAppMetadata, model.CachePutOptions{}))

	got, err := m.Get("profile/abc", model.CacheAppMetadata)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// Returned value is a copy.
	got[0] = 'X'
	again, err := m.Get("profile/abc", model.CacheAppMetadata)
	require.NoError(t, err)
	assert.Equal(t, value, again)
}

func TestGetMiss(t *testing.T) {
	m := testManager(t, Options{})

	got, err := m.Get("absent", model.CacheAppMetadata)
	require.NoError(t, err)
	assert.Nil(t, got)

	stats, err := m.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestInvalidate(t *testing.T) {
	m := testManager(t, Options{})

	require.NoError(t, m.Put("k", []byte("v"), model.CacheDepInfo, model.CachePutOptions{}))

	existed, err := m.Invalidate("k", model.CacheDepInfo)
	require.NoError(t, err)
	assert.True(t, existed)

	got, err := m.Get("k", model.CacheDepInfo)
	require.NoError(t, err)
	assert.Nil(t, got)

	existed, err = m.Invalidate("k", model.CacheDepInfo)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestTTLExpiry(t *testing.T) {
	m := testManager(t, Options{})

	require.NoError(t, m.Put("short", []byte("v"), model.CacheProcessInfo, model.CachePutOptions{TTLSeconds: -1}))

	// A negative requested TTL falls back to the kind default, so force the
	// entry to look expired through the index.
	entry, err := m.index.GetCacheEntry("short", model.CacheProcessInfo)
	require.NoError(t, err)
	entry.CreatedAt -= (entry.TTLSeconds + 10) * 1000
	require.NoError(t, m.index.UpsertCacheEntry(entry))

	got, err := m.Get("short", model.CacheProcessInfo)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryEvictionHonorsByteCap(t *testing.T) {
	m := testManager(t, Options{MemoryCap: 1024})

	payload := make([]byte, 400)
	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("entry-%d", i)
		require.NoError(t, m.Put(key, payload, model.CacheAppMetadata, model.CachePutOptions{}))

		m.mu.Lock()
		assert.LessOrEqual(t, m.memoryBytes, int64(1024))
		m.mu.Unlock()
	}

	// Every value remains reachable through the disk layer.
	for i := 0; i < 5; i++ {
		got, err := m.Get(fmt.Sprintf("entry-%d", i), model.CacheAppMetadata)
		require.NoError(t, err)
		assert.Len(t, got, 400)
	}
}

func TestEvictionPublishesInvalidation(t *testing.T) {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	sqlStore := store.MakeTestSQLStore(t, logger)
	t.Cleanup(func() { _ = sqlStore.Close() })

	broker := events.NewBroker(logger)
	sub := broker.Subscribe(events.TopicCacheInvalidation, 16, events.DropOldest)
	defer sub.Cancel()

	m, err := NewManager(sqlStore, broker, t.TempDir(), Options{MemoryCap: 512}, logger)
	require.NoError(t, err)

	payload := make([]byte, 400)
	require.NoError(t, m.Put("first", payload, model.CacheAppMetadata, model.CachePutOptions{}))
	require.NoError(t, m.Put("second", payload, model.CacheAppMetadata, model.CachePutOptions{}))

	select {
	case raw := <-sub.Events():
		invalidation, ok := raw.(*model.CacheInvalidation)
		require.True(t, ok)
		assert.Equal(t, "first", invalidation.Key)
	default:
		t.Fatal("expected an invalidation event")
	}
}

func TestLFUEvictionForModelBlobs(t *testing.T) {
	m := testManager(t, Options{MemoryCap: 1024})

	hot := []byte("hot-blob-content")
	cold := []byte("cold-blob-content")
	require.NoError(t, m.Put("hot", hot, model.CacheModelBlob, model.CachePutOptions{}))
	require.NoError(t, m.Put("cold", cold, model.CacheModelBlob, model.CachePutOptions{}))

	// Drive the hit counters apart.
	for i := 0; i < 5; i++ {
		_, err := m.Get("hot", model.CacheModelBlob)
		require.NoError(t, err)
	}

	victim := m.pickVictim(model.CacheModelBlob)
	require.NotNil(t, victim)
	assert.Equal(t, "cold", victim.Key)
}

func TestPersistentKindsNeverAutoEvicted(t *testing.T) {
	m := testManager(t, Options{DiskCap: 1})

	require.NoError(t, m.Put("platform", []byte(`{"kind":"colab"}`), model.CachePlatformConfig, model.CachePutOptions{}))
	require.NoError(t, m.Cleanup())

	got, err := m.Get("platform", model.CachePlatformConfig)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestCleanupEnforcesDiskCap(t *testing.T) {
	m := testManager(t, Options{DiskCap: 600})

	payload := make([]byte, 400)
	require.NoError(t, m.Put("low", payload, model.CacheDepInfo, model.CachePutOptions{Priority: 1}))
	require.NoError(t, m.Put("high", payload, model.CacheDepInfo, model.CachePutOptions{Priority: 5}))

	require.NoError(t, m.Cleanup())

	gotLow, err := m.Get("low", model.CacheDepInfo)
	require.NoError(t, err)
	gotHigh, err := m.Get("high", model.CacheDepInfo)
	require.NoError(t, err)

	assert.Nil(t, gotLow, "the low priority entry should be evicted first")
	assert.NotNil(t, gotHigh)
}

func TestPrefetchWarmsMemoryLayer(t *testing.T) {
	m := testManager(t, Options{})

	require.NoError(t, m.Put("profile/demo", []byte(`{"id":"demo"}`), model.CacheAppMetadata, model.CachePutOptions{}))
	require.NoError(t, m.Put("deps/demo", []byte(`{"pip":["numpy"]}`), model.CacheDepInfo, model.CachePutOptions{}))

	// Force both entries back to disk only.
	m.mu.Lock()
	m.memory.Purge()
	m.memoryBytes = 0
	m.mu.Unlock()
	for _, key := range []struct {
		key  string
		kind model.CacheKind
	}{{"profile/demo", model.CacheAppMetadata}, {"deps/demo", model.CacheDepInfo}} {
		entry, err := m.index.GetCacheEntry(key.key, key.kind)
		require.NoError(t, err)
		entry.Layer = model.CacheLayerDisk
		require.NoError(t, m.index.UpsertCacheEntry(entry))
	}

	require.NoError(t, m.Prefetch("demo"))

	m.mu.Lock()
	_, profileWarm := m.memory.Peek("app_metadata/profile/demo")
	_, depsWarm := m.memory.Peek("dep_info/deps/demo")
	m.mu.Unlock()
	assert.True(t, profileWarm)
	assert.True(t, depsWarm)
}

func TestJSONHelpers(t *testing.T) {
	m := testManager(t, Options{})

	profile := &model.AppProfile{ID: "demo", Hash: "abc123"}
	require.NoError(t, m.PutJSON("profile/abc123", profile, model.CacheAppMetadata, model.CachePutOptions{}))

	var out model.AppProfile
	found, err := m.GetJSON("profile/abc123", model.CacheAppMetadata, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "demo", out.ID)
}
