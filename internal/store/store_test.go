// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func testStore(t *testing.T) *SQLStore {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	sqlStore := MakeTestSQLStore(t, logger)
	t.Cleanup(func() { _ = sqlStore.Close() })
	return sqlStore
}

func TestMigrateIsIdempotent(t *testing.T) {
	sqlStore := testStore(t)
	require.NoError(t, sqlStore.Migrate())
}

func TestCacheEntryCRUD(t *testing.T) {
	sqlStore := testStore(t)

	entry := &model.CacheEntry{
		Key:          "profile/abc",
		Kind:         model.CacheAppMetadata,
		Layer:        model.CacheLayerMemory,
		SizeBytes:    128,
		CreatedAt:    model.GetMillis(),
		LastAccessAt: model.GetMillis(),
		Priority:     3,
	}
	require.NoError(t, sqlStore.UpsertCacheEntry(entry))

	fetched, err := sqlStore.GetCacheEntry("profile/abc", model.CacheAppMetadata)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, entry.SizeBytes, fetched.SizeBytes)
	assert.Equal(t, model.CacheLayerMemory, fetched.Layer)

	require.NoError(t, sqlStore.TouchCacheEntry("profile/abc", model.CacheAppMetadata, model.GetMillis()+10))
	touched, err := sqlStore.GetCacheEntry("profile/abc", model.CacheAppMetadata)
	require.NoError(t, err)
	assert.Equal(t, int64(1), touched.Hits)
	assert.Greater(t, touched.LastAccessAt, entry.LastAccessAt)

	memoryBytes, diskBytes, err := sqlStore.GetCacheTotals()
	require.NoError(t, err)
	assert.Equal(t, int64(128), memoryBytes)
	assert.Equal(t, int64(0), diskBytes)

	require.NoError(t, sqlStore.DeleteCacheEntry("profile/abc", model.CacheAppMetadata))
	gone, err := sqlStore.GetCacheEntry("profile/abc", model.CacheAppMetadata)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestStateChangeEvents(t *testing.T) {
	sqlStore := testStore(t)

	event := &model.StateChangeEvent{
		ResourceID:   "demo",
		ResourceType: model.TypeApp,
		OldState:     model.AppStateAbsent,
		NewState:     model.AppStateAnalyzing,
		Timestamp:    model.GetMillis(),
		ExtraData:    map[string]string{"Name": "Demo"},
	}
	require.NoError(t, sqlStore.CreateStateChangeEvent(event))
	assert.NotEmpty(t, event.ID)

	events, err := sqlStore.GetStateChangeEvents(&model.StateChangeEventFilter{ResourceID: "demo"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.AppStateAnalyzing, events[0].NewState)
	assert.Equal(t, "Demo", events[0].ExtraData["Name"])

	none, err := sqlStore.GetStateChangeEvents(&model.StateChangeEventFilter{ResourceID: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWebhookLifecycle(t *testing.T) {
	sqlStore := testStore(t)

	webhook := &model.Webhook{OwnerID: "ui", URL: "https://example.com/hook"}
	require.NoError(t, sqlStore.CreateWebhook(webhook))
	require.NotEmpty(t, webhook.ID)

	fetched, err := sqlStore.GetWebhook(webhook.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, webhook.URL, fetched.URL)

	webhooks, err := sqlStore.GetWebhooks(&model.WebhookFilter{})
	require.NoError(t, err)
	assert.Len(t, webhooks, 1)

	require.NoError(t, sqlStore.DeleteWebhook(webhook.ID))
	webhooks, err = sqlStore.GetWebhooks(&model.WebhookFilter{})
	require.NoError(t, err)
	assert.Empty(t, webhooks)

	deleted, err := sqlStore.GetWebhook(webhook.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted())
}

func TestRecoveryResultsAndStats(t *testing.T) {
	sqlStore := testStore(t)
	now := model.GetMillis()

	ok := &model.RecoveryResult{
		PatternID: "oom",
		AppID:     "demo",
		Action:    model.ActionClearCache,
		Succeeded: true,
		StartedAt: now,
		ElapsedMS: 12,
	}
	require.NoError(t, sqlStore.CreateRecoveryResult(ok, model.CategoryResource, model.SeverityCritical))

	failed := &model.RecoveryResult{
		PatternID: "oom",
		AppID:     "demo",
		Action:    model.ActionRestartApplication,
		Succeeded: false,
		StartedAt: now,
		ElapsedMS: 30,
	}
	require.NoError(t, sqlStore.CreateRecoveryResult(failed, model.CategoryResource, model.SeverityCritical))

	results, err := sqlStore.GetRecoveryResults(now - 1000)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	stats, err := sqlStore.GetRecoveryStats(now - 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Succeeded)
	assert.InDelta(t, 0.5, stats.SuccessRate, 0.01)
	assert.Equal(t, int64(2), stats.ByCategory[model.CategoryResource])

	pruned, err := sqlStore.PruneRecoveryResults(now + int64(time.Second/time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}
