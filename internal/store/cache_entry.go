// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

const cacheEntryTable = "CacheEntry"

var cacheEntrySelect = sq.Select(
	"Key", "Kind", "Layer", "SizeBytes", "CreatedAt", "LastAccessAt", "Hits", "TTLSeconds", "Priority",
).From(cacheEntryTable)

type rawCacheEntry struct {
	Key          string
	Kind         string
	Layer        string
	SizeBytes    int64
	CreatedAt    int64
	LastAccessAt int64
	Hits         int64
	TTLSeconds   int64
	Priority     int
}

func (r *rawCacheEntry) toCacheEntry() *model.CacheEntry {
	return &model.CacheEntry{
		Key:          r.Key,
		Kind:         model.CacheKind(r.Kind),
		Layer:        model.CacheLayer(r.Layer),
		SizeBytes:    r.SizeBytes,
		CreatedAt:    r.CreatedAt,
		LastAccessAt: r.LastAccessAt,
		Hits:         r.Hits,
		TTLSeconds:   r.TTLSeconds,
		Priority:     r.Priority,
	}
}

// GetCacheEntry fetches the metadata for the given key and kind, or nil.
func (sqlStore *SQLStore) GetCacheEntry(key string, kind model.CacheKind) (*model.CacheEntry, error) {
	var raw rawCacheEntry
	err := sqlStore.getBuilder(sqlStore.db, &raw,
		cacheEntrySelect.Where(sq.Eq{"Key": key, "Kind": string(kind)}),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get cache entry")
	}

	return raw.toCacheEntry(), nil
}

// GetCacheEntries fetches all metadata rows, optionally filtered by kind.
func (sqlStore *SQLStore) GetCacheEntries(kind model.CacheKind) ([]*model.CacheEntry, error) {
	builder := cacheEntrySelect
	if kind != "" {
		builder = builder.Where("Kind = ?", string(kind))
	}

	var raws []rawCacheEntry
	err := sqlStore.selectBuilder(sqlStore.db, &raws, builder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query cache entries")
	}

	entries := make([]*model.CacheEntry, 0, len(raws))
	for i := range raws {
		entries = append(entries, raws[i].toCacheEntry())
	}

	return entries, nil
}

// UpsertCacheEntry creates or replaces the metadata row for an entry.
func (sqlStore *SQLStore) UpsertCacheEntry(entry *model.CacheEntry) error {
	err := sqlStore.DeleteCacheEntry(entry.Key, entry.Kind)
	if err != nil {
		return err
	}

	_, err = sqlStore.execBuilder(sqlStore.db, sq.
		Insert(cacheEntryTable).
		SetMap(map[string]interface{}{
			"Key":          entry.Key,
			"Kind":         string(entry.Kind),
			"Layer":        string(entry.Layer),
			"SizeBytes":    entry.SizeBytes,
			"CreatedAt":    entry.CreatedAt,
			"LastAccessAt": entry.LastAccessAt,
			"Hits":         entry.Hits,
			"TTLSeconds":   entry.TTLSeconds,
			"Priority":     entry.Priority,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert cache entry")
	}

	return nil
}

// TouchCacheEntry records a hit on the entry.
func (sqlStore *SQLStore) TouchCacheEntry(key string, kind model.CacheKind, accessAt int64) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update(cacheEntryTable).
		Set("LastAccessAt", accessAt).
		Set("Hits", sq.Expr("Hits + 1")).
		Where(sq.Eq{"Key": key, "Kind": string(kind)}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to touch cache entry")
	}

	return nil
}

// DeleteCacheEntry removes the metadata row for an entry.
func (sqlStore *SQLStore) DeleteCacheEntry(key string, kind model.CacheKind) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete(cacheEntryTable).
		Where(sq.Eq{"Key": key, "Kind": string(kind)}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete cache entry")
	}

	return nil
}

// GetCacheTotals returns the byte totals per layer.
func (sqlStore *SQLStore) GetCacheTotals() (memoryBytes, diskBytes int64, err error) {
	type layerTotal struct {
		Layer string
		Total int64
	}

	var totals []layerTotal
	err = sqlStore.selectBuilder(sqlStore.db, &totals,
		sq.Select("Layer", "COALESCE(SUM(SizeBytes), 0) AS Total").From(cacheEntryTable).GroupBy("Layer"),
	)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to sum cache entries")
	}

	for _, t := range totals {
		switch model.CacheLayer(t.Layer) {
		case model.CacheLayerMemory:
			memoryBytes = t.Total
		case model.CacheLayerDisk:
			diskBytes = t.Total
		}
	}

	return memoryBytes, diskBytes, nil
}
