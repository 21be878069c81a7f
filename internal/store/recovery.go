// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

const recoveryResultTable = "RecoveryResult"

var recoveryResultSelect = sq.Select(
	"ID", "PatternID", "AppID", "Action", "Succeeded", "Message", "StartedAt", "ElapsedMS",
).From(recoveryResultTable)

type rawRecoveryResult struct {
	ID        string
	PatternID string
	AppID     string
	Action    string
	Succeeded bool
	Message   string
	StartedAt int64
	ElapsedMS int64
}

// CreateRecoveryResult records one recovery attempt along with its pattern
// classification for the stats queries.
func (sqlStore *SQLStore) CreateRecoveryResult(result *model.RecoveryResult, category model.ErrorCategory, severity model.AlertSeverity) error {
	result.ID = model.NewID()

	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Insert(recoveryResultTable).
		SetMap(map[string]interface{}{
			"ID":        result.ID,
			"PatternID": result.PatternID,
			"AppID":     result.AppID,
			"Action":    string(result.Action),
			"Category":  string(category),
			"Severity":  string(severity),
			"Succeeded": result.Succeeded,
			"Message":   result.Message,
			"StartedAt": result.StartedAt,
			"ElapsedMS": result.ElapsedMS,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create recovery result")
	}

	return nil
}

// GetRecoveryResults fetches recovery results newer than the given time,
// newest first.
func (sqlStore *SQLStore) GetRecoveryResults(since int64) ([]*model.RecoveryResult, error) {
	var raws []rawRecoveryResult
	err := sqlStore.selectBuilder(sqlStore.db, &raws,
		recoveryResultSelect.Where("StartedAt >= ?", since).OrderBy("StartedAt DESC"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query recovery results")
	}

	results := make([]*model.RecoveryResult, 0, len(raws))
	for _, raw := range raws {
		results = append(results, &model.RecoveryResult{
			ID:        raw.ID,
			PatternID: raw.PatternID,
			AppID:     raw.AppID,
			Action:    model.RecoveryActionKind(raw.Action),
			Succeeded: raw.Succeeded,
			Message:   raw.Message,
			StartedAt: raw.StartedAt,
			ElapsedMS: raw.ElapsedMS,
		})
	}

	return results, nil
}

// GetRecoveryStats summarizes recovery activity since the given time.
func (sqlStore *SQLStore) GetRecoveryStats(since int64) (*model.RecoveryStats, error) {
	stats := &model.RecoveryStats{
		ByCategory: map[model.ErrorCategory]int64{},
		BySeverity: map[model.AlertSeverity]int64{},
	}

	type countRow struct {
		Label string
		Count int64
	}

	var totals []countRow
	err := sqlStore.selectBuilder(sqlStore.db, &totals,
		sq.Select("CAST(Succeeded AS TEXT) AS Label", "COUNT(*) AS Count").
			From(recoveryResultTable).
			Where("StartedAt >= ?", since).
			GroupBy("Succeeded"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count recovery results")
	}
	for _, row := range totals {
		stats.Total += row.Count
		if row.Label == "1" || row.Label == "true" {
			stats.Succeeded += row.Count
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Total)
	}

	var byCategory []countRow
	err = sqlStore.selectBuilder(sqlStore.db, &byCategory,
		sq.Select("Category AS Label", "COUNT(*) AS Count").
			From(recoveryResultTable).
			Where("StartedAt >= ?", since).
			GroupBy("Category"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count recovery results by category")
	}
	for _, row := range byCategory {
		stats.ByCategory[model.ErrorCategory(row.Label)] = row.Count
	}

	var bySeverity []countRow
	err = sqlStore.selectBuilder(sqlStore.db, &bySeverity,
		sq.Select("Severity AS Label", "COUNT(*) AS Count").
			From(recoveryResultTable).
			Where("StartedAt >= ?", since).
			GroupBy("Severity"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count recovery results by severity")
	}
	for _, row := range bySeverity {
		stats.BySeverity[model.AlertSeverity(row.Label)] = row.Count
	}

	return stats, nil
}

// PruneRecoveryResults removes results older than the given time and returns
// how many were removed.
func (sqlStore *SQLStore) PruneRecoveryResults(olderThan int64) (int64, error) {
	result, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete(recoveryResultTable).
		Where("StartedAt < ?", olderThan),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune recovery results")
	}

	pruned, _ := result.RowsAffected()
	return pruned, nil
}
