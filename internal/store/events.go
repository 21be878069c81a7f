// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

const stateChangeEventTable = "StateChangeEvent"

var stateChangeEventSelect = sq.Select(
	"ID", "ResourceID", "ResourceType", "OldState", "NewState", "Timestamp", "ExtraData",
).From(stateChangeEventTable)

type rawStateChangeEvent struct {
	ID           string
	ResourceID   string
	ResourceType string
	OldState     string
	NewState     string
	Timestamp    int64
	ExtraData    []byte
}

func (r *rawStateChangeEvent) toEvent() (*model.StateChangeEvent, error) {
	event := &model.StateChangeEvent{
		ID:           r.ID,
		ResourceID:   r.ResourceID,
		ResourceType: model.ResourceType(r.ResourceType),
		OldState:     r.OldState,
		NewState:     r.NewState,
		Timestamp:    r.Timestamp,
	}
	if len(r.ExtraData) > 0 {
		if err := json.Unmarshal(r.ExtraData, &event.ExtraData); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal event extra data")
		}
	}

	return event, nil
}

// CreateStateChangeEvent records a new state change event.
func (sqlStore *SQLStore) CreateStateChangeEvent(event *model.StateChangeEvent) error {
	event.ID = model.NewID()

	extraData, err := json.Marshal(event.ExtraData)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event extra data")
	}

	_, err = sqlStore.execBuilder(sqlStore.db, sq.
		Insert(stateChangeEventTable).
		SetMap(map[string]interface{}{
			"ID":           event.ID,
			"ResourceID":   event.ResourceID,
			"ResourceType": string(event.ResourceType),
			"OldState":     event.OldState,
			"NewState":     event.NewState,
			"Timestamp":    event.Timestamp,
			"ExtraData":    extraData,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create state change event")
	}

	return nil
}

// GetStateChangeEvents fetches events matching the filter, newest first.
func (sqlStore *SQLStore) GetStateChangeEvents(filter *model.StateChangeEventFilter) ([]*model.StateChangeEvent, error) {
	builder := stateChangeEventSelect.OrderBy("Timestamp DESC")
	if filter != nil {
		if filter.ResourceID != "" {
			builder = builder.Where("ResourceID = ?", filter.ResourceID)
		}
		if filter.ResourceType != "" {
			builder = builder.Where("ResourceType = ?", string(filter.ResourceType))
		}
		if filter.Since > 0 {
			builder = builder.Where("Timestamp >= ?", filter.Since)
		}
		if filter.Limit > 0 {
			builder = builder.Limit(uint64(filter.Limit))
		}
	}

	var raws []rawStateChangeEvent
	err := sqlStore.selectBuilder(sqlStore.db, &raws, builder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query state change events")
	}

	events := make([]*model.StateChangeEvent, 0, len(raws))
	for i := range raws {
		event, err := raws[i].toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, nil
}
