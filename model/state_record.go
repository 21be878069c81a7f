// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// StateRecordSchemaVersion is the current on-disk schema of state records.
// Readers accept forward-compatible additions but reject unknown versions.
const StateRecordSchemaVersion = 1

// StateFailure captures the terminal failure details of an app.
type StateFailure struct {
	Kind    ErrKind  `json:"kind"`
	Step    int      `json:"step"`
	Message string   `json:"message"`
	LogTail []string `json:"log_tail,omitempty"`
}

// StateRecord is the canonical persisted state of one app. It is written
// atomically (temp + rename) to state/<app_id>.json.
type StateRecord struct {
	Schema      int           `json:"schema"`
	AppID       string        `json:"app_id"`
	Status      string        `json:"status"`
	ProfileHash string        `json:"profile_hash,omitempty"`
	InstalledAt int64         `json:"installed_at,omitempty"`
	LastRunAt   int64         `json:"last_run_at,omitempty"`
	Failure     *StateFailure `json:"failure,omitempty"`
}

// Validate checks the record against its schema.
func (r *StateRecord) Validate() error {
	if r.Schema > StateRecordSchemaVersion || r.Schema < 1 {
		return NewError(ErrCorrupt, "unknown state record schema %d", r.Schema)
	}
	if r.AppID == "" {
		return NewError(ErrCorrupt, "state record missing app id")
	}

	valid := false
	for _, state := range AllAppStates {
		if r.Status == state {
			valid = true
			break
		}
	}
	if !valid {
		return NewError(ErrCorrupt, "state record has unreachable status %q", r.Status)
	}

	return nil
}

// StateRecordFromReader decodes and validates a state record.
func StateRecordFromReader(reader io.Reader) (*StateRecord, error) {
	var record StateRecord
	err := json.NewDecoder(reader).Decode(&record)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode state record")
	}
	if err = record.Validate(); err != nil {
		return nil, err
	}

	return &record, nil
}
