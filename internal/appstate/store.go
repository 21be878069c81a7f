// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package appstate persists app state records to the filesystem, one
// atomically-replaced JSON file per app, and enforces legal state machine
// transitions.
package appstate

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

type stateEventProducer interface {
	ProduceAppStateChangeEvent(appID, oldState, newState string, extraDataFields ...events.DataField) error
}

// Store owns the state/ directory. All writes flow through it; transitions
// for a given app are totally ordered by the per-app lock.
type Store struct {
	dir      string
	producer stateEventProducer
	logger   log.FieldLogger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a state store over the given directory.
func NewStore(dir string, producer stateEventProducer, logger log.FieldLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, model.WrapError(model.ErrPermission, err, "failed to create state dir %s", dir)
	}

	return &Store{
		dir:      dir,
		producer: producer,
		logger:   logger.WithField("component", "appstate"),
		locks:    map[string]*sync.Mutex{},
	}, nil
}

func (s *Store) lockFor(appID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[appID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[appID] = lock
	}
	return lock
}

func (s *Store) path(appID string) string {
	return filepath.Join(s.dir, appID+".json")
}

// Get loads the state record for an app. A missing file reports the app as
// absent rather than an error.
func (s *Store) Get(appID string) (*model.StateRecord, error) {
	file, err := os.Open(s.path(appID))
	if os.IsNotExist(err) {
		return &model.StateRecord{
			Schema: model.StateRecordSchemaVersion,
			AppID:  appID,
			Status: model.AppStateAbsent,
		}, nil
	}
	if err != nil {
		return nil, model.WrapError(model.ErrPermission, err, "failed to open state record for %s", appID)
	}
	defer file.Close()

	return model.StateRecordFromReader(file)
}

// List loads every persisted state record.
func (s *Store) List() ([]*model.StateRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, model.WrapError(model.ErrPermission, err, "failed to read state dir")
	}

	var records []*model.StateRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		appID := strings.TrimSuffix(entry.Name(), ".json")
		record, err := s.Get(appID)
		if err != nil {
			s.logger.WithError(err).WithField("app", appID).Warn("Skipping corrupt state record")
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// Transition moves an app to a new state, persisting atomically and
// producing a state change event. The mutate callback may adjust the record
// (hashes, timestamps, failure details) before it is written.
func (s *Store) Transition(appID, newState string, mutate func(*model.StateRecord)) (*model.StateRecord, error) {
	lock := s.lockFor(appID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.Get(appID)
	if err != nil {
		return nil, err
	}

	oldState := record.Status
	if oldState != newState && !model.ValidAppStateTransition(oldState, newState) {
		return nil, model.NewError(model.ErrPrecondition,
			"app %s cannot move from %s to %s", appID, oldState, newState)
	}

	record.Status = newState
	record.Schema = model.StateRecordSchemaVersion
	if newState != model.AppStateFailed {
		record.Failure = nil
	}
	if mutate != nil {
		mutate(record)
	}

	if err = fsutil.WriteJSONAtomic(s.path(appID), record); err != nil {
		return nil, err
	}

	if oldState != newState && s.producer != nil {
		if err = s.producer.ProduceAppStateChangeEvent(appID, oldState, newState); err != nil {
			s.logger.WithError(err).WithField("app", appID).Warn("Failed to produce app state change event")
		}
	}

	return record, nil
}

// Remove deletes the persisted record, returning the app to absent.
func (s *Store) Remove(appID string) error {
	lock := s.lockFor(appID)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.path(appID))
	if err != nil && !os.IsNotExist(err) {
		return model.WrapError(model.ErrPermission, err, "failed to remove state record for %s", appID)
	}
	return nil
}
