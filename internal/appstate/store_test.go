// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package appstate

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

type recordedEvent struct {
	appID    string
	oldState string
	newState string
}

type fakeProducer struct {
	produced []recordedEvent
}

func (f *fakeProducer) ProduceAppStateChangeEvent(appID, oldState, newState string, extraDataFields ...events.DataField) error {
	f.produced = append(f.produced, recordedEvent{appID, oldState, newState})
	return nil
}

func testStore(t *testing.T) (*Store, *fakeProducer, string) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	dir := t.TempDir()
	producer := &fakeProducer{}

	s, err := NewStore(dir, producer, logger)
	require.NoError(t, err)

	return s, producer, dir
}

func TestGetAbsentApp(t *testing.T) {
	s, _, _ := testStore(t)

	record, err := s.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, model.AppStateAbsent, record.Status)
	assert.Equal(t, model.StateRecordSchemaVersion, record.Schema)
}

func TestTransitionPersistsAndProducesEvent(t *testing.T) {
	s, producer, dir := testStore(t)

	record, err := s.Transition("demo", model.AppStateAnalyzing, nil)
	require.NoError(t, err)
	assert.Equal(t, model.AppStateAnalyzing, record.Status)

	// Persisted atomically and readable back.
	reread, err := s.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, model.AppStateAnalyzing, reread.Status)

	require.Len(t, producer.produced, 1)
	assert.Equal(t, recordedEvent{"demo", model.AppStateAbsent, model.AppStateAnalyzing}, producer.produced[0])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	s, _, _ := testStore(t)

	_, err := s.Transition("demo", model.AppStateRunning, nil)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrPrecondition))

	// The failed transition left no file behind.
	record, getErr := s.Get("demo")
	require.NoError(t, getErr)
	assert.Equal(t, model.AppStateAbsent, record.Status)
}

func TestTransitionMutateCallback(t *testing.T) {
	s, _, _ := testStore(t)

	_, err := s.Transition("demo", model.AppStateAnalyzing, nil)
	require.NoError(t, err)
	_, err = s.Transition("demo", model.AppStateInstalling, func(r *model.StateRecord) {
		r.ProfileHash = "abc123"
	})
	require.NoError(t, err)

	record, err := s.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, "abc123", record.ProfileHash)
}

func TestFailureClearedOnRecovery(t *testing.T) {
	s, _, _ := testStore(t)

	_, err := s.Transition("demo", model.AppStateFailed, func(r *model.StateRecord) {
		r.Failure = &model.StateFailure{Kind: model.ErrTimeout, Message: "step timed out", Step: 2}
	})
	require.NoError(t, err)

	record, err := s.Get("demo")
	require.NoError(t, err)
	require.NotNil(t, record.Failure)
	assert.Equal(t, 2, record.Failure.Step)

	_, err = s.Transition("demo", model.AppStateInstalling, nil)
	require.NoError(t, err)

	record, err = s.Get("demo")
	require.NoError(t, err)
	assert.Nil(t, record.Failure)
}

func TestCorruptRecordSurfaces(t *testing.T) {
	s, _, dir := testStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"),
		[]byte(`{"schema": 1, "app_id": "broken", "status": "no-such-state"}`), 0644))

	_, err := s.Get("broken")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrCorrupt))

	// List skips the corrupt record instead of failing.
	records, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStateWriteReadRoundtrip(t *testing.T) {
	s, _, _ := testStore(t)

	written, err := s.Transition("demo", model.AppStateAnalyzing, func(r *model.StateRecord) {
		r.ProfileHash = "hash"
		r.InstalledAt = 12345
	})
	require.NoError(t, err)

	read, err := s.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, written, read)
}
