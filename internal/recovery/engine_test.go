// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/store"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

type fakeActions struct {
	mu        sync.Mutex
	restarts  int
	cleanups  int
	reinstall int
	failNext  bool
}

func (f *fakeActions) RestartApp(appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return model.NewError(model.ErrExternalFailure, "restart failed")
	}
	f.restarts++
	return nil
}

func (f *fakeActions) ReinstallDependencies(ctx context.Context, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reinstall++
	return nil
}

func (f *fakeActions) ResetEnvironment(appID string) error { return nil }

func (f *fakeActions) ClearCache() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return nil
}

func (f *fakeActions) RestartTunnels()                   {}
func (f *fakeActions) FixPermissions(appID string) error { return nil }
func (f *fakeActions) IncreaseMemory() error             { return nil }

func (f *fakeActions) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts, f.cleanups, f.reinstall
}

func testEngine(t *testing.T) (*Engine, *fakeActions) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	sqlStore := store.MakeTestSQLStore(t, logger)
	t.Cleanup(func() { _ = sqlStore.Close() })

	broker := events.NewBroker(logger)
	actions := &fakeActions{}
	engine := NewEngine(broker, sqlStore, actions, logger)

	return engine, actions
}

func waitForCount(t *testing.T, get func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if get() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, want, get())
}

func TestBuiltInPatternsRegistered(t *testing.T) {
	engine, _ := testEngine(t)
	patterns := engine.Patterns()
	assert.GreaterOrEqual(t, len(patterns), 5)
}

func TestPatternMatchTriggersAction(t *testing.T) {
	engine, actions := testEngine(t)

	engine.handleLine("demo", "ModuleNotFoundError: No module named 'torch'")

	waitForCount(t, func() int { _, _, reinstall := actions.counts(); return reinstall }, 1)

	history, err := engine.History()
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, model.ActionReinstallDependencies, history[0].Action)
	assert.True(t, history[0].Succeeded)
}

func TestCooldownPreventsRestartStorm(t *testing.T) {
	engine, actions := testEngine(t)

	engine.handleLine("demo", "bind: address already in use")
	engine.handleLine("demo", "bind: address already in use")
	engine.handleLine("demo", "bind: address already in use")

	waitForCount(t, func() int { restarts, _, _ := actions.counts(); return restarts }, 1)

	// Give stray goroutines a moment; the count must not grow.
	time.Sleep(200 * time.Millisecond)
	restarts, _, _ := actions.counts()
	assert.Equal(t, 1, restarts)
}

func TestActionsTriedInOrderUntilSuccess(t *testing.T) {
	engine, actions := testEngine(t)

	require.NoError(t, engine.AddPattern(model.ErrorPattern{
		ID:       "ordered",
		Name:     "ordered actions",
		Category: model.CategoryProcess,
		Severity: model.SeverityHigh,
		Keywords: []string{"ordered-trigger"},
		Actions: []model.RecoveryActionKind{
			model.ActionRestartApplication,
			model.ActionClearCache,
		},
		MaxAttempts: 3,
		Cooldown:    time.Minute,
	}))

	actions.mu.Lock()
	actions.failNext = true
	actions.mu.Unlock()

	engine.handleLine("demo", "hit ordered-trigger now")

	// The failed restart falls through to the cache cleanup.
	waitForCount(t, func() int { _, cleanups, _ := actions.counts(); return cleanups }, 1)

	history, err := engine.History()
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestRemovePattern(t *testing.T) {
	engine, _ := testEngine(t)

	require.NoError(t, engine.AddPattern(model.ErrorPattern{
		ID:       "temp",
		Keywords: []string{"x"},
		Actions:  []model.RecoveryActionKind{model.ActionClearCache},
	}))
	require.NoError(t, engine.RemovePattern("temp"))

	err := engine.RemovePattern("temp")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrNotFound))
}

func TestBadRegexRejected(t *testing.T) {
	engine, _ := testEngine(t)

	err := engine.AddPattern(model.ErrorPattern{
		ID:      "bad",
		Regexes: []string{"("},
		Actions: []model.RecoveryActionKind{model.ActionClearCache},
	})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrInvalidInput))
}

func TestStats(t *testing.T) {
	engine, actions := testEngine(t)

	engine.handleLine("demo", "CUDA out of memory")
	waitForCount(t, func() int { _, cleanups, _ := actions.counts(); return cleanups }, 1)

	stats, err := engine.Stats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Total, int64(1))
	assert.Equal(t, stats.Total, stats.Succeeded)
}
