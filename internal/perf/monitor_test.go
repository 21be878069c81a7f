// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package perf

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

type fakeOptimizer struct {
	cacheCleanups int
	trims         int
	platformCalls int
}

func (f *fakeOptimizer) CleanupCache() error { f.cacheCleanups++; return nil }
func (f *fakeOptimizer) TrimIdleProcesses() int {
	f.trims++
	return 2
}
func (f *fakeOptimizer) OptimizePlatform() error { f.platformCalls++; return nil }

func testMonitor(t *testing.T) (*Monitor, *fakeOptimizer) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	optimizer := &fakeOptimizer{}
	monitor := NewMonitor(events.NewBroker(logger), optimizer, t.TempDir(), logger)
	return monitor, optimizer
}

func TestThresholdOpensAndClosesAlert(t *testing.T) {
	monitor, _ := testMonitor(t)

	monitor.evaluate(model.MetricSample{Timestamp: model.GetMillis(), MemPercent: 95})

	alerts := monitor.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "mem_percent", alerts[0].Metric)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
	assert.True(t, alerts[0].IsOpen())
	assert.NotEmpty(t, alerts[0].Recommendations)

	monitor.evaluate(model.MetricSample{Timestamp: model.GetMillis(), MemPercent: 50})

	alerts = monitor.Alerts()
	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].IsOpen())
}

func TestThresholdDoesNotDuplicateOpenAlerts(t *testing.T) {
	monitor, _ := testMonitor(t)

	monitor.evaluate(model.MetricSample{CPUPercent: 90})
	monitor.evaluate(model.MetricSample{CPUPercent: 99})

	alerts := monitor.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, 99.0, alerts[0].Value)
}

func TestOptimizationHooksFire(t *testing.T) {
	monitor, optimizer := testMonitor(t)

	monitor.evaluate(model.MetricSample{MemPercent: 95})
	assert.Equal(t, 1, optimizer.cacheCleanups)

	monitor.evaluate(model.MetricSample{MemPercent: 95, CPUPercent: 90})
	// mem alert already open; only the cpu crossing fires hooks.
	assert.Equal(t, 1, optimizer.trims)
}

func TestRingBufferHistory(t *testing.T) {
	monitor, _ := testMonitor(t)

	now := model.GetMillis()
	monitor.mu.Lock()
	for i := 0; i < 10; i++ {
		monitor.ring[monitor.next] = model.MetricSample{Timestamp: now - int64(i*1000), CPUPercent: float64(i)}
		monitor.next = (monitor.next + 1) % ringSize
	}
	monitor.mu.Unlock()

	current := monitor.Current()
	assert.Equal(t, 9.0, current.CPUPercent)

	samples := monitor.History(time.Hour)
	assert.Len(t, samples, 10)

	none := monitor.History(time.Millisecond)
	assert.True(t, len(none) <= 1)
}

func TestDoSamplesAndPublishes(t *testing.T) {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	broker := events.NewBroker(logger)

	sub := broker.Subscribe(events.TopicMetrics, 4, events.DropOldest)
	defer sub.Cancel()

	monitor := NewMonitor(broker, nil, t.TempDir(), logger)
	require.NoError(t, monitor.Do())

	select {
	case raw := <-sub.Events():
		sample, ok := raw.(*model.MetricSample)
		require.True(t, ok)
		assert.NotZero(t, sample.Timestamp)
	default:
		t.Fatal("expected a published sample")
	}

	assert.NotZero(t, monitor.Current().Timestamp)
}
