// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

func testHealthLogger() log.FieldLogger {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	return logger
}

func recordWithChecks(statuses map[string]model.HealthStatus) *model.HealthRecord {
	record := &model.HealthRecord{Checks: map[string]model.CheckResult{}}
	for name, status := range statuses {
		record.Checks[name] = model.CheckResult{Status: status}
	}
	return record
}

func TestAggregateWorstStatusWins(t *testing.T) {
	options := MonitorOptions{FailureThreshold: 3, SuccessThreshold: 3}

	record := recordWithChecks(map[string]model.HealthStatus{
		"process": model.HealthHealthy,
		"http":    model.HealthCritical,
	})
	assert.Equal(t, model.HealthCritical, aggregate(record, options))

	record = recordWithChecks(map[string]model.HealthStatus{
		"process": model.HealthHealthy,
		"tcp":     model.HealthHealthy,
	})
	assert.Equal(t, model.HealthHealthy, aggregate(record, options))
}

func TestAggregateIsMonotone(t *testing.T) {
	options := MonitorOptions{FailureThreshold: 10, SuccessThreshold: 3}

	// Adding a healthy check never worsens the overall status.
	base := recordWithChecks(map[string]model.HealthStatus{"a": model.HealthDegraded})
	before := aggregate(base, options)

	widened := recordWithChecks(map[string]model.HealthStatus{
		"a": model.HealthDegraded,
		"b": model.HealthHealthy,
	})
	after := aggregate(widened, options)
	assert.False(t, after.WorseThan(before))

	// Adding an unhealthy check never improves it.
	worsened := recordWithChecks(map[string]model.HealthStatus{
		"a": model.HealthDegraded,
		"b": model.HealthUnhealthy,
	})
	assert.False(t, before.WorseThan(aggregate(worsened, options)))
}

func TestAggregatePromotesDegradedAfterConsecutiveFailures(t *testing.T) {
	options := MonitorOptions{FailureThreshold: 3, SuccessThreshold: 3}
	record := recordWithChecks(map[string]model.HealthStatus{"resource": model.HealthDegraded})

	assert.Equal(t, model.HealthDegraded, aggregate(record, options))
	assert.Equal(t, model.HealthDegraded, aggregate(record, options))
	// Third consecutive failure promotes to unhealthy.
	assert.Equal(t, model.HealthUnhealthy, aggregate(record, options))
}

func TestAggregateResetsAfterConsecutiveSuccesses(t *testing.T) {
	options := MonitorOptions{FailureThreshold: 3, SuccessThreshold: 2}
	record := recordWithChecks(map[string]model.HealthStatus{"resource": model.HealthDegraded})

	aggregate(record, options)
	aggregate(record, options)
	require.Equal(t, 2, record.ConsecutiveFailures)

	record.Checks["resource"] = model.CheckResult{Status: model.HealthHealthy}
	aggregate(record, options)
	aggregate(record, options)
	assert.Equal(t, 0, record.ConsecutiveFailures)
}

type fakeRestarter struct {
	record   *model.ProcessRecord
	restarts int
}

func (f *fakeRestarter) Restart(id string) (string, error) {
	f.restarts++
	return "new-" + id, nil
}

func (f *fakeRestarter) GetByApp(appID string) *model.ProcessRecord {
	return f.record
}

func TestHTTPFailuresTriggerExactlyOneRestart(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	broker := events.NewBroker(logger)
	sub := broker.Subscribe(events.TopicHealthEvents, 64, events.Backpressure)
	defer sub.Cancel()

	restarter := &fakeRestarter{record: &model.ProcessRecord{ID: "proc-1", AppID: "demo", PID: 1, Status: model.ProcessRunning}}
	monitor := NewMonitor(restarter, broker, MonitorOptions{FailureThreshold: 3, SuccessThreshold: 3}, logger)
	defer monitor.Shutdown()

	spec := model.CheckSpec{
		Name:           "http",
		Kind:           model.CheckHTTP,
		Interval:       time.Hour,
		Timeout:        2 * time.Second,
		URL:            server.URL,
		ExpectedStatus: 200,
	}
	monitor.Register("demo", []model.CheckSpec{spec}, 3, true)

	// Three consecutive 500s escalate to critical and request one restart.
	for i := 0; i < 3; i++ {
		monitor.runOne(context.Background(), "demo", spec)
	}
	assert.Equal(t, 1, restarter.restarts)

	// Three consecutive 200s bring the app back to healthy.
	failing.Store(false)
	for i := 0; i < 3; i++ {
		monitor.runOne(context.Background(), "demo", spec)
	}
	assert.Equal(t, 1, restarter.restarts)

	record := monitor.Get("demo")
	require.NotNil(t, record)
	assert.Equal(t, model.HealthHealthy, record.Overall)
	assert.Equal(t, 1, record.RestartCount)

	// The event stream shows unhealthy, restart, recovered in that order.
	var sequence []model.HealthEventType
	for drained := false; !drained; {
		select {
		case raw := <-sub.Events():
			event, ok := raw.(*model.HealthEvent)
			require.True(t, ok)
			switch event.Type {
			case model.HealthEventAppUnhealthy, model.HealthEventRestartTriggered, model.HealthEventAppRecovered:
				sequence = append(sequence, event.Type)
			}
		default:
			drained = true
		}
	}
	assert.Equal(t, []model.HealthEventType{
		model.HealthEventAppUnhealthy,
		model.HealthEventRestartTriggered,
		model.HealthEventAppRecovered,
	}, sequence)
}

func TestAggregatePromotesUnhealthyToCritical(t *testing.T) {
	options := MonitorOptions{FailureThreshold: 3, SuccessThreshold: 3}
	record := recordWithChecks(map[string]model.HealthStatus{"http": model.HealthUnhealthy})

	assert.Equal(t, model.HealthUnhealthy, aggregate(record, options))
	assert.Equal(t, model.HealthUnhealthy, aggregate(record, options))
	// The third consecutive failure escalates to critical.
	assert.Equal(t, model.HealthCritical, aggregate(record, options))
}

func TestCheckTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	spec := model.CheckSpec{
		Name:    "tcp",
		Kind:    model.CheckTCP,
		Address: listener.Addr().String(),
		Timeout: 2 * time.Second,
	}
	result := runCheck(context.Background(), spec, "demo", &fakeRestarter{}, testHealthLogger())
	assert.Equal(t, model.HealthHealthy, result.Status)
	assert.NotZero(t, result.LastOKAt)

	spec.Address = "127.0.0.1:1"
	result = runCheck(context.Background(), spec, "demo", &fakeRestarter{}, testHealthLogger())
	assert.Equal(t, model.HealthUnhealthy, result.Status)
	assert.NotZero(t, result.LastFailAt)
}

func TestCheckProcessNoLiveProcess(t *testing.T) {
	spec := model.CheckSpec{Name: "process", Kind: model.CheckProcess}
	result := runCheck(context.Background(), spec, "demo", &fakeRestarter{}, testHealthLogger())

	assert.Equal(t, model.HealthCritical, result.Status)
}

func TestDefaultChecks(t *testing.T) {
	profile := &model.AppProfile{UIKind: model.UIGradio}
	checks := DefaultChecks(profile, 7860, "/tmp/app.log")

	var kinds []model.CheckKind
	for _, check := range checks {
		kinds = append(kinds, check.Kind)
	}
	assert.Contains(t, kinds, model.CheckProcess)
	assert.Contains(t, kinds, model.CheckTCP)
	assert.Contains(t, kinds, model.CheckHTTP)
	assert.Contains(t, kinds, model.CheckLog)
}
