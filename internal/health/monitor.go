// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package health

import (
	"context"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 3
	defaultCheckInterval    = 10 * time.Second
)

// restarter is the only write access the monitor has to processes; it never
// restarts anything directly.
type restarter interface {
	Restart(id string) (string, error)
	GetByApp(appID string) *model.ProcessRecord
}

// MonitorOptions tunes aggregation thresholds.
type MonitorOptions struct {
	FailureThreshold int
	SuccessThreshold int
}

// monitoredApp is the monitor's private state for one app.
type monitoredApp struct {
	appID   string
	specs   []model.CheckSpec
	record  *model.HealthRecord
	cancel  context.CancelFunc
	tickers []*time.Ticker
}

// Monitor runs health checks on independent schedules and aggregates
// per-app status.
type Monitor struct {
	logger  log.FieldLogger
	procs   restarter
	broker  *events.Broker
	options MonitorOptions

	mu   sync.Mutex
	apps map[string]*monitoredApp
}

// NewMonitor creates a health monitor.
func NewMonitor(procs restarter, broker *events.Broker, options MonitorOptions, logger log.FieldLogger) *Monitor {
	if options.FailureThreshold <= 0 {
		options.FailureThreshold = defaultFailureThreshold
	}
	if options.SuccessThreshold <= 0 {
		options.SuccessThreshold = defaultSuccessThreshold
	}

	return &Monitor{
		logger:  logger.WithField("component", "health"),
		procs:   procs,
		broker:  broker,
		options: options,
		apps:    map[string]*monitoredApp{},
	}
}

// Register begins monitoring an app with the given checks. Re-registering
// replaces the check set and resets counters.
func (m *Monitor) Register(appID string, specs []model.CheckSpec, restartCap int, autoRestart bool) {
	m.Unregister(appID)

	ctx, cancel := context.WithCancel(context.Background())
	app := &monitoredApp{
		appID:  appID,
		specs:  specs,
		cancel: cancel,
		record: &model.HealthRecord{
			AppID:       appID,
			Overall:     model.HealthUnknown,
			Checks:      map[string]model.CheckResult{},
			RestartCap:  restartCap,
			AutoRestart: autoRestart,
		},
	}

	m.mu.Lock()
	m.apps[appID] = app
	m.mu.Unlock()

	// Each check runs on its own schedule.
	for _, spec := range specs {
		interval := spec.Interval
		if interval <= 0 {
			interval = defaultCheckInterval
		}
		ticker := time.NewTicker(interval)
		app.tickers = append(app.tickers, ticker)

		go func(spec model.CheckSpec, ticker *time.Ticker) {
			for {
				select {
				case <-ticker.C:
					m.runOne(ctx, appID, spec)
				case <-ctx.Done():
					return
				}
			}
		}(spec, ticker)
	}

	m.logger.WithField("app", appID).Infof("Monitoring %d health checks", len(specs))
}

// Unregister stops monitoring an app.
func (m *Monitor) Unregister(appID string) {
	m.mu.Lock()
	app, ok := m.apps[appID]
	if ok {
		delete(m.apps, appID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	app.cancel()
	for _, ticker := range app.tickers {
		ticker.Stop()
	}
}

// Get returns a snapshot of the app's health record, or nil.
func (m *Monitor) Get(appID string) *model.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[appID]
	if !ok {
		return nil
	}
	return app.record.Clone()
}

// runOne executes a single check and folds its result into the record.
func (m *Monitor) runOne(ctx context.Context, appID string, spec model.CheckSpec) {
	result := runCheck(ctx, spec, appID, m.procs, m.logger.WithField("app", appID))

	m.mu.Lock()
	app, ok := m.apps[appID]
	if !ok {
		m.mu.Unlock()
		return
	}

	previous := app.record.Checks[spec.Name]
	if result.LastOKAt == 0 {
		result.LastOKAt = previous.LastOKAt
	}
	if result.LastFailAt == 0 {
		result.LastFailAt = previous.LastFailAt
	}
	app.record.Checks[spec.Name] = result

	oldOverall := app.record.Overall
	newOverall := aggregate(app.record, m.options)
	app.record.Overall = newOverall

	shouldRestart := newOverall == model.HealthCritical &&
		app.record.AutoRestart &&
		app.record.RestartCount < app.record.RestartCap
	if shouldRestart {
		app.record.RestartCount++
		app.record.Overall = model.HealthRecovering
		newOverall = model.HealthRecovering
	}
	record := app.record.Clone()
	m.mu.Unlock()

	if oldOverall != newOverall {
		m.publish(model.HealthEventChanged, appID, oldOverall, newOverall)
		if newOverall == model.HealthUnhealthy || newOverall == model.HealthCritical {
			m.publish(model.HealthEventAppUnhealthy, appID, oldOverall, newOverall)
		}
		if newOverall == model.HealthHealthy && oldOverall != model.HealthUnknown {
			m.publish(model.HealthEventAppRecovered, appID, oldOverall, newOverall)
		}
	}

	if shouldRestart {
		m.requestRestart(appID, record)
	}
}

// aggregate computes the overall status: the worst check status, with
// sustained failure streaks promoting one severity level — degraded becomes
// unhealthy, unhealthy becomes critical — once failure_threshold consecutive
// failures accumulate, and reset after enough consecutive successes.
func aggregate(record *model.HealthRecord, options MonitorOptions) model.HealthStatus {
	worst := model.HealthHealthy
	anyFailed := false
	for _, result := range record.Checks {
		if result.Status.WorseThan(worst) {
			worst = result.Status
		}
		if result.Status != model.HealthHealthy && result.Status != model.HealthUnknown {
			anyFailed = true
		}
	}

	if anyFailed {
		record.ConsecutiveFailures++
		record.ConsecutiveSuccesses = 0
	} else {
		record.ConsecutiveSuccesses++
		if record.ConsecutiveSuccesses >= options.SuccessThreshold {
			record.ConsecutiveFailures = 0
		}
	}

	if record.ConsecutiveFailures >= options.FailureThreshold {
		switch worst {
		case model.HealthDegraded:
			worst = model.HealthUnhealthy
		case model.HealthUnhealthy:
			worst = model.HealthCritical
		}
	}

	return worst
}

// requestRestart asks the supervisor for a restart; the monitor itself never
// touches processes.
func (m *Monitor) requestRestart(appID string, record *model.HealthRecord) {
	process := m.procs.GetByApp(appID)
	if process == nil {
		m.logger.WithField("app", appID).Warn("Critical app has no live process to restart")
		return
	}

	m.publish(model.HealthEventRestartTriggered, appID, model.HealthCritical, model.HealthRecovering)
	m.logger.WithFields(log.Fields{
		"app":     appID,
		"restart": record.RestartCount,
		"cap":     record.RestartCap,
	}).Warn("Requesting restart of critical app")

	if _, err := m.procs.Restart(process.ID); err != nil {
		m.logger.WithError(err).WithField("app", appID).Error("Supervisor failed to restart app")
	}
}

func (m *Monitor) publish(eventType model.HealthEventType, appID string, oldStatus, newStatus model.HealthStatus) {
	m.broker.Publish(events.TopicHealthEvents, &model.HealthEvent{
		Type:      eventType,
		AppID:     appID,
		Old:       oldStatus,
		New:       newStatus,
		Timestamp: model.GetMillis(),
	})
}

// Shutdown stops all monitoring.
func (m *Monitor) Shutdown() {
	m.mu.Lock()
	apps := make([]string, 0, len(m.apps))
	for appID := range m.apps {
		apps = append(apps, appID)
	}
	m.mu.Unlock()

	for _, appID := range apps {
		m.Unregister(appID)
	}
}

// DefaultChecks builds the standard check set for an app profile.
func DefaultChecks(profile *model.AppProfile, port int, logPath string) []model.CheckSpec {
	checks := []model.CheckSpec{
		{Name: "process", Kind: model.CheckProcess, Interval: 5 * time.Second},
	}
	if port > 0 {
		checks = append(checks, model.CheckSpec{
			Name:     "tcp",
			Kind:     model.CheckTCP,
			Interval: 10 * time.Second,
			Address:  "127.0.0.1:" + strconv.Itoa(port),
		})
	}
	if profile != nil && profile.UIKind != model.UINone && port > 0 {
		checks = append(checks, model.CheckSpec{
			Name:           "http",
			Kind:           model.CheckHTTP,
			Interval:       15 * time.Second,
			URL:            "http://127.0.0.1:" + strconv.Itoa(port) + "/",
			ExpectedStatus: 200,
		})
	}
	if logPath != "" {
		checks = append(checks, model.CheckSpec{
			Name:        "log",
			Kind:        model.CheckLog,
			Interval:    30 * time.Second,
			LogPath:     logPath,
			Pattern:     "(?i)(traceback|fatal|out of memory)",
			WindowLines: 200,
			MaxMatches:  1,
		})
	}

	return checks
}
