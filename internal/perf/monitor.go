// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package perf samples system telemetry, raises threshold alerts, and fires
// advisory optimization hooks.
package perf

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// ringSize bounds the retained sample history.
const ringSize = 1000

// threshold opens an alert when its metric crosses value.
type threshold struct {
	metric          string
	value           float64
	severity        model.AlertSeverity
	recommendations []string
}

// defaultThresholds is the built-in threshold table.
var defaultThresholds = []threshold{
	{"cpu_percent", 85, model.SeverityHigh, []string{"trim idle processes", "lower worker counts"}},
	{"mem_percent", 90, model.SeverityCritical, []string{"run cache cleanup", "stop unused apps"}},
	{"gpu_percent", 95, model.SeverityHigh, []string{"serialize GPU workloads"}},
	{"disk_percent", 90, model.SeverityCritical, []string{"run cache cleanup", "remove unused models"}},
	{"process_count", 200, model.SeverityMedium, []string{"trim idle processes"}},
}

// Optimizer is the advisory hook surface; failures never propagate.
type Optimizer interface {
	CleanupCache() error
	TrimIdleProcesses() int
	OptimizePlatform() error
}

// Monitor samples telemetry on a fixed cadence into a bounded ring buffer.
type Monitor struct {
	logger    log.FieldLogger
	broker    *events.Broker
	optimizer Optimizer
	diskPath  string

	mu      sync.Mutex
	ring    []model.MetricSample
	next    int
	filled  bool
	alerts  map[string]*model.Alert
	history []*model.Alert
}

// NewMonitor creates a performance monitor sampling disk usage at diskPath.
func NewMonitor(broker *events.Broker, optimizer Optimizer, diskPath string, logger log.FieldLogger) *Monitor {
	return &Monitor{
		logger:    logger.WithField("component", "perf"),
		broker:    broker,
		optimizer: optimizer,
		diskPath:  diskPath,
		ring:      make([]model.MetricSample, ringSize),
		alerts:    map[string]*model.Alert{},
	}
}

// Do implements the scheduler doer by taking one sample.
func (m *Monitor) Do() error {
	sample := m.sample()

	m.mu.Lock()
	m.ring[m.next] = sample
	m.next = (m.next + 1) % ringSize
	if m.next == 0 {
		m.filled = true
	}
	m.mu.Unlock()

	m.broker.Publish(events.TopicMetrics, &sample)
	m.evaluate(sample)

	return nil
}

// Shutdown implements the scheduler doer.
func (m *Monitor) Shutdown() {}

func (m *Monitor) sample() model.MetricSample {
	sample := model.MetricSample{Timestamp: model.GetMillis()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemPercent = vm.UsedPercent
	}
	if usage, err := disk.Usage(m.diskPath); err == nil {
		sample.DiskPercent = usage.UsedPercent
	}
	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		sample.NetBytesSent = int64(counters[0].BytesSent)
		sample.NetBytesRecv = int64(counters[0].BytesRecv)
	}
	if pids, err := process.Pids(); err == nil {
		sample.ProcessCount = len(pids)
	}
	sample.GPUPercent = sampleGPU()

	return sample
}

// evaluate crosses the sample against the threshold table, opening and
// closing alerts.
func (m *Monitor) evaluate(sample model.MetricSample) {
	values := map[string]float64{
		"cpu_percent":   sample.CPUPercent,
		"mem_percent":   sample.MemPercent,
		"gpu_percent":   sample.GPUPercent,
		"disk_percent":  sample.DiskPercent,
		"process_count": float64(sample.ProcessCount),
	}

	var fired []threshold
	m.mu.Lock()
	for _, t := range defaultThresholds {
		value := values[t.metric]
		open, exists := m.alerts[t.metric]

		if value > t.value {
			if !exists {
				alert := &model.Alert{
					ID:              model.NewID(),
					Severity:        t.severity,
					Metric:          t.metric,
					Value:           value,
					Threshold:       t.value,
					OpenedAt:        model.GetMillis(),
					Recommendations: t.recommendations,
				}
				m.alerts[t.metric] = alert
				m.history = append(m.history, alert)
				fired = append(fired, t)
			} else {
				open.Value = value
			}
			continue
		}

		if exists {
			open.ClosedAt = model.GetMillis()
			delete(m.alerts, t.metric)
		}
	}

	// Bound the closed-alert history.
	if len(m.history) > 200 {
		m.history = m.history[len(m.history)-200:]
	}
	m.mu.Unlock()

	for _, t := range fired {
		m.logger.WithFields(log.Fields{
			"metric":   t.metric,
			"value":    values[t.metric],
			"severity": t.severity,
		}).Warn("Metric crossed threshold")
		m.optimize(t)
	}
}

// optimize fires the advisory hooks for a crossed threshold. Hook failures
// are logged and dropped.
func (m *Monitor) optimize(t threshold) {
	if m.optimizer == nil {
		return
	}

	switch t.metric {
	case "mem_percent", "disk_percent":
		if err := m.optimizer.CleanupCache(); err != nil {
			m.logger.WithError(err).Debug("Cache cleanup hook failed")
		}
	case "cpu_percent", "process_count":
		trimmed := m.optimizer.TrimIdleProcesses()
		if trimmed > 0 {
			m.logger.Infof("Trimmed %d idle processes", trimmed)
		}
	}
	if err := m.optimizer.OptimizePlatform(); err != nil {
		m.logger.WithError(err).Debug("Platform optimizer hook failed")
	}
}

// Current returns the most recent sample.
func (m *Monitor) Current() model.MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.next - 1
	if idx < 0 {
		if !m.filled {
			return model.MetricSample{}
		}
		idx = ringSize - 1
	}
	return m.ring[idx]
}

// History returns samples within the trailing window.
func (m *Monitor) History(window time.Duration) []model.MetricSample {
	cutoff := model.GetMillisAtTime(time.Now().Add(-window))

	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.filled {
		size = ringSize
	}

	var samples []model.MetricSample
	for i := 0; i < size; i++ {
		idx := i
		if m.filled {
			idx = (m.next + i) % ringSize
		}
		if m.ring[idx].Timestamp >= cutoff {
			samples = append(samples, m.ring[idx])
		}
	}
	return samples
}

// Alerts returns open alerts plus the recent closed history.
func (m *Monitor) Alerts() []*model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]*model.Alert, 0, len(m.history))
	for _, alert := range m.history {
		copied := *alert
		alerts = append(alerts, &copied)
	}
	return alerts
}
