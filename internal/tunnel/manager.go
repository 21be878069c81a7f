// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package tunnel

import (
	"context"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

const (
	// probeBaseInterval is the initial health probe cadence of a tunnel.
	probeBaseInterval = 60 * time.Second
	// probeMinInterval is the fastest cadence after recent failures.
	probeMinInterval = 5 * time.Second
	// probeMaxInterval is the slowest cadence for long-stable tunnels.
	probeMaxInterval = 5 * time.Minute
	// rttAlpha weights the RTT exponential moving average.
	rttAlpha = 0.2
)

type tunnelEventProducer interface {
	ProduceTunnelStateChangeEvent(tunnelID, oldState, newState string, extraDataFields ...events.DataField) error
}

// managed pairs a book record with its live provider handle and probe state.
type managed struct {
	mu            sync.Mutex
	record        *model.Tunnel
	handle        Handle
	probeInterval time.Duration
}

// Manager opens and closes tunnels across pluggable providers and persists
// the URL book. Per-tunnel operations serialize; cross-tunnel operations run
// in parallel.
type Manager struct {
	logger    log.FieldLogger
	providers map[model.TunnelProvider]Provider
	bookPath  string
	producer  tunnelEventProducer

	mu      sync.Mutex
	tunnels map[string]*managed

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a tunnel manager, loading any persisted URL book.
// Tunnels recorded as active by a previous process are marked closed; their
// children did not survive.
func NewManager(bookPath string, producer tunnelEventProducer, logger log.FieldLogger, providers ...Provider) *Manager {
	m := &Manager{
		logger:    logger.WithField("component", "tunnel"),
		providers: map[model.TunnelProvider]Provider{},
		bookPath:  bookPath,
		producer:  producer,
		tunnels:   map[string]*managed{},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, provider := range providers {
		m.providers[provider.Kind()] = provider
	}

	m.loadBook()
	go m.probeLoop()

	return m
}

func (m *Manager) loadBook() {
	var book model.URLBook
	if err := fsutil.ReadJSONInto(m.bookPath, &book); err != nil {
		if !model.IsKind(err, model.ErrNotFound) {
			m.logger.WithError(err).Warn("Failed to read url book; starting empty")
		}
		return
	}

	for _, record := range book.Tunnels {
		if record.Status == model.TunnelActive || record.Status == model.TunnelPending || record.Status == model.TunnelDegraded {
			record.Status = model.TunnelClosed
		}
		m.tunnels[record.ID] = &managed{record: record, probeInterval: probeBaseInterval}
	}
	m.logger.Infof("Loaded %d tunnels from url book", len(book.Tunnels))
}

// saveBook persists the URL book atomically. Callers must not hold any
// per-tunnel lock.
func (m *Manager) saveBook() {
	m.mu.Lock()
	book := model.URLBook{Schema: 1}
	for _, t := range m.tunnels {
		t.mu.Lock()
		book.Tunnels = append(book.Tunnels, t.record.Clone())
		t.mu.Unlock()
	}
	m.mu.Unlock()

	if err := fsutil.WriteJSONAtomic(m.bookPath, &book); err != nil {
		m.logger.WithError(err).Warn("Failed to persist url book")
	}
}

// Open opens a tunnel to the local port via the named provider.
func (m *Manager) Open(ctx context.Context, provider model.TunnelProvider, localPort int, opts model.TunnelOptions) (*model.Tunnel, error) {
	impl, ok := m.providers[provider]
	if !ok {
		return nil, model.NewError(model.ErrUnsupported, "tunnel provider %s not configured", provider)
	}

	record := &model.Tunnel{
		ID:           model.NewID(),
		Provider:     provider,
		AppID:        opts.AppID,
		LocalPort:    localPort,
		CreatedAt:    model.GetMillis(),
		Status:       model.TunnelPending,
		AuthRequired: opts.AuthRequired,
	}

	t := &managed{record: record, probeInterval: probeBaseInterval}
	m.mu.Lock()
	m.tunnels[record.ID] = t
	m.mu.Unlock()
	m.saveBook()

	url, handle, err := impl.Open(ctx, localPort, opts)

	t.mu.Lock()
	if err != nil {
		t.record.Status = model.TunnelFailed
	} else {
		t.record.URL = url
		t.record.Status = model.TunnelActive
		t.handle = handle
	}
	snapshot := t.record.Clone()
	t.mu.Unlock()
	m.saveBook()

	if err != nil {
		m.produceEvent(record.ID, string(model.TunnelPending), string(model.TunnelFailed))
		return nil, err
	}

	m.produceEvent(record.ID, string(model.TunnelPending), string(model.TunnelActive))
	m.logger.WithFields(log.Fields{
		"tunnel":   record.ID,
		"provider": provider,
		"port":     localPort,
	}).Info("Opened tunnel")

	return snapshot, nil
}

// Close closes a tunnel. Closing is idempotent and reclaims provider
// resources even if the provider process already exited.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	t, ok := m.tunnels[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	oldStatus := t.record.Status
	handle := t.handle
	t.handle = nil
	t.record.Status = model.TunnelClosed
	t.mu.Unlock()

	if handle != nil {
		if err := handle.Close(); err != nil {
			m.logger.WithError(err).WithField("tunnel", id).Warn("Provider close reported an error")
		}
	}

	m.saveBook()
	if oldStatus != model.TunnelClosed {
		m.produceEvent(id, string(oldStatus), string(model.TunnelClosed))
		m.logger.WithField("tunnel", id).Info("Closed tunnel")
	}

	return nil
}

// Remove closes the tunnel and drops it from the book; List never shows a
// removed id again.
func (m *Manager) Remove(id string) error {
	if err := m.Close(id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tunnels, id)
	m.mu.Unlock()
	m.saveBook()

	return nil
}

// List returns snapshots of every tunnel that is not closed, failed ones
// included. Closed tunnels stay in the
// book for their analytics but are never listed again.
func (m *Manager) List() []*model.Tunnel {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]*model.Tunnel, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		t.mu.Lock()
		if t.record.Status != model.TunnelClosed {
			records = append(records, t.record.Clone())
		}
		t.mu.Unlock()
	}
	return records
}

// Status returns a snapshot of one tunnel.
func (m *Manager) Status(id string) (*model.Tunnel, error) {
	m.mu.Lock()
	t, ok := m.tunnels[id]
	m.mu.Unlock()
	if !ok {
		return nil, model.NewError(model.ErrNotFound, "tunnel %s not found", id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.Clone(), nil
}

// CloseAll closes every open tunnel; used at shutdown and by the recovery
// engine's restart_tunnels action.
func (m *Manager) CloseAll() {
	for _, record := range m.List() {
		if record.Status == model.TunnelActive || record.Status == model.TunnelDegraded || record.Status == model.TunnelPending {
			_ = m.Close(record.ID)
		}
	}
}

// Shutdown closes all tunnels and stops the probe loop.
func (m *Manager) Shutdown() {
	m.CloseAll()
	close(m.stop)
	<-m.done
}

// probeLoop drives adaptive health probing: faster while a tunnel has
// recent failures, slower when stable.
func (m *Manager) probeLoop() {
	defer close(m.done)

	ticker := time.NewTicker(probeMinInterval)
	defer ticker.Stop()

	elapsed := map[string]time.Duration{}
	for {
		select {
		case <-ticker.C:
			for _, t := range m.snapshotManaged() {
				t.mu.Lock()
				id := t.record.ID
				status := t.record.Status
				interval := t.probeInterval
				t.mu.Unlock()

				if status != model.TunnelActive && status != model.TunnelDegraded {
					continue
				}
				elapsed[id] += probeMinInterval
				if elapsed[id] < interval {
					continue
				}
				elapsed[id] = 0
				m.probe(t)
			}
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) snapshotManaged() []*managed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*managed, 0, len(m.tunnels))
	for _, t := range m.tunnels {
		out = append(out, t)
	}
	return out
}

// probe issues one health request and updates analytics and adaptive
// cadence.
func (m *Manager) probe(t *managed) {
	t.mu.Lock()
	url := t.record.URL
	oldStatus := t.record.Status
	t.mu.Unlock()
	if url == "" {
		return
	}

	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()
	resp, err := client.Get(url)
	rtt := time.Since(start)
	healthy := err == nil && resp.StatusCode < 500
	if resp != nil {
		_ = resp.Body.Close()
	}

	t.mu.Lock()
	t.record.LastHealthAt = model.GetMillis()
	if healthy {
		t.record.Metrics.Requests++
		ema := t.record.Metrics.RTTEMAMs
		if ema == 0 {
			ema = float64(rtt.Milliseconds())
		} else {
			ema = rttAlpha*float64(rtt.Milliseconds()) + (1-rttAlpha)*ema
		}
		t.record.Metrics.RTTEMAMs = ema
		t.record.Status = model.TunnelActive

		// Stable tunnels back off toward the slow cadence.
		t.probeInterval *= 2
		if t.probeInterval > probeMaxInterval {
			t.probeInterval = probeMaxInterval
		}
	} else {
		t.record.Status = model.TunnelDegraded
		t.probeInterval = probeMinInterval
	}
	newStatus := t.record.Status
	t.mu.Unlock()

	if oldStatus != newStatus {
		m.produceEvent(t.record.ID, string(oldStatus), string(newStatus))
	}
	m.saveBook()
}

// RecordTraffic folds externally observed traffic into the analytics.
func (m *Manager) RecordTraffic(id string, requests, bytesIn, bytesOut int64) {
	m.mu.Lock()
	t, ok := m.tunnels[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	t.record.Metrics.Requests += requests
	t.record.Metrics.BytesIn += bytesIn
	t.record.Metrics.BytesOut += bytesOut
	t.mu.Unlock()
	m.saveBook()
}

func (m *Manager) produceEvent(id, oldState, newState string) {
	if m.producer == nil {
		return
	}
	if err := m.producer.ProduceTunnelStateChangeEvent(id, oldState, newState); err != nil {
		m.logger.WithError(err).WithField("tunnel", id).Warn("Failed to produce tunnel state change event")
	}
}
