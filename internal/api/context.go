// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/metrics"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// AppStore describes the persisted app state surface the API reads.
type AppStore interface {
	Get(appID string) (*model.StateRecord, error)
	List() ([]*model.StateRecord, error)
}

// AppController describes the lifecycle operations the API drives.
type AppController interface {
	StartApp(ctx context.Context, appID string, req *model.StartAppRequest) error
	StopApp(appID string, req *model.StopAppRequest) error
}

// InstallEngine describes the install operations the API drives.
type InstallEngine interface {
	Analyze(appID string) (*model.AppProfile, error)
	Install(ctx context.Context, appID string, inputs model.InputValues, strategy model.ResolutionStrategy) error
	Uninstall(appID string) error
}

// ProfileReader resolves the cached profile of an app.
type ProfileReader interface {
	Analyze(appID, root string, hint *model.CatalogEntry) (*model.AppProfile, error)
}

// Supervisor describes the process operations the API exposes.
type Supervisor interface {
	List() []*model.ProcessRecord
	Get(id string) (*model.ProcessRecord, error)
	Stop(id string, opts model.StopOptions) error
	Restart(id string) (string, error)
	Watch() *events.Subscription
}

// HealthReader exposes health record snapshots.
type HealthReader interface {
	Get(appID string) *model.HealthRecord
}

// TunnelManager describes the tunnel operations the API exposes.
type TunnelManager interface {
	Open(ctx context.Context, provider model.TunnelProvider, localPort int, opts model.TunnelOptions) (*model.Tunnel, error)
	Close(id string) error
	List() []*model.Tunnel
	Status(id string) (*model.Tunnel, error)
}

// CacheManager describes the cache operations the API exposes.
type CacheManager interface {
	Get(key string, kind model.CacheKind) ([]byte, error)
	Put(key string, value []byte, kind model.CacheKind, opts model.CachePutOptions) error
	Invalidate(key string, kind model.CacheKind) (bool, error)
	Prefetch(appID string) error
	Stats() (*model.CacheStats, error)
	Cleanup() error
}

// PerfMonitor describes the telemetry the API exposes.
type PerfMonitor interface {
	Current() model.MetricSample
	History(window time.Duration) []model.MetricSample
	Alerts() []*model.Alert
}

// RecoveryEngine describes the recovery operations the API exposes.
type RecoveryEngine interface {
	Patterns() []*model.ErrorPattern
	AddPattern(pattern model.ErrorPattern) error
	RemovePattern(id string) error
	History() ([]*model.RecoveryResult, error)
	Stats() (*model.RecoveryStats, error)
}

// EventStore describes the persisted event surface the API reads.
type EventStore interface {
	GetStateChangeEvents(filter *model.StateChangeEventFilter) ([]*model.StateChangeEvent, error)
	CreateWebhook(webhook *model.Webhook) error
	GetWebhook(id string) (*model.Webhook, error)
	GetWebhooks(filter *model.WebhookFilter) ([]*model.Webhook, error)
	DeleteWebhook(id string) error
}

// PlatformInfo describes the platform surface the API reads.
type PlatformInfo interface {
	Detect() *model.Platform
}

// Context provides the API handlers access to the control plane. Scoped
// fields are reset per request via Clone.
type Context struct {
	States     AppStore
	Controller AppController
	Engine     InstallEngine
	Supervisor Supervisor
	Health     HealthReader
	Tunnels    TunnelManager
	Cache      CacheManager
	Perf       PerfMonitor
	Recovery   RecoveryEngine
	EventStore EventStore
	Platform   PlatformInfo
	Broker     *events.Broker
	Metrics    *metrics.CloudMetrics

	RequestID string
	Logger    logrus.FieldLogger
}

// Clone creates a shallow copy of context, allowing clones to apply per-
// request changes.
func (c *Context) Clone() *Context {
	clone := *c
	return &clone
}
