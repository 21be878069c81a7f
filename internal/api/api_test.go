// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

type fakeStates struct {
	records map[string]*model.StateRecord
}

func (f *fakeStates) Get(appID string) (*model.StateRecord, error) {
	if record, ok := f.records[appID]; ok {
		return record, nil
	}
	return &model.StateRecord{Schema: 1, AppID: appID, Status: model.AppStateAbsent}, nil
}

func (f *fakeStates) List() ([]*model.StateRecord, error) {
	var records []*model.StateRecord
	for _, record := range f.records {
		records = append(records, record)
	}
	return records, nil
}

type fakeController struct {
	started []string
	stopped []string
}

func (f *fakeController) StartApp(ctx context.Context, appID string, req *model.StartAppRequest) error {
	f.started = append(f.started, appID)
	return nil
}

func (f *fakeController) StopApp(appID string, req *model.StopAppRequest) error {
	f.stopped = append(f.stopped, appID)
	return nil
}

type fakeEngine struct{}

func (f *fakeEngine) Analyze(appID string) (*model.AppProfile, error) {
	if appID == "missing" {
		return nil, model.NewError(model.ErrNotFound, "app missing not found")
	}
	return &model.AppProfile{ID: appID, Hash: "abc"}, nil
}

func (f *fakeEngine) Install(ctx context.Context, appID string, inputs model.InputValues, strategy model.ResolutionStrategy) error {
	return nil
}

func (f *fakeEngine) Uninstall(appID string) error { return nil }

type fakeHealth struct{}

func (f *fakeHealth) Get(appID string) *model.HealthRecord { return nil }

type fakeTunnels struct {
	tunnels map[string]*model.Tunnel
}

func (f *fakeTunnels) Open(ctx context.Context, provider model.TunnelProvider, localPort int, opts model.TunnelOptions) (*model.Tunnel, error) {
	tunnel := &model.Tunnel{ID: model.NewID(), Provider: provider, LocalPort: localPort, Status: model.TunnelActive}
	f.tunnels[tunnel.ID] = tunnel
	return tunnel, nil
}

func (f *fakeTunnels) Close(id string) error { return nil }

func (f *fakeTunnels) List() []*model.Tunnel {
	var tunnels []*model.Tunnel
	for _, tunnel := range f.tunnels {
		tunnels = append(tunnels, tunnel)
	}
	return tunnels
}

func (f *fakeTunnels) Status(id string) (*model.Tunnel, error) {
	if tunnel, ok := f.tunnels[id]; ok {
		return tunnel, nil
	}
	return nil, model.NewError(model.ErrNotFound, "tunnel %s not found", id)
}

type fakePerf struct{}

func (f *fakePerf) Current() model.MetricSample { return model.MetricSample{CPUPercent: 12} }
func (f *fakePerf) History(window time.Duration) []model.MetricSample {
	return []model.MetricSample{{CPUPercent: 12}}
}
func (f *fakePerf) Alerts() []*model.Alert { return nil }

func setupAPI(t *testing.T) (*httptest.Server, *model.Client, *fakeController, *fakeStates) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	states := &fakeStates{records: map[string]*model.StateRecord{
		"demo": {Schema: 1, AppID: "demo", Status: model.AppStateInstalled, ProfileHash: "abc"},
	}}
	controller := &fakeController{}

	router := mux.NewRouter()
	Register(router, &Context{
		States:     states,
		Controller: controller,
		Engine:     &fakeEngine{},
		Health:     &fakeHealth{},
		Tunnels:    &fakeTunnels{tunnels: map[string]*model.Tunnel{}},
		Perf:       &fakePerf{},
		Broker:     events.NewBroker(logger),
		Logger:     logger,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server, model.NewClient(server.URL), controller, states
}

func TestListApps(t *testing.T) {
	_, client, _, _ := setupAPI(t)

	records, err := client.ListApps()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "demo", records[0].AppID)
}

func TestGetAppState(t *testing.T) {
	_, client, _, _ := setupAPI(t)

	status, err := client.GetAppState("demo")
	require.NoError(t, err)
	assert.Equal(t, model.AppStateInstalled, status.Record.Status)
}

func TestAnalyzeApp(t *testing.T) {
	_, client, _, _ := setupAPI(t)

	profile, err := client.AnalyzeApp("demo")
	require.NoError(t, err)
	assert.Equal(t, "abc", profile.Hash)
}

func TestAnalyzeAppNotFound(t *testing.T) {
	_, client, _, _ := setupAPI(t)

	_, err := client.AnalyzeApp("missing")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrNotFound))
	assert.Equal(t, 3, model.ExitCode(err))
}

func TestStartAndStopApp(t *testing.T) {
	_, client, controller, _ := setupAPI(t)

	handle, err := client.StartApp("demo", &model.StartAppRequest{})
	require.NoError(t, err)
	assert.Equal(t, "demo", handle.AppID)
	assert.Equal(t, []string{"demo"}, controller.started)

	require.NoError(t, client.StopApp("demo", &model.StopAppRequest{GraceSeconds: 1}))
	assert.Equal(t, []string{"demo"}, controller.stopped)
}

func TestTunnelEndpoints(t *testing.T) {
	_, client, _, _ := setupAPI(t)

	tunnel, err := client.OpenTunnel(&model.OpenTunnelRequest{
		Provider: model.ProviderCloudflare,
		Port:     7860,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TunnelActive, tunnel.Status)

	status, err := client.GetTunnel(tunnel.ID)
	require.NoError(t, err)
	assert.Equal(t, 7860, status.LocalPort)

	tunnels, err := client.ListTunnels()
	require.NoError(t, err)
	assert.Len(t, tunnels, 1)
}

func TestOpenTunnelRequiresPort(t *testing.T) {
	_, client, _, _ := setupAPI(t)

	_, err := client.OpenTunnel(&model.OpenTunnelRequest{Provider: model.ProviderNgrok})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrInvalidInput))
}

func TestMetricsEndpoints(t *testing.T) {
	_, client, _, _ := setupAPI(t)

	sample, err := client.CurrentMetrics()
	require.NoError(t, err)
	assert.Equal(t, 12.0, sample.CPUPercent)

	history, err := client.MetricsHistory(60)
	require.NoError(t, err)
	assert.Len(t, history.Samples, 1)
}
