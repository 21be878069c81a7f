// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package tunnel

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

type fakeHandle struct {
	closes int32
}

func (h *fakeHandle) Close() error {
	atomic.AddInt32(&h.closes, 1)
	return nil
}

type fakeProvider struct {
	kind   model.TunnelProvider
	handle *fakeHandle
	fail   bool
}

func (p *fakeProvider) Kind() model.TunnelProvider { return p.kind }

func (p *fakeProvider) Open(ctx context.Context, localPort int, opts model.TunnelOptions) (string, Handle, error) {
	if p.fail {
		return "", nil, model.NewError(model.ErrExternalFailure, "provider down")
	}
	p.handle = &fakeHandle{}
	return "https://demo.example.com", p.handle, nil
}

func testManager(t *testing.T, providers ...Provider) (*Manager, string) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	bookPath := filepath.Join(t.TempDir(), "book.json")

	m := NewManager(bookPath, nil, logger, providers...)
	t.Cleanup(m.Shutdown)

	return m, bookPath
}

func TestOpenThenStatus(t *testing.T) {
	provider := &fakeProvider{kind: model.ProviderCustom}
	m, _ := testManager(t, provider)

	tunnel, err := m.Open(context.Background(), model.ProviderCustom, 7860, model.TunnelOptions{AppID: "demo"})
	require.NoError(t, err)
	assert.Equal(t, model.TunnelActive, tunnel.Status)
	assert.Equal(t, "https://demo.example.com", tunnel.URL)

	status, err := m.Status(tunnel.ID)
	require.NoError(t, err)
	assert.NotEqual(t, model.TunnelClosed, status.Status)
	assert.Equal(t, 7860, status.LocalPort)
}

func TestCloseIsIdempotent(t *testing.T) {
	provider := &fakeProvider{kind: model.ProviderCustom}
	m, _ := testManager(t, provider)

	tunnel, err := m.Open(context.Background(), model.ProviderCustom, 7860, model.TunnelOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Close(tunnel.ID))
	require.NoError(t, m.Close(tunnel.ID))

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.handle.closes))

	status, err := m.Status(tunnel.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TunnelClosed, status.Status)

	// A closed tunnel never shows up in List again.
	for _, record := range m.List() {
		assert.NotEqual(t, tunnel.ID, record.ID)
	}
}

func TestCloseUnknownTunnelSucceeds(t *testing.T) {
	m, _ := testManager(t)
	assert.NoError(t, m.Close("never-existed"))
}

func TestRemoveDropsFromList(t *testing.T) {
	provider := &fakeProvider{kind: model.ProviderCustom}
	m, _ := testManager(t, provider)

	tunnel, err := m.Open(context.Background(), model.ProviderCustom, 7860, model.TunnelOptions{})
	require.NoError(t, err)

	require.NoError(t, m.Remove(tunnel.ID))
	for _, record := range m.List() {
		assert.NotEqual(t, tunnel.ID, record.ID)
	}
}

func TestOpenFailureRecordsFailedTunnel(t *testing.T) {
	provider := &fakeProvider{kind: model.ProviderCustom, fail: true}
	m, _ := testManager(t, provider)

	_, err := m.Open(context.Background(), model.ProviderCustom, 7860, model.TunnelOptions{})
	require.Error(t, err)

	records := m.List()
	require.Len(t, records, 1)
	assert.Equal(t, model.TunnelFailed, records[0].Status)
}

func TestOpenUnknownProvider(t *testing.T) {
	m, _ := testManager(t)

	_, err := m.Open(context.Background(), model.ProviderNgrok, 7860, model.TunnelOptions{})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrUnsupported))
}

func TestBookPersistedWithoutActiveStatus(t *testing.T) {
	provider := &fakeProvider{kind: model.ProviderCustom}
	m, bookPath := testManager(t, provider)

	tunnel, err := m.Open(context.Background(), model.ProviderCustom, 7860, model.TunnelOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Close(tunnel.ID))

	var book model.URLBook
	require.NoError(t, fsutil.ReadJSONInto(bookPath, &book))
	require.Len(t, book.Tunnels, 1)
	assert.Equal(t, model.TunnelClosed, book.Tunnels[0].Status)
}

func TestBookReloadMarksStaleActiveClosed(t *testing.T) {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	bookPath := filepath.Join(t.TempDir(), "book.json")

	stale := model.URLBook{Schema: 1, Tunnels: []*model.Tunnel{{
		ID:        model.NewID(),
		Provider:  model.ProviderNgrok,
		LocalPort: 7860,
		Status:    model.TunnelActive,
	}}}
	require.NoError(t, fsutil.WriteJSONAtomic(bookPath, &stale))

	m := NewManager(bookPath, nil, logger)
	defer m.Shutdown()

	// The stale tunnel is not listed, but its record survives with its
	// analytics and a closed status.
	assert.Empty(t, m.List())
	status, err := m.Status(stale.Tunnels[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.TunnelClosed, status.Status)
}
