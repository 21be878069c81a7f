// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// Client is the programmatic interface to the control plane API.
type Client struct {
	address    string
	headers    map[string]string
	httpClient *http.Client
}

// NewClient creates a client to the control plane at the given address.
func NewClient(address string) *Client {
	return &Client{
		address:    address,
		headers:    make(map[string]string),
		httpClient: &http.Client{},
	}
}

// NewClientWithHeaders creates a client to the control plane at the given
// address and uses the provided headers.
func NewClientWithHeaders(address string, headers map[string]string) *Client {
	return &Client{
		address:    address,
		headers:    headers,
		httpClient: &http.Client{},
	}
}

// closeBody ensures the Body of an http.Response is properly closed.
func closeBody(r *http.Response) {
	if r.Body != nil {
		_, _ = io.ReadAll(r.Body)
		_ = r.Body.Close()
	}
}

func (c *Client) buildURL(urlPath string, args ...interface{}) string {
	return fmt.Sprintf("%s%s", c.address, fmt.Sprintf(urlPath, args...))
}

func (c *Client) doGet(u string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create http request")
	}
	for k, v := range c.headers {
		req.Header.Add(k, v)
	}

	return c.httpClient.Do(req)
}

func (c *Client) doPost(u string, request interface{}) (*http.Response, error) {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(requestBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create http request")
	}
	for k, v := range c.headers {
		req.Header.Add(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

func (c *Client) doDelete(u string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodDelete, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create http request")
	}
	for k, v := range c.headers {
		req.Header.Add(k, v)
	}

	return c.httpClient.Do(req)
}

// decodeError turns a non-2xx response into a structured error.
func decodeError(resp *http.Response) error {
	var errResponse ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResponse); err != nil {
		return NewError(ErrInternal, "received status code %d", resp.StatusCode)
	}

	return &Error{Kind: errResponse.Kind, Message: errResponse.Message, Code: errResponse.CorrelationID}
}

func decodeJSON(resp *http.Response, value interface{}) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		if value == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(value)
	default:
		return decodeError(resp)
	}
}

// ListApps fetches the state records of all known apps.
func (c *Client) ListApps() ([]*StateRecord, error) {
	resp, err := c.doGet(c.buildURL("/api/apps"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var records []*StateRecord
	if err = decodeJSON(resp, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// GetAppState fetches the full status of one app.
func (c *Client) GetAppState(appID string) (*AppStatusResponse, error) {
	resp, err := c.doGet(c.buildURL("/api/apps/%s/state", appID))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var status AppStatusResponse
	if err = decodeJSON(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// AnalyzeApp requests analysis of the given app.
func (c *Client) AnalyzeApp(appID string) (*AppProfile, error) {
	resp, err := c.doPost(c.buildURL("/api/apps/%s/analyze", appID), nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var profile AppProfile
	if err = decodeJSON(resp, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// InstallApp begins an install and returns an operation handle.
func (c *Client) InstallApp(appID string, request *InstallAppRequest) (*OperationHandle, error) {
	resp, err := c.doPost(c.buildURL("/api/apps/%s/install", appID), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var handle OperationHandle
	if err = decodeJSON(resp, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// StartApp starts an installed app.
func (c *Client) StartApp(appID string, request *StartAppRequest) (*OperationHandle, error) {
	resp, err := c.doPost(c.buildURL("/api/apps/%s/start", appID), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var handle OperationHandle
	if err = decodeJSON(resp, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

// StopApp stops a running app.
func (c *Client) StopApp(appID string, request *StopAppRequest) error {
	resp, err := c.doPost(c.buildURL("/api/apps/%s/stop", appID), request)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// UninstallApp removes an installed app.
func (c *Client) UninstallApp(appID string) error {
	resp, err := c.doDelete(c.buildURL("/api/apps/%s", appID))
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// ListProcesses fetches all supervised process records.
func (c *Client) ListProcesses() ([]*ProcessRecord, error) {
	resp, err := c.doGet(c.buildURL("/api/processes"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var records []*ProcessRecord
	if err = decodeJSON(resp, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// StopProcess stops one supervised process.
func (c *Client) StopProcess(processID string, request *StopProcessRequest) error {
	resp, err := c.doPost(c.buildURL("/api/processes/%s/stop", processID), request)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// RestartProcess restarts one supervised process.
func (c *Client) RestartProcess(processID string) error {
	resp, err := c.doPost(c.buildURL("/api/processes/%s/restart", processID), nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// OpenTunnel opens a public tunnel.
func (c *Client) OpenTunnel(request *OpenTunnelRequest) (*Tunnel, error) {
	resp, err := c.doPost(c.buildURL("/api/tunnels"), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var tunnel Tunnel
	if err = decodeJSON(resp, &tunnel); err != nil {
		return nil, err
	}
	return &tunnel, nil
}

// CloseTunnel closes a tunnel; closing is idempotent.
func (c *Client) CloseTunnel(tunnelID string) error {
	resp, err := c.doDelete(c.buildURL("/api/tunnels/%s", tunnelID))
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// ListTunnels fetches all tunnels in the URL book.
func (c *Client) ListTunnels() ([]*Tunnel, error) {
	resp, err := c.doGet(c.buildURL("/api/tunnels"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var tunnels []*Tunnel
	if err = decodeJSON(resp, &tunnels); err != nil {
		return nil, err
	}
	return tunnels, nil
}

// GetTunnel fetches one tunnel.
func (c *Client) GetTunnel(tunnelID string) (*Tunnel, error) {
	resp, err := c.doGet(c.buildURL("/api/tunnels/%s", tunnelID))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var tunnel Tunnel
	if err = decodeJSON(resp, &tunnel); err != nil {
		return nil, err
	}
	return &tunnel, nil
}

// CacheGet fetches a cached value.
func (c *Client) CacheGet(kind CacheKind, key string) (json.RawMessage, error) {
	resp, err := c.doGet(c.buildURL("/api/cache/%s/%s", kind, key))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var value json.RawMessage
	if err = decodeJSON(resp, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// CachePut stores a value in the cache.
func (c *Client) CachePut(request *CachePutRequest) error {
	resp, err := c.doPost(c.buildURL("/api/cache"), request)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// CacheInvalidate removes a cached value.
func (c *Client) CacheInvalidate(kind CacheKind, key string) error {
	resp, err := c.doDelete(c.buildURL("/api/cache/%s/%s", kind, key))
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// CachePrefetch warms the cache memory layer for an app.
func (c *Client) CachePrefetch(appID string) error {
	resp, err := c.doPost(c.buildURL("/api/cache/prefetch/%s", appID), nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// CacheStats fetches cache statistics.
func (c *Client) CacheStats() (*CacheStats, error) {
	resp, err := c.doGet(c.buildURL("/api/cache/stats"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var stats CacheStats
	if err = decodeJSON(resp, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CacheCleanup triggers a cache cleanup pass.
func (c *Client) CacheCleanup() error {
	resp, err := c.doPost(c.buildURL("/api/cache/cleanup"), nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// CurrentMetrics fetches the most recent metric sample.
func (c *Client) CurrentMetrics() (*MetricSample, error) {
	resp, err := c.doGet(c.buildURL("/api/metrics/current"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var sample MetricSample
	if err = decodeJSON(resp, &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// MetricsHistory fetches samples within the given window in seconds.
func (c *Client) MetricsHistory(windowSeconds int) (*MetricsHistoryResponse, error) {
	resp, err := c.doGet(c.buildURL("/api/metrics/history?window=%d", windowSeconds))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var history MetricsHistoryResponse
	if err = decodeJSON(resp, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// ListAlerts fetches open and recently closed alerts.
func (c *Client) ListAlerts() ([]*Alert, error) {
	resp, err := c.doGet(c.buildURL("/api/alerts"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var alerts []*Alert
	if err = decodeJSON(resp, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// ListRecoveryPatterns fetches the registered recovery patterns.
func (c *Client) ListRecoveryPatterns() ([]*ErrorPattern, error) {
	resp, err := c.doGet(c.buildURL("/api/recovery/patterns"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var patterns []*ErrorPattern
	if err = decodeJSON(resp, &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

// AddRecoveryPattern registers a recovery pattern.
func (c *Client) AddRecoveryPattern(request *AddPatternRequest) (*ErrorPattern, error) {
	resp, err := c.doPost(c.buildURL("/api/recovery/patterns"), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var pattern ErrorPattern
	if err = decodeJSON(resp, &pattern); err != nil {
		return nil, err
	}
	return &pattern, nil
}

// RemoveRecoveryPattern removes a recovery pattern.
func (c *Client) RemoveRecoveryPattern(patternID string) error {
	resp, err := c.doDelete(c.buildURL("/api/recovery/patterns/%s", patternID))
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}

// RecoveryHistory fetches the retained recovery results.
func (c *Client) RecoveryHistory() ([]*RecoveryResult, error) {
	resp, err := c.doGet(c.buildURL("/api/recovery/history"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var results []*RecoveryResult
	if err = decodeJSON(resp, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// CreateWebhook registers a state change webhook.
func (c *Client) CreateWebhook(request *CreateWebhookRequest) (*Webhook, error) {
	resp, err := c.doPost(c.buildURL("/api/webhooks"), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var webhook Webhook
	if err = decodeJSON(resp, &webhook); err != nil {
		return nil, err
	}
	return &webhook, nil
}

// ListWebhooks fetches registered webhooks.
func (c *Client) ListWebhooks() ([]*Webhook, error) {
	resp, err := c.doGet(c.buildURL("/api/webhooks"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	var webhooks []*Webhook
	if err = decodeJSON(resp, &webhooks); err != nil {
		return nil, err
	}
	return webhooks, nil
}

// DeleteWebhook removes a webhook.
func (c *Client) DeleteWebhook(webhookID string) error {
	resp, err := c.doDelete(c.buildURL("/api/webhooks/%s", webhookID))
	if err != nil {
		return err
	}
	defer closeBody(resp)

	return decodeJSON(resp, nil)
}
