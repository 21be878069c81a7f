// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// InstallAppRequest asks the install engine to install an app.
type InstallAppRequest struct {
	Inputs   InputValues        `json:"inputs,omitempty"`
	Strategy ResolutionStrategy `json:"strategy,omitempty"`
}

// StartAppRequest asks the supervisor to start an installed app.
type StartAppRequest struct {
	Daemon *DaemonSpec `json:"daemon,omitempty"`
	Tunnel bool        `json:"tunnel,omitempty"`
}

// StopAppRequest asks the supervisor to stop a running app.
type StopAppRequest struct {
	GraceSeconds      int `json:"grace_s,omitempty"`
	ForceAfterSeconds int `json:"force_after_s,omitempty"`
}

// StopProcessRequest stops one supervised process.
type StopProcessRequest struct {
	GraceSeconds      int `json:"grace_s,omitempty"`
	ForceAfterSeconds int `json:"force_after_s,omitempty"`
}

// OpenTunnelRequest opens a tunnel to a local port.
type OpenTunnelRequest struct {
	Provider TunnelProvider `json:"provider"`
	Port     int            `json:"port"`
	Options  TunnelOptions  `json:"options"`
}

// CachePutRequest stores a value in the cache.
type CachePutRequest struct {
	Key     string          `json:"key"`
	Kind    CacheKind       `json:"kind"`
	Value   json.RawMessage `json:"value"`
	Options CachePutOptions `json:"options"`
}

// CreateWebhookRequest registers a state change webhook.
type CreateWebhookRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	URL     string `json:"url"`
}

// AddPatternRequest registers a recovery pattern.
type AddPatternRequest struct {
	Pattern ErrorPattern `json:"pattern"`
}

// OperationHandle is returned by long-running mutations; progress is
// published on the corresponding event stream.
type OperationHandle struct {
	ID    string `json:"id"`
	AppID string `json:"app_id,omitempty"`
}

// ErrorResponse is the wire form of a structured error.
type ErrorResponse struct {
	Kind          ErrKind  `json:"kind"`
	Message       string   `json:"message"`
	Code          string   `json:"code,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Suggestions   []string `json:"suggestions,omitempty"`
}

// AppStatusResponse is the API view of one app.
type AppStatusResponse struct {
	Record  *StateRecord  `json:"record"`
	Profile *AppProfile   `json:"profile,omitempty"`
	Health  *HealthRecord `json:"health,omitempty"`
}

// MetricsHistoryResponse is the API view of the sample ring buffer.
type MetricsHistoryResponse struct {
	Samples []MetricSample `json:"samples"`
}

// NewInstallAppRequestFromReader decodes an install request.
func NewInstallAppRequestFromReader(reader io.Reader) (*InstallAppRequest, error) {
	var request InstallAppRequest
	err := json.NewDecoder(reader).Decode(&request)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode install app request")
	}

	return &request, nil
}

// NewStartAppRequestFromReader decodes a start request.
func NewStartAppRequestFromReader(reader io.Reader) (*StartAppRequest, error) {
	var request StartAppRequest
	err := json.NewDecoder(reader).Decode(&request)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode start app request")
	}

	return &request, nil
}

// NewStopAppRequestFromReader decodes a stop request.
func NewStopAppRequestFromReader(reader io.Reader) (*StopAppRequest, error) {
	var request StopAppRequest
	err := json.NewDecoder(reader).Decode(&request)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode stop app request")
	}

	return &request, nil
}

// NewOpenTunnelRequestFromReader decodes a tunnel open request.
func NewOpenTunnelRequestFromReader(reader io.Reader) (*OpenTunnelRequest, error) {
	var request OpenTunnelRequest
	err := json.NewDecoder(reader).Decode(&request)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode open tunnel request")
	}

	return &request, nil
}
