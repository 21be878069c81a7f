// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ResourceType specifies a type of control plane resource.
type ResourceType string

const (
	// TypeApp is the string value that represents an app.
	TypeApp ResourceType = "app"
	// TypeProcess is the string value that represents a supervised process.
	TypeProcess ResourceType = "process"
	// TypeTunnel is the string value that represents a tunnel.
	TypeTunnel ResourceType = "tunnel"
)

// String converts ResourceType to string.
func (t ResourceType) String() string {
	return string(t)
}

// EventType specifies a type of event.
type EventType string

const (
	// ResourceStateChangeEventType is an event recording a resource state
	// transition.
	ResourceStateChangeEventType EventType = "resourceStateChange"
)

// StateChangeEvent records one state transition of a resource.
type StateChangeEvent struct {
	ID           string            `json:"id"`
	ResourceID   string            `json:"resource_id"`
	ResourceType ResourceType      `json:"resource_type"`
	OldState     string            `json:"old_state"`
	NewState     string            `json:"new_state"`
	Timestamp    int64             `json:"timestamp"`
	ExtraData    map[string]string `json:"extra_data,omitempty"`
}

// StateChangeEventFilter constrains a state change event query.
type StateChangeEventFilter struct {
	ResourceID   string
	ResourceType ResourceType
	Since        int64
	Limit        int
}

// InstallProgress is one element of the lazy install progress sequence.
type InstallProgress struct {
	Timestamp int64   `json:"t"`
	Phase     string  `json:"phase"`
	Message   string  `json:"message"`
	Pct       float64 `json:"pct,omitempty"`
}

// WebhookPayload is the payload sent to every registered webhook.
type WebhookPayload struct {
	EventID   string            `json:"event_id"`
	Timestamp int64             `json:"timestamp"`
	ID        string            `json:"id"`
	Type      ResourceType      `json:"type"`
	NewState  string            `json:"new_state"`
	OldState  string            `json:"old_state"`
	ExtraData map[string]string `json:"extra_data,omitempty"`
}

// ToJSON returns a JSON string representation of the webhook payload.
func (p *WebhookPayload) ToJSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal webhook payload")
	}

	return string(b), nil
}

// Webhook is a registered subscriber to state change events.
type Webhook struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id,omitempty"`
	URL      string `json:"url"`
	CreateAt int64  `json:"create_at"`
	DeleteAt int64  `json:"delete_at"`
}

// IsDeleted returns whether the webhook was marked as deleted or not.
func (w *Webhook) IsDeleted() bool {
	return w.DeleteAt != 0
}

// WebhookFilter describes the parameters used to constrain a set of webhooks.
type WebhookFilter struct {
	OwnerID        string
	IncludeDeleted bool
}
