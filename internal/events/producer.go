// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package events

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// Topic names for the in-process broker.
const (
	// TopicAppEvents carries app state change events; back-pressure.
	TopicAppEvents = "apps"
	// TopicProcessEvents carries supervisor process events; back-pressure.
	TopicProcessEvents = "processes"
	// TopicHealthEvents carries health monitor events; back-pressure.
	TopicHealthEvents = "health"
	// TopicMetrics carries metric samples; drop-oldest.
	TopicMetrics = "metrics"
	// TopicCacheInvalidation broadcasts cache invalidations; drop-oldest.
	TopicCacheInvalidation = "cache"
	// TopicLogLines carries child process log line records; drop-oldest.
	TopicLogLines = "logs"
	// TopicInstallProgress carries install progress events; back-pressure.
	TopicInstallProgress = "install"
)

type producerStore interface {
	CreateStateChangeEvent(event *model.StateChangeEvent) error
	GetWebhooks(filter *model.WebhookFilter) ([]*model.Webhook, error)
}

// DataField represents a string key value pair used for events extra data.
type DataField struct {
	Key   string
	Value string
}

// Producer records state change events and fans them out to the broker and
// all registered webhooks.
type Producer struct {
	store  producerStore
	broker *Broker
	logger logrus.FieldLogger
}

// NewProducer creates a new event producer.
func NewProducer(store producerStore, broker *Broker, logger logrus.FieldLogger) *Producer {
	return &Producer{
		store:  store,
		broker: broker,
		logger: logger.WithField("component", "eventsProducer"),
	}
}

// ProduceAppStateChangeEvent produces a state change event for an app.
func (p *Producer) ProduceAppStateChangeEvent(appID, oldState, newState string, extraDataFields ...DataField) error {
	return p.produce(model.TypeApp, TopicAppEvents, appID, oldState, newState, extraDataFields)
}

// ProduceProcessStateChangeEvent produces a state change event for a process.
func (p *Producer) ProduceProcessStateChangeEvent(processID, oldState, newState string, extraDataFields ...DataField) error {
	return p.produce(model.TypeProcess, TopicProcessEvents, processID, oldState, newState, extraDataFields)
}

// ProduceTunnelStateChangeEvent produces a state change event for a tunnel.
func (p *Producer) ProduceTunnelStateChangeEvent(tunnelID, oldState, newState string, extraDataFields ...DataField) error {
	return p.produce(model.TypeTunnel, TopicAppEvents, tunnelID, oldState, newState, extraDataFields)
}

func (p *Producer) produce(resourceType model.ResourceType, topic, resourceID, oldState, newState string, extraDataFields []DataField) error {
	extraData := make(map[string]string, len(extraDataFields))
	for _, field := range extraDataFields {
		extraData[field.Key] = field.Value
	}

	event := &model.StateChangeEvent{
		ResourceID:   resourceID,
		ResourceType: resourceType,
		OldState:     oldState,
		NewState:     newState,
		Timestamp:    model.GetMillis(),
		ExtraData:    extraData,
	}

	err := p.store.CreateStateChangeEvent(event)
	if err != nil {
		return errors.Wrap(err, "failed to record state change event")
	}

	p.broker.Publish(topic, event)

	payload := &model.WebhookPayload{
		EventID:   event.ID,
		Timestamp: event.Timestamp,
		ID:        resourceID,
		Type:      resourceType,
		NewState:  newState,
		OldState:  oldState,
		ExtraData: extraData,
	}

	err = SendToAllWebhooks(p.store, payload, p.logger.WithField("event", event.ID))
	if err != nil {
		p.logger.WithError(err).Error("Failed to send webhooks")
	}

	return nil
}
