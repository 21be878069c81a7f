// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package events fans control plane events out to in-process subscribers and
// registered webhooks.
package events

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// DeliveryMode controls subscriber channel behavior under a slow consumer.
type DeliveryMode int

const (
	// Backpressure blocks the publisher until the subscriber drains.
	Backpressure DeliveryMode = iota
	// DropOldest discards the oldest queued event to make room.
	DropOldest
)

// Subscription is one subscriber's bounded event channel.
type Subscription struct {
	id     string
	topic  string
	mode   DeliveryMode
	events chan interface{}
	broker *Broker
	once   sync.Once
}

// Events returns the subscriber's channel. It is closed by Cancel.
func (s *Subscription) Events() <-chan interface{} {
	return s.events
}

// Cancel removes the subscription and closes its channel. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.events)
	})
}

// Broker is a topic-based in-process event bus with bounded subscriber
// queues.
type Broker struct {
	logger log.FieldLogger

	mu   sync.Mutex
	subs map[string][]*Subscription
}

// NewBroker creates an event broker.
func NewBroker(logger log.FieldLogger) *Broker {
	return &Broker{
		logger: logger.WithField("component", "events"),
		subs:   map[string][]*Subscription{},
	}
}

// Subscribe registers a subscriber on the topic with the given queue bound
// and delivery mode.
func (b *Broker) Subscribe(topic string, buffer int, mode DeliveryMode) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscription{
		id:     model.NewID(),
		topic:  topic,
		mode:   mode,
		events: make(chan interface{}, buffer),
		broker: b,
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return sub
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish delivers the event to every subscriber on the topic, honoring each
// subscription's delivery mode.
func (b *Broker) Publish(topic string, event interface{}) {
	b.mu.Lock()
	subs := append([]*Subscription(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		switch sub.mode {
		case DropOldest:
			delivered := false
			for !delivered {
				select {
				case sub.events <- event:
					delivered = true
				default:
					// Queue full; discard the oldest and retry.
					select {
					case <-sub.events:
					default:
					}
				}
			}
		default:
			sub.events <- event
		}
	}
}
