// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package events

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBroker() *Broker {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	return NewBroker(logger)
}

func TestPublishSubscribe(t *testing.T) {
	broker := testBroker()

	sub := broker.Subscribe(TopicAppEvents, 4, Backpressure)
	defer sub.Cancel()

	broker.Publish(TopicAppEvents, "one")
	broker.Publish(TopicAppEvents, "two")

	assert.Equal(t, "one", <-sub.Events())
	assert.Equal(t, "two", <-sub.Events())
}

func TestTopicsAreIsolated(t *testing.T) {
	broker := testBroker()

	apps := broker.Subscribe(TopicAppEvents, 4, Backpressure)
	defer apps.Cancel()
	procs := broker.Subscribe(TopicProcessEvents, 4, Backpressure)
	defer procs.Cancel()

	broker.Publish(TopicProcessEvents, "proc")

	assert.Equal(t, "proc", <-procs.Events())
	select {
	case unexpected := <-apps.Events():
		t.Fatalf("app topic received %v", unexpected)
	default:
	}
}

func TestDropOldestUnderSlowConsumer(t *testing.T) {
	broker := testBroker()

	sub := broker.Subscribe(TopicMetrics, 2, DropOldest)
	defer sub.Cancel()

	broker.Publish(TopicMetrics, 1)
	broker.Publish(TopicMetrics, 2)
	broker.Publish(TopicMetrics, 3)

	// The oldest sample was dropped; delivery never blocked.
	assert.Equal(t, 2, <-sub.Events())
	assert.Equal(t, 3, <-sub.Events())
}

func TestCancelIsIdempotentAndClosesChannel(t *testing.T) {
	broker := testBroker()

	sub := broker.Subscribe(TopicAppEvents, 1, Backpressure)
	sub.Cancel()
	sub.Cancel()

	_, open := <-sub.Events()
	require.False(t, open)

	// Publishing after cancel reaches no one and does not panic.
	broker.Publish(TopicAppEvents, "ignored")
}
