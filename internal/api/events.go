// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API binds to localhost; the UI collaborator is a local client.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// initEvents registers the event query and stream endpoints.
func initEvents(apiRouter *mux.Router, context *Context) {
	addHandler := func(handler contextHandlerFunc) http.Handler {
		return addContext(handler, context)
	}

	apiRouter.Handle("/events", addHandler(handleListEvents)).Methods(http.MethodGet)
	apiRouter.Handle("/apps/events/stream", addHandler(handleAppEventsStream)).Methods(http.MethodGet)
	apiRouter.Handle("/processes/watch", addHandler(handleProcessWatch)).Methods(http.MethodGet)
	apiRouter.Handle("/metrics/stream", addHandler(handleMetricsStream)).Methods(http.MethodGet)
}

// handleListEvents responds to GET /api/events with persisted state change
// events, optionally filtered by resource.
func handleListEvents(c *Context, w http.ResponseWriter, r *http.Request) {
	filter := &model.StateChangeEventFilter{Limit: 100}
	query := r.URL.Query()
	if resource := query.Get("resource"); resource != "" {
		filter.ResourceID = resource
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(c, w, model.NewError(model.ErrInvalidInput, "limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	eventsList, err := c.EventStore.GetStateChangeEvents(filter)
	if err != nil {
		writeError(c, w, err)
		return
	}
	if eventsList == nil {
		eventsList = []*model.StateChangeEvent{}
	}

	outputJSON(c, w, eventsList)
}

// streamTopic upgrades the request to a websocket and forwards broker
// events until either side disconnects.
func streamTopic(c *Context, w http.ResponseWriter, r *http.Request, topic string, buffer int, mode events.DeliveryMode) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.Logger.WithError(err).Debug("Failed to upgrade stream connection")
		return
	}
	defer conn.Close()

	sub := c.Broker.Subscribe(topic, buffer, mode)
	defer sub.Cancel()

	// Reads only detect client disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Cancel()
				return
			}
		}
	}()

	for event := range sub.Events() {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// handleAppEventsStream responds to GET /api/apps/events/stream with a
// back-pressured websocket of app state change events.
func handleAppEventsStream(c *Context, w http.ResponseWriter, r *http.Request) {
	streamTopic(c, w, r, events.TopicAppEvents, 64, events.Backpressure)
}

// handleProcessWatch responds to GET /api/processes/watch with a
// back-pressured websocket of supervisor events.
func handleProcessWatch(c *Context, w http.ResponseWriter, r *http.Request) {
	streamTopic(c, w, r, events.TopicProcessEvents, 64, events.Backpressure)
}

// handleMetricsStream responds to GET /api/metrics/stream; slow consumers
// lose the oldest samples rather than stalling the monitor.
func handleMetricsStream(c *Context, w http.ResponseWriter, r *http.Request) {
	streamTopic(c, w, r, events.TopicMetrics, 128, events.DropOldest)
}
