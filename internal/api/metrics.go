// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// initMetrics registers telemetry endpoints on the given router.
func initMetrics(apiRouter *mux.Router, context *Context) {
	addHandler := func(handler contextHandlerFunc) http.Handler {
		return addContext(handler, context)
	}

	metricsRouter := apiRouter.PathPrefix("/metrics").Subrouter()
	metricsRouter.Handle("/current", addHandler(handleCurrentMetrics)).Methods(http.MethodGet)
	metricsRouter.Handle("/history", addHandler(handleMetricsHistory)).Methods(http.MethodGet)

	apiRouter.Handle("/alerts", addHandler(handleListAlerts)).Methods(http.MethodGet)
}

// handleCurrentMetrics responds to GET /api/metrics/current.
func handleCurrentMetrics(c *Context, w http.ResponseWriter, r *http.Request) {
	outputJSON(c, w, c.Perf.Current())
}

// handleMetricsHistory responds to GET /api/metrics/history?window=<seconds>.
func handleMetricsHistory(c *Context, w http.ResponseWriter, r *http.Request) {
	windowSeconds := 3600
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, w, model.NewError(model.ErrInvalidInput, "window must be a positive integer"))
			return
		}
		windowSeconds = parsed
	}

	samples := c.Perf.History(time.Duration(windowSeconds) * time.Second)
	if samples == nil {
		samples = []model.MetricSample{}
	}

	outputJSON(c, w, model.MetricsHistoryResponse{Samples: samples})
}

// handleListAlerts responds to GET /api/alerts.
func handleListAlerts(c *Context, w http.ResponseWriter, r *http.Request) {
	alerts := c.Perf.Alerts()
	if alerts == nil {
		alerts = []*model.Alert{}
	}
	outputJSON(c, w, alerts)
}
