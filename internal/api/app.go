// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// initApp registers app endpoints on the given router.
func initApp(apiRouter *mux.Router, context *Context) {
	addHandler := func(handler contextHandlerFunc) http.Handler {
		return addContext(handler, context)
	}

	appsRouter := apiRouter.PathPrefix("/apps").Subrouter()
	appsRouter.Handle("", addHandler(handleListApps)).Methods(http.MethodGet)

	appRouter := apiRouter.PathPrefix("/apps/{app:[A-Za-z0-9_-]+}").Subrouter()
	appRouter.Handle("", addHandler(handleUninstallApp)).Methods(http.MethodDelete)
	appRouter.Handle("/state", addHandler(handleGetAppState)).Methods(http.MethodGet)
	appRouter.Handle("/analyze", addHandler(handleAnalyzeApp)).Methods(http.MethodPost)
	appRouter.Handle("/install", addHandler(handleInstallApp)).Methods(http.MethodPost)
	appRouter.Handle("/start", addHandler(handleStartApp)).Methods(http.MethodPost)
	appRouter.Handle("/stop", addHandler(handleStopApp)).Methods(http.MethodPost)
}

// handleListApps responds to GET /api/apps, returning all app state records.
func handleListApps(c *Context, w http.ResponseWriter, r *http.Request) {
	records, err := c.States.List()
	if err != nil {
		writeError(c, w, err)
		return
	}
	if records == nil {
		records = []*model.StateRecord{}
	}

	outputJSON(c, w, records)
}

// handleGetAppState responds to GET /api/apps/{app}/state, returning the app
// record with its health snapshot.
func handleGetAppState(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appID := vars["app"]

	record, err := c.States.Get(appID)
	if err != nil {
		writeError(c, w, err)
		return
	}

	response := model.AppStatusResponse{
		Record: record,
		Health: c.Health.Get(appID),
	}

	outputJSON(c, w, response)
}

// handleAnalyzeApp responds to POST /api/apps/{app}/analyze.
func handleAnalyzeApp(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appID := vars["app"]

	profile, err := c.Engine.Analyze(appID)
	if err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, profile)
}

// handleInstallApp responds to POST /api/apps/{app}/install. The install
// runs in the background; progress flows on the install event stream.
func handleInstallApp(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appID := vars["app"]

	request, err := model.NewInstallAppRequestFromReader(r.Body)
	if err != nil {
		writeError(c, w, model.WrapError(model.ErrInvalidInput, err, "malformed install request"))
		return
	}

	handle := model.OperationHandle{ID: model.NewID(), AppID: appID}
	logger := c.Logger

	go func() {
		if err := c.Engine.Install(context.Background(), appID, request.Inputs, request.Strategy); err != nil {
			logger.WithError(err).Error("Install failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	outputJSON(c, w, handle)
}

// handleStartApp responds to POST /api/apps/{app}/start.
func handleStartApp(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appID := vars["app"]

	request, err := model.NewStartAppRequestFromReader(r.Body)
	if err != nil {
		writeError(c, w, model.WrapError(model.ErrInvalidInput, err, "malformed start request"))
		return
	}

	if err = c.Controller.StartApp(r.Context(), appID, request); err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, model.OperationHandle{ID: model.NewID(), AppID: appID})
}

// handleStopApp responds to POST /api/apps/{app}/stop.
func handleStopApp(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appID := vars["app"]

	request, err := model.NewStopAppRequestFromReader(r.Body)
	if err != nil {
		writeError(c, w, model.WrapError(model.ErrInvalidInput, err, "malformed stop request"))
		return
	}

	if err = c.Controller.StopApp(appID, request); err != nil {
		writeError(c, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, map[string]string{"status": "stopped"})
}

// handleUninstallApp responds to DELETE /api/apps/{app}.
func handleUninstallApp(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	appID := vars["app"]

	if err := c.Engine.Uninstall(appID); err != nil {
		writeError(c, w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, map[string]string{"status": "uninstalled"})
}
