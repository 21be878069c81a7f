// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// initProcess registers process endpoints on the given router.
func initProcess(apiRouter *mux.Router, context *Context) {
	addHandler := func(handler contextHandlerFunc) http.Handler {
		return addContext(handler, context)
	}

	processesRouter := apiRouter.PathPrefix("/processes").Subrouter()
	processesRouter.Handle("", addHandler(handleListProcesses)).Methods(http.MethodGet)

	processRouter := apiRouter.PathPrefix("/processes/{process:[A-Za-z0-9_-]+}").Subrouter()
	processRouter.Handle("", addHandler(handleGetProcess)).Methods(http.MethodGet)
	processRouter.Handle("/stop", addHandler(handleStopProcess)).Methods(http.MethodPost)
	processRouter.Handle("/restart", addHandler(handleRestartProcess)).Methods(http.MethodPost)
}

// handleListProcesses responds to GET /api/processes.
func handleListProcesses(c *Context, w http.ResponseWriter, r *http.Request) {
	records := c.Supervisor.List()
	if records == nil {
		records = []*model.ProcessRecord{}
	}
	outputJSON(c, w, records)
}

// handleGetProcess responds to GET /api/processes/{process}.
func handleGetProcess(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	record, err := c.Supervisor.Get(vars["process"])
	if err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, record)
}

// handleStopProcess responds to POST /api/processes/{process}/stop.
func handleStopProcess(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var request model.StopProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && err != io.EOF {
		writeError(c, w, model.WrapError(model.ErrInvalidInput, err, "malformed stop request"))
		return
	}

	opts := model.StopOptions{Grace: 10 * time.Second, ForceAfter: 5 * time.Second}
	if request.GraceSeconds > 0 {
		opts.Grace = time.Duration(request.GraceSeconds) * time.Second
	}
	if request.ForceAfterSeconds > 0 {
		opts.ForceAfter = time.Duration(request.ForceAfterSeconds) * time.Second
	}

	if err := c.Supervisor.Stop(vars["process"], opts); err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, map[string]string{"status": "stopped"})
}

// handleRestartProcess responds to POST /api/processes/{process}/restart.
func handleRestartProcess(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	newID, err := c.Supervisor.Restart(vars["process"])
	if err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, map[string]string{"process_id": newID})
}
