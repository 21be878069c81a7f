// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// initRecovery registers recovery endpoints on the given router.
func initRecovery(apiRouter *mux.Router, context *Context) {
	addHandler := func(handler contextHandlerFunc) http.Handler {
		return addContext(handler, context)
	}

	recoveryRouter := apiRouter.PathPrefix("/recovery").Subrouter()
	recoveryRouter.Handle("/patterns", addHandler(handleListPatterns)).Methods(http.MethodGet)
	recoveryRouter.Handle("/patterns", addHandler(handleAddPattern)).Methods(http.MethodPost)
	recoveryRouter.Handle("/patterns/{pattern:[A-Za-z0-9_-]+}", addHandler(handleRemovePattern)).Methods(http.MethodDelete)
	recoveryRouter.Handle("/history", addHandler(handleRecoveryHistory)).Methods(http.MethodGet)
	recoveryRouter.Handle("/stats", addHandler(handleRecoveryStats)).Methods(http.MethodGet)
}

// handleListPatterns responds to GET /api/recovery/patterns.
func handleListPatterns(c *Context, w http.ResponseWriter, r *http.Request) {
	patterns := c.Recovery.Patterns()
	if patterns == nil {
		patterns = []*model.ErrorPattern{}
	}
	outputJSON(c, w, patterns)
}

// handleAddPattern responds to POST /api/recovery/patterns.
func handleAddPattern(c *Context, w http.ResponseWriter, r *http.Request) {
	var request model.AddPatternRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(c, w, model.WrapError(model.ErrInvalidInput, err, "malformed pattern request"))
		return
	}

	if err := c.Recovery.AddPattern(request.Pattern); err != nil {
		writeError(c, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	outputJSON(c, w, request.Pattern)
}

// handleRemovePattern responds to DELETE /api/recovery/patterns/{pattern}.
func handleRemovePattern(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := c.Recovery.RemovePattern(vars["pattern"]); err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, map[string]string{"status": "removed"})
}

// handleRecoveryHistory responds to GET /api/recovery/history.
func handleRecoveryHistory(c *Context, w http.ResponseWriter, r *http.Request) {
	results, err := c.Recovery.History()
	if err != nil {
		writeError(c, w, err)
		return
	}
	if results == nil {
		results = []*model.RecoveryResult{}
	}

	outputJSON(c, w, results)
}

// handleRecoveryStats responds to GET /api/recovery/stats.
func handleRecoveryStats(c *Context, w http.ResponseWriter, r *http.Request) {
	stats, err := c.Recovery.Stats()
	if err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, stats)
}
