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

// initCache registers cache endpoints on the given router.
func initCache(apiRouter *mux.Router, context *Context) {
	addHandler := func(handler contextHandlerFunc) http.Handler {
		return addContext(handler, context)
	}

	cacheRouter := apiRouter.PathPrefix("/cache").Subrouter()
	cacheRouter.Handle("", addHandler(handleCachePut)).Methods(http.MethodPost)
	cacheRouter.Handle("/stats", addHandler(handleCacheStats)).Methods(http.MethodGet)
	cacheRouter.Handle("/cleanup", addHandler(handleCacheCleanup)).Methods(http.MethodPost)
	cacheRouter.Handle("/prefetch/{app:[A-Za-z0-9_-]+}", addHandler(handleCachePrefetch)).Methods(http.MethodPost)

	entryRouter := apiRouter.PathPrefix("/cache/{kind:[a-z_]+}/{key:.+}").Subrouter()
	entryRouter.Handle("", addHandler(handleCacheGet)).Methods(http.MethodGet)
	entryRouter.Handle("", addHandler(handleCacheInvalidate)).Methods(http.MethodDelete)
}

// handleCacheGet responds to GET /api/cache/{kind}/{key}.
func handleCacheGet(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	value, err := c.Cache.Get(vars["key"], model.CacheKind(vars["kind"]))
	if err != nil {
		writeError(c, w, err)
		return
	}
	if value == nil {
		writeError(c, w, model.NewError(model.ErrNotFound, "cache entry not found"))
		return
	}

	outputJSON(c, w, json.RawMessage(value))
}

// handleCachePut responds to POST /api/cache.
func handleCachePut(c *Context, w http.ResponseWriter, r *http.Request) {
	var request model.CachePutRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(c, w, model.WrapError(model.ErrInvalidInput, err, "malformed cache put"))
		return
	}
	if request.Key == "" || request.Kind == "" {
		writeError(c, w, model.NewError(model.ErrInvalidInput, "key and kind are required"))
		return
	}

	if err := c.Cache.Put(request.Key, request.Value, request.Kind, request.Options); err != nil {
		writeError(c, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	outputJSON(c, w, map[string]string{"status": "stored"})
}

// handleCacheInvalidate responds to DELETE /api/cache/{kind}/{key}.
func handleCacheInvalidate(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	existed, err := c.Cache.Invalidate(vars["key"], model.CacheKind(vars["kind"]))
	if err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, map[string]bool{"existed": existed})
}

// handleCachePrefetch responds to POST /api/cache/prefetch/{app}, warming
// the memory layer with the app's cached metadata.
func handleCachePrefetch(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := c.Cache.Prefetch(vars["app"]); err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, map[string]string{"status": "prefetched"})
}

// handleCacheStats responds to GET /api/cache/stats.
func handleCacheStats(c *Context, w http.ResponseWriter, r *http.Request) {
	stats, err := c.Cache.Stats()
	if err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, stats)
}

// handleCacheCleanup responds to POST /api/cache/cleanup.
func handleCacheCleanup(c *Context, w http.ResponseWriter, r *http.Request) {
	if err := c.Cache.Cleanup(); err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, map[string]string{"status": "cleaned"})
}
