// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// initTunnel registers tunnel endpoints on the given router.
func initTunnel(apiRouter *mux.Router, context *Context) {
	addHandler := func(handler contextHandlerFunc) http.Handler {
		return addContext(handler, context)
	}

	tunnelsRouter := apiRouter.PathPrefix("/tunnels").Subrouter()
	tunnelsRouter.Handle("", addHandler(handleListTunnels)).Methods(http.MethodGet)
	tunnelsRouter.Handle("", addHandler(handleOpenTunnel)).Methods(http.MethodPost)

	tunnelRouter := apiRouter.PathPrefix("/tunnels/{tunnel:[A-Za-z0-9_-]+}").Subrouter()
	tunnelRouter.Handle("", addHandler(handleGetTunnel)).Methods(http.MethodGet)
	tunnelRouter.Handle("", addHandler(handleCloseTunnel)).Methods(http.MethodDelete)
}

// handleListTunnels responds to GET /api/tunnels.
func handleListTunnels(c *Context, w http.ResponseWriter, r *http.Request) {
	tunnels := c.Tunnels.List()
	if tunnels == nil {
		tunnels = []*model.Tunnel{}
	}
	outputJSON(c, w, tunnels)
}

// handleOpenTunnel responds to POST /api/tunnels.
func handleOpenTunnel(c *Context, w http.ResponseWriter, r *http.Request) {
	request, err := model.NewOpenTunnelRequestFromReader(r.Body)
	if err != nil {
		writeError(c, w, model.WrapError(model.ErrInvalidInput, err, "malformed tunnel request"))
		return
	}
	if request.Port <= 0 {
		writeError(c, w, model.NewError(model.ErrInvalidInput, "port is required"))
		return
	}

	tunnel, err := c.Tunnels.Open(r.Context(), request.Provider, request.Port, request.Options)
	if err != nil {
		writeError(c, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	outputJSON(c, w, tunnel)
}

// handleGetTunnel responds to GET /api/tunnels/{tunnel}.
func handleGetTunnel(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	tunnel, err := c.Tunnels.Status(vars["tunnel"])
	if err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, tunnel)
}

// handleCloseTunnel responds to DELETE /api/tunnels/{tunnel}; closing is
// idempotent.
func handleCloseTunnel(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := c.Tunnels.Close(vars["tunnel"]); err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, map[string]string{"status": "closed"})
}
