// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// initWebhook registers webhook endpoints on the given router.
func initWebhook(apiRouter *mux.Router, context *Context) {
	addHandler := func(handler contextHandlerFunc) http.Handler {
		return addContext(handler, context)
	}

	webhooksRouter := apiRouter.PathPrefix("/webhooks").Subrouter()
	webhooksRouter.Handle("", addHandler(handleListWebhooks)).Methods(http.MethodGet)
	webhooksRouter.Handle("", addHandler(handleCreateWebhook)).Methods(http.MethodPost)

	webhookRouter := apiRouter.PathPrefix("/webhooks/{webhook:[A-Za-z0-9_-]+}").Subrouter()
	webhookRouter.Handle("", addHandler(handleDeleteWebhook)).Methods(http.MethodDelete)
}

// handleListWebhooks responds to GET /api/webhooks.
func handleListWebhooks(c *Context, w http.ResponseWriter, r *http.Request) {
	webhooks, err := c.EventStore.GetWebhooks(&model.WebhookFilter{})
	if err != nil {
		writeError(c, w, err)
		return
	}
	if webhooks == nil {
		webhooks = []*model.Webhook{}
	}

	outputJSON(c, w, webhooks)
}

// handleCreateWebhook responds to POST /api/webhooks.
func handleCreateWebhook(c *Context, w http.ResponseWriter, r *http.Request) {
	var request model.CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(c, w, model.WrapError(model.ErrInvalidInput, err, "malformed webhook request"))
		return
	}

	parsed, err := url.Parse(request.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		writeError(c, w, model.NewError(model.ErrInvalidInput, "webhook url is not valid"))
		return
	}

	webhook := &model.Webhook{OwnerID: request.OwnerID, URL: request.URL}
	if err = c.EventStore.CreateWebhook(webhook); err != nil {
		writeError(c, w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	outputJSON(c, w, webhook)
}

// handleDeleteWebhook responds to DELETE /api/webhooks/{webhook}.
func handleDeleteWebhook(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	webhook, err := c.EventStore.GetWebhook(vars["webhook"])
	if err != nil {
		writeError(c, w, err)
		return
	}
	if webhook == nil || webhook.IsDeleted() {
		writeError(c, w, model.NewError(model.ErrNotFound, "webhook not found"))
		return
	}

	if err = c.EventStore.DeleteWebhook(webhook.ID); err != nil {
		writeError(c, w, err)
		return
	}

	outputJSON(c, w, map[string]string{"status": "deleted"})
}
