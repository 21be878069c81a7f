// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// initPlatform registers the platform endpoint on the given router.
func initPlatform(apiRouter *mux.Router, context *Context) {
	apiRouter.Handle("/platform", addContext(handleGetPlatform, context)).Methods(http.MethodGet)
}

// handleGetPlatform responds to GET /api/platform with the detected
// platform record.
func handleGetPlatform(c *Context, w http.ResponseWriter, r *http.Request) {
	outputJSON(c, w, c.Platform.Detect())
}
