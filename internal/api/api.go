// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import "github.com/gorilla/mux"

// Register registers the API endpoints on the given router.
func Register(rootRouter *mux.Router, context *Context) {
	apiRouter := rootRouter.PathPrefix("/api").Subrouter()

	initApp(apiRouter, context)
	initProcess(apiRouter, context)
	initTunnel(apiRouter, context)
	initCache(apiRouter, context)
	initMetrics(apiRouter, context)
	initRecovery(apiRouter, context)
	initWebhook(apiRouter, context)
	initPlatform(apiRouter, context)
	initEvents(apiRouter, context)
}
