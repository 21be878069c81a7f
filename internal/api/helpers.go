// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"encoding/json"
	"net/http"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// outputJSON writes the value as the JSON response body.
func outputJSON(c *Context, w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	if err := encoder.Encode(value); err != nil {
		c.Logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError maps a structured error onto the HTTP response with its
// correlation id.
func writeError(c *Context, w http.ResponseWriter, err error) {
	status := model.HTTPStatus(err)
	if status >= 500 {
		c.Logger.WithError(err).Error("Request failed")
	} else {
		c.Logger.WithError(err).Debug("Request rejected")
	}

	response := model.ErrorResponse{
		Kind:          model.ErrorKind(err),
		Message:       err.Error(),
		CorrelationID: c.RequestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}
