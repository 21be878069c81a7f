// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

var logger *log.Logger

func init() {
	logger = log.New()
	logger.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	// Output to stdout instead of the default stderr.
	logger.SetOutput(os.Stdout)
}

func setLogLevel(level string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		logger.WithError(err).Warnf("Unknown log level %q; keeping %s", level, logger.GetLevel())
		return
	}
	logger.SetLevel(parsed)
}

func enableMachineLogs() {
	logger.SetFormatter(&log.JSONFormatter{})
}
