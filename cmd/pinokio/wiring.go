// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/cache"
	"github.com/pinokiocloud/pinokio-cloud/internal/controller"
	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/recovery"
	"github.com/pinokiocloud/pinokio-cloud/internal/store"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// profileCache adapts the cache manager to the analyzer's profile cache,
// storing profiles under the app_metadata kind keyed by tree hash.
type profileCache struct {
	caches *cache.Manager
	logger log.FieldLogger
}

func newProfileCache(caches *cache.Manager, logger log.FieldLogger) *profileCache {
	return &profileCache{caches: caches, logger: logger}
}

// GetProfile implements catalog.ProfileCache.
func (p *profileCache) GetProfile(hash string) *model.AppProfile {
	var profile model.AppProfile
	found, err := p.caches.GetJSON("profile/"+hash, model.CacheAppMetadata, &profile)
	if err != nil || !found {
		return nil
	}
	return &profile
}

// PutProfile implements catalog.ProfileCache.
func (p *profileCache) PutProfile(profile *model.AppProfile) {
	err := p.caches.PutJSON("profile/"+profile.Hash, profile, model.CacheAppMetadata, model.CachePutOptions{Priority: 4})
	if err != nil {
		p.logger.WithError(err).Warn("Failed to cache app profile")
	}
}

func buildRecoveryEngine(broker *events.Broker, sqlStore *store.SQLStore, ctrl *controller.Controller, logger log.FieldLogger) *recovery.Engine {
	return recovery.NewEngine(broker, sqlStore, ctrl, logger)
}
