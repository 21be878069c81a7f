// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package catalog loads the static app catalog and analyzes app source trees
// into install-ready profiles.
package catalog

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// Catalog is the loaded, read-only app catalog.
type Catalog struct {
	logger log.FieldLogger

	mu      sync.RWMutex
	entries map[string]*model.CatalogEntry
	order   []string
}

// Load reads the catalog artifact from the given path.
func Load(path string, logger log.FieldLogger) (*Catalog, error) {
	var entries []*model.CatalogEntry
	if err := fsutil.ReadJSONInto(path, &entries); err != nil {
		return nil, err
	}

	catalog := &Catalog{
		logger:  logger.WithField("component", "catalog"),
		entries: make(map[string]*model.CatalogEntry, len(entries)),
	}
	for _, entry := range entries {
		if entry.ID == "" {
			return nil, model.NewError(model.ErrCorrupt, "catalog entry missing id")
		}
		if _, dup := catalog.entries[entry.ID]; dup {
			return nil, model.NewError(model.ErrCorrupt, "duplicate catalog entry %s", entry.ID)
		}
		catalog.entries[entry.ID] = entry
		catalog.order = append(catalog.order, entry.ID)
	}

	catalog.logger.Infof("Loaded %d catalog entries", len(entries))

	return catalog, nil
}

// NewEmpty creates an empty catalog, used when no artifact is configured.
func NewEmpty(logger log.FieldLogger) *Catalog {
	return &Catalog{
		logger:  logger.WithField("component", "catalog"),
		entries: map[string]*model.CatalogEntry{},
	}
}

// Get returns the catalog entry for the given app id, or nil.
func (c *Catalog) Get(id string) *model.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[id]
}

// List returns all catalog entries in artifact order.
func (c *Catalog) List() []*model.CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := make([]*model.CatalogEntry, 0, len(c.order))
	for _, id := range c.order {
		entries = append(entries, c.entries[id])
	}
	return entries
}
