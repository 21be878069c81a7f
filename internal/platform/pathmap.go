// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package platform

import (
	"os"
	"path/filepath"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// perAppPaths are the logical paths that accept an app id suffix.
var perAppPaths = map[model.LogicalPath]bool{
	model.PathApps: true,
	model.PathEnvs: true,
	model.PathLogs: true,
}

// PathMap resolves logical paths to absolute paths under the platform base.
type PathMap struct {
	base string
}

// NewPathMap creates a path map rooted at the platform base path.
func NewPathMap(platform *model.Platform) *PathMap {
	return &PathMap{base: platform.BasePath}
}

// Base returns the root of all mapped paths.
func (m *PathMap) Base() string {
	return m.base
}

// Map resolves a logical path, optionally scoped to an app, and ensures the
// parent directory exists. Resolution is deterministic.
func (m *PathMap) Map(logical model.LogicalPath, appID string) (string, error) {
	resolved := filepath.Join(m.base, string(logical))
	if appID != "" && perAppPaths[logical] {
		resolved = filepath.Join(resolved, appID)
	}

	parent := filepath.Dir(resolved)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", model.WrapError(model.ErrPermission, err, "failed to create %s", parent)
	}

	return resolved, nil
}

// MustMap resolves a logical path, panicking on failure. Reserved for
// startup wiring where the base path was already validated.
func (m *PathMap) MustMap(logical model.LogicalPath, appID string) string {
	resolved, err := m.Map(logical, appID)
	if err != nil {
		panic(err)
	}
	return resolved
}

// StateFile returns the atomic state record path for an app.
func (m *PathMap) StateFile(appID string) (string, error) {
	dir, err := m.Map(model.PathState, "")
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(dir, 0755); err != nil {
		return "", model.WrapError(model.ErrPermission, err, "failed to create %s", dir)
	}

	return filepath.Join(dir, appID+".json"), nil
}

// URLBookFile returns the tunnel book path.
func (m *PathMap) URLBookFile() (string, error) {
	dir, err := m.Map(model.PathTunnels, "")
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(dir, 0755); err != nil {
		return "", model.WrapError(model.ErrPermission, err, "failed to create %s", dir)
	}

	return filepath.Join(dir, "book.json"), nil
}
