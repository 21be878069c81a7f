// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package env

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func testManagerAt(t *testing.T) (*Manager, string) {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	root := t.TempDir()
	return NewManager(root, logger), root
}

// seedEnv fabricates an existing environment directory with a recorded hash.
func seedEnv(t *testing.T, root, appID string, deps model.AppDeps) {
	t.Helper()
	envRoot := filepath.Join(root, appID)
	require.NoError(t, os.MkdirAll(filepath.Join(envRoot, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(envRoot, lockFileName), []byte(DepsHash(deps)), 0644))
}

func TestDepsHashOrderInsensitive(t *testing.T) {
	a := model.AppDeps{Pip: []string{"torch==2.0", "numpy"}}
	b := model.AppDeps{Pip: []string{"numpy", "torch==2.0"}}
	c := model.AppDeps{Pip: []string{"numpy", "torch==2.1"}}

	assert.Equal(t, DepsHash(a), DepsHash(b))
	assert.NotEqual(t, DepsHash(a), DepsHash(c))
}

func TestDepsHashDistinguishesManagers(t *testing.T) {
	pip := model.AppDeps{Pip: []string{"numpy"}}
	conda := model.AppDeps{Conda: []string{"numpy"}}

	assert.NotEqual(t, DepsHash(pip), DepsHash(conda))
}

func TestAcquireExistingMatchingEnvironment(t *testing.T) {
	m, root := testManagerAt(t)
	deps := model.AppDeps{Pip: []string{"numpy"}}
	seedEnv(t, root, "demo", deps)

	environment, err := m.Acquire(context.Background(), "demo", BackendVenv, deps)
	require.NoError(t, err)
	defer environment.Release()

	assert.Equal(t, filepath.Join(root, "demo"), environment.Root)
	overlay := environment.Overlay()
	assert.Equal(t, environment.Root, overlay["VIRTUAL_ENV"])
	assert.Contains(t, overlay["PATH"], filepath.Join(environment.Root, "bin"))
}

func TestAcquireRefusesDivergedHash(t *testing.T) {
	m, root := testManagerAt(t)
	seedEnv(t, root, "demo", model.AppDeps{Pip: []string{"numpy"}})

	_, err := m.Acquire(context.Background(), "demo", BackendVenv, model.AppDeps{Pip: []string{"torch"}})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrPrecondition))
}

func TestInspect(t *testing.T) {
	m, root := testManagerAt(t)
	deps := model.AppDeps{Pip: []string{"numpy"}}

	exists, matches := m.Inspect("demo", deps)
	assert.False(t, exists)
	assert.False(t, matches)

	seedEnv(t, root, "demo", deps)
	exists, matches = m.Inspect("demo", deps)
	assert.True(t, exists)
	assert.True(t, matches)

	exists, matches = m.Inspect("demo", model.AppDeps{Pip: []string{"torch"}})
	assert.True(t, exists)
	assert.False(t, matches)
}

func TestDestroyDeferredUntilLastRelease(t *testing.T) {
	m, root := testManagerAt(t)
	deps := model.AppDeps{Pip: []string{"numpy"}}
	seedEnv(t, root, "demo", deps)

	environment, err := m.Acquire(context.Background(), "demo", BackendVenv, deps)
	require.NoError(t, err)

	require.NoError(t, m.Destroy("demo"))

	// Still on disk while the handle is live.
	_, statErr := os.Stat(environment.Root)
	require.NoError(t, statErr)

	environment.Release()

	_, statErr = os.Stat(environment.Root)
	assert.True(t, os.IsNotExist(statErr))

	// Release is idempotent.
	environment.Release()
}

func TestDestroyWithoutHandles(t *testing.T) {
	m, root := testManagerAt(t)
	seedEnv(t, root, "demo", model.AppDeps{})

	require.NoError(t, m.Destroy("demo"))
	_, err := os.Stat(filepath.Join(root, "demo"))
	assert.True(t, os.IsNotExist(err))
}
