// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/internal/appstate"
	"github.com/pinokiocloud/pinokio-cloud/internal/catalog"
	"github.com/pinokiocloud/pinokio-cloud/internal/deps"
	"github.com/pinokiocloud/pinokio-cloud/internal/env"
	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// fakeDriver replaces the requirements driver with filesystem-only steps so
// engine tests exercise the state machine without package managers.
type fakeDriver struct {
	steps  []string
	ran    *[]string
	failOn string
	fields []model.InputField
}

func (d *fakeDriver) Kind() model.InstallerKind { return model.InstallerRequirements }

func (d *fakeDriver) Parse(profile *model.AppProfile, appDir string) ([]Step, []model.InputField, error) {
	var steps []Step
	for _, name := range d.steps {
		name := name
		steps = append(steps, Step{
			Name: name,
			Run: func(ctx context.Context, sc *StepContext) error {
				if name == d.failOn {
					return model.NewError(model.ErrExternalFailure, "step %s exploded", name)
				}
				*d.ran = append(*d.ran, name)
				return nil
			},
		})
	}
	return steps, d.fields, nil
}

type engineFixture struct {
	engine  *Engine
	states  *appstate.Store
	envsDir string
	appsDir string
	ran     []string
	driver  *fakeDriver
}

func testEngine(t *testing.T, pipDeps []string) *engineFixture {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	base := t.TempDir()
	appsDir := filepath.Join(base, "apps")
	envsDir := filepath.Join(base, "envs")
	require.NoError(t, os.MkdirAll(filepath.Join(appsDir, "demo"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(appsDir, "demo", "requirements.txt"),
		[]byte(strings.Join(pipDeps, "\n")+"\n"), 0644))

	states, err := appstate.NewStore(filepath.Join(base, "state"), nil, logger)
	require.NoError(t, err)

	fixture := &engineFixture{states: states, envsDir: envsDir, appsDir: appsDir}
	fixture.driver = &fakeDriver{steps: []string{"prepare", "fetch", "link"}, ran: &fixture.ran}

	registry := NewDriverRegistry()
	registry.Register(fixture.driver)

	platform := &model.Platform{Kind: model.PlatformColab, BasePath: base}
	fixture.engine = NewEngine(
		platform,
		appsDir,
		catalog.NewEmpty(logger),
		catalog.NewAnalyzer(nil, logger),
		deps.NewResolver(logger),
		env.NewManager(envsDir, logger),
		states,
		events.NewBroker(logger),
		registry,
		logger,
	)

	// Fabricate the isolated environment so Acquire skips creation.
	seedEnvFor(t, envsDir, "demo", model.AppDeps{Pip: pipDeps})

	return fixture
}

func seedEnvFor(t *testing.T, envsDir, appID string, appDeps model.AppDeps) {
	t.Helper()
	root := filepath.Join(envsDir, appID)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".pinokio-lock"), []byte(env.DepsHash(appDeps)), 0644))
}

func TestInstallHappyPath(t *testing.T) {
	fixture := testEngine(t, []string{"torch==2.0", "numpy>=1.24"})

	err := fixture.engine.Install(context.Background(), "demo", nil, model.StrategyUseLatest)
	require.NoError(t, err)

	assert.Equal(t, []string{"prepare", "fetch", "link"}, fixture.ran)

	record, err := fixture.states.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, model.AppStateInstalled, record.Status)
	assert.NotEmpty(t, record.ProfileHash)
	assert.NotZero(t, record.InstalledAt)
	assert.Nil(t, record.Failure)

	// Exactly one environment directory was used.
	entries, err := os.ReadDir(fixture.envsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInstallCriticalConflictFails(t *testing.T) {
	fixture := testEngine(t, []string{"python==3.10", "python==3.11"})

	err := fixture.engine.Install(context.Background(), "demo", nil, model.StrategyUseLatest)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrDependencyConflict))

	record, stateErr := fixture.states.Get("demo")
	require.NoError(t, stateErr)
	assert.Equal(t, model.AppStateFailed, record.Status)
	require.NotNil(t, record.Failure)
	assert.Equal(t, model.ErrDependencyConflict, record.Failure.Kind)
}

func TestInstallResumesFromCheckpoint(t *testing.T) {
	fixture := testEngine(t, []string{"numpy"})
	fixture.driver.failOn = "fetch"

	err := fixture.engine.Install(context.Background(), "demo", nil, model.StrategyUseLatest)
	require.Error(t, err)
	assert.Equal(t, []string{"prepare"}, fixture.ran)

	record, err := fixture.states.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, model.AppStateFailed, record.Status)
	assert.Equal(t, 1, record.Failure.Step)

	// Retry skips the completed step and finishes the rest.
	fixture.driver.failOn = ""
	err = fixture.engine.Install(context.Background(), "demo", nil, model.StrategyUseLatest)
	require.NoError(t, err)
	assert.Equal(t, []string{"prepare", "fetch", "link"}, fixture.ran)
}

func TestInstallRejectsConcurrentSameApp(t *testing.T) {
	fixture := testEngine(t, []string{"numpy"})

	require.NoError(t, fixture.engine.acquire("demo"))
	err := fixture.engine.Install(context.Background(), "demo", nil, model.StrategyUseLatest)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrConflict))
	fixture.engine.releaseInflight("demo")
}

func TestInstallValidatesInputs(t *testing.T) {
	fixture := testEngine(t, []string{"numpy"})
	fixture.driver.fields = []model.InputField{
		{FieldID: "token", Kind: model.InputText, Validators: []model.Validator{{Kind: model.ValidateRequired}}},
	}

	err := fixture.engine.Install(context.Background(), "demo", nil, model.StrategyUseLatest)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrInvalidInput))
}

func TestUninstallReturnsToAbsent(t *testing.T) {
	fixture := testEngine(t, []string{"numpy"})

	require.NoError(t, fixture.engine.Install(context.Background(), "demo", nil, model.StrategyUseLatest))
	require.NoError(t, fixture.engine.Uninstall("demo"))

	record, err := fixture.states.Get("demo")
	require.NoError(t, err)
	assert.Equal(t, model.AppStateAbsent, record.Status)

	_, statErr := os.Stat(filepath.Join(fixture.envsDir, "demo"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAnalyzeUninstallAnalyzeKeepsHash(t *testing.T) {
	fixture := testEngine(t, []string{"numpy"})

	first, err := fixture.engine.Analyze("demo")
	require.NoError(t, err)

	require.NoError(t, fixture.engine.Install(context.Background(), "demo", nil, model.StrategyUseLatest))
	require.NoError(t, fixture.engine.Uninstall("demo"))

	second, err := fixture.engine.Analyze("demo")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.Hash)
}
