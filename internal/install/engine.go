// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package install drives the install state machine for apps: parse the
// installer, collect inputs, materialize an environment, and execute
// checkpointed steps.
package install

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/appstate"
	"github.com/pinokiocloud/pinokio-cloud/internal/catalog"
	"github.com/pinokiocloud/pinokio-cloud/internal/deps"
	"github.com/pinokiocloud/pinokio-cloud/internal/env"
	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// logTailLines is how many trailing log lines are captured on failure.
const logTailLines = 20

// checkpointFile records install progress inside the app directory so a
// resumed install skips completed steps.
const checkpointFile = ".install-checkpoint.json"

type checkpoint struct {
	ProfileHash string `json:"profile_hash"`
	Completed   int    `json:"completed"`
}

// Engine drives installs. At most one install is in flight per app id;
// installs for distinct apps run in parallel.
type Engine struct {
	logger   log.FieldLogger
	platform *model.Platform
	appsDir  string
	analyzer *catalog.Analyzer
	catalog  *catalog.Catalog
	resolver *deps.Resolver
	envs     *env.Manager
	states   *appstate.Store
	broker   *events.Broker
	drivers  *DriverRegistry

	mu       sync.Mutex
	inflight map[string]bool
}

// NewEngine creates an install engine.
func NewEngine(
	platform *model.Platform,
	appsDir string,
	cat *catalog.Catalog,
	analyzer *catalog.Analyzer,
	resolver *deps.Resolver,
	envs *env.Manager,
	states *appstate.Store,
	broker *events.Broker,
	drivers *DriverRegistry,
	logger log.FieldLogger,
) *Engine {
	return &Engine{
		logger:   logger.WithField("component", "install"),
		platform: platform,
		appsDir:  appsDir,
		catalog:  cat,
		analyzer: analyzer,
		resolver: resolver,
		envs:     envs,
		states:   states,
		broker:   broker,
		drivers:  NewRegistryOrDefault(drivers),
		inflight: map[string]bool{},
	}
}

// NewRegistryOrDefault returns the given registry or the built-in one.
func NewRegistryOrDefault(registry *DriverRegistry) *DriverRegistry {
	if registry != nil {
		return registry
	}
	return NewDriverRegistry()
}

// AppDir returns the working directory of an app.
func (e *Engine) AppDir(appID string) string {
	return filepath.Join(e.appsDir, appID)
}

func (e *Engine) acquire(appID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[appID] {
		return model.NewError(model.ErrConflict, "install already in flight for %s", appID)
	}
	e.inflight[appID] = true
	return nil
}

func (e *Engine) releaseInflight(appID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, appID)
}

func (e *Engine) progress(appID, phase, message string, pct float64) {
	e.broker.Publish(events.TopicInstallProgress, &model.InstallProgress{
		Timestamp: model.GetMillis(),
		Phase:     phase,
		Message:   message,
		Pct:       pct,
	})
	e.logger.WithFields(log.Fields{"app": appID, "phase": phase}).Debug(message)
}

// Analyze produces (or refreshes) the app profile and records the analyzing
// transition.
func (e *Engine) Analyze(appID string) (*model.AppProfile, error) {
	if _, err := e.states.Transition(appID, model.AppStateAnalyzing, nil); err != nil {
		return nil, err
	}

	profile, err := e.analyzer.Analyze(appID, e.AppDir(appID), e.catalog.Get(appID))
	if err != nil {
		e.fail(appID, err, 0, nil)
		return nil, err
	}

	nextState := model.AppStateInstalled
	record, stateErr := e.states.Get(appID)
	if stateErr == nil && record.ProfileHash == profile.Hash && record.InstalledAt > 0 {
		// Already installed at this hash; analysis alone does not demote.
	} else if profile.Deps.Empty() {
		nextState = model.AppStateInstalling
	} else {
		nextState = model.AppStateNeedsDeps
	}

	if _, err = e.states.Transition(appID, nextState, func(r *model.StateRecord) {
		r.ProfileHash = profile.Hash
	}); err != nil {
		return nil, err
	}

	return profile, nil
}

// Install runs the full install sequence for an app. It blocks until the
// install finishes; callers wanting a handle run it in a goroutine.
func (e *Engine) Install(ctx context.Context, appID string, inputs model.InputValues, strategy model.ResolutionStrategy) error {
	if err := e.acquire(appID); err != nil {
		return err
	}
	defer e.releaseInflight(appID)

	logger := e.logger.WithField("app", appID)
	start := time.Now()

	// Load the profile, requesting analysis when missing.
	record, err := e.states.Get(appID)
	if err != nil {
		return err
	}
	var profile *model.AppProfile
	switch {
	case record.Status == model.AppStateAbsent || record.ProfileHash == "":
		e.progress(appID, "analyze", "Analyzing app", 0.05)
		profile, err = e.Analyze(appID)
	case record.Status == model.AppStateInstalled:
		// Reinstall; the machine re-enters through analysis.
		if _, err = e.states.Transition(appID, model.AppStateAnalyzing, nil); err != nil {
			return err
		}
		profile, err = e.analyzer.Analyze(appID, e.AppDir(appID), e.catalog.Get(appID))
		if err != nil {
			e.fail(appID, err, 0, nil)
		}
	default:
		profile, err = e.analyzer.Analyze(appID, e.AppDir(appID), e.catalog.Get(appID))
	}
	if err != nil {
		return err
	}

	driver, err := e.drivers.Resolve(profile.InstallerKind)
	if err != nil {
		e.fail(appID, err, 0, nil)
		return err
	}

	steps, fields, err := driver.Parse(profile, e.AppDir(appID))
	if err != nil {
		e.fail(appID, err, 0, nil)
		return err
	}

	e.progress(appID, "inputs", "Validating inputs", 0.1)
	effectiveInputs, err := CollectInputs(fields, inputs)
	if err != nil {
		e.fail(appID, err, 0, nil)
		return err
	}

	// Resolve dependency conflicts before touching the environment.
	if strategy == "" {
		strategy = model.StrategyUseLatest
	}
	report := e.resolver.Resolve(profile.Deps, strategy)
	for _, remaining := range report.Remaining {
		if remaining.Severity.AtLeast(model.SeverityCritical) {
			err = model.NewError(model.ErrDependencyConflict,
				"critical dependency conflict on %s requires operator action", remaining.Package)
			e.fail(appID, err, 0, nil)
			return err
		}
	}
	e.progress(appID, "deps", "Resolved dependency conflicts", 0.2)

	if _, err = e.states.Transition(appID, model.AppStateInstalling, func(r *model.StateRecord) {
		r.ProfileHash = profile.Hash
	}); err != nil {
		return err
	}

	// Materialize the isolated environment.
	backend := env.BackendVenv
	if profile.InstallerKind == model.InstallerEnvironment {
		backend = env.BackendConda
	}
	environment, err := e.envs.Acquire(ctx, appID, backend, profile.Deps)
	if err != nil {
		e.fail(appID, err, 0, nil)
		return err
	}
	defer environment.Release()
	e.progress(appID, "env", "Environment ready", 0.3)

	// Execute installer steps sequentially with checkpointing.
	tail := NewLogTail(logTailLines)
	stepCtx := &StepContext{
		AppID:  appID,
		AppDir: e.AppDir(appID),
		Env:    environment,
		Scope:  envRootScope(e.baseScope(appID, effectiveInputs), environment),
		Inputs: effectiveInputs,
		Logger: logger,
		Tail:   tail,
	}

	resumeFrom := e.loadCheckpoint(appID, profile.Hash)
	for i, step := range steps {
		if i < resumeFrom {
			logger.WithField("step", step.Name).Debug("Skipping completed step")
			continue
		}

		pct := 0.3 + 0.6*float64(i)/float64(len(steps))
		e.progress(appID, "step", "Running "+step.Name, pct)

		if err = step.Run(ctx, stepCtx); err != nil {
			e.fail(appID, err, i, tail.Lines())
			return err
		}
		e.saveCheckpoint(appID, checkpoint{ProfileHash: profile.Hash, Completed: i + 1})
	}

	e.clearCheckpoint(appID)

	if _, err = e.states.Transition(appID, model.AppStateInstalled, func(r *model.StateRecord) {
		r.ProfileHash = profile.Hash
		r.InstalledAt = model.GetMillis()
	}); err != nil {
		return err
	}

	e.progress(appID, "done", "Install complete", 1.0)
	logger.WithField("elapsed", time.Since(start).String()).Info("Installed app")

	return nil
}

// Uninstall removes the app's environment and working state, returning the
// app to absent while keeping its source tree.
func (e *Engine) Uninstall(appID string) error {
	if err := e.acquire(appID); err != nil {
		return err
	}
	defer e.releaseInflight(appID)

	record, err := e.states.Get(appID)
	if err != nil {
		return err
	}
	if model.AppStateIsRunning(record.Status) {
		return model.NewError(model.ErrConflict, "app %s is running; stop it first", appID)
	}

	if err = e.envs.Destroy(appID); err != nil {
		return err
	}
	e.clearCheckpoint(appID)

	if record.Status != model.AppStateAbsent {
		if _, err = e.states.Transition(appID, model.AppStateAbsent, func(r *model.StateRecord) {
			r.InstalledAt = 0
			r.ProfileHash = record.ProfileHash
		}); err != nil {
			return err
		}
	}

	return nil
}

// baseScope builds the lexical substitution environment for installer steps.
func (e *Engine) baseScope(appID string, inputs model.InputValues) Scope {
	scope := Scope{
		"platform":        string(e.platform.Kind),
		"gpu":             strconv.FormatBool(e.platform.Features.Has(model.FeatureGPU)),
		"cwd":             e.AppDir(appID),
		"timestamp":       strconv.FormatInt(model.GetMillis(), 10),
		"cloud.base_path": e.platform.BasePath,
	}
	for key, value := range inputs {
		if text, ok := value.(string); ok {
			scope["args."+key] = text
		}
	}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				scope["env."+kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	scope["local.os"] = runtime.GOOS
	scope["local.arch"] = runtime.GOARCH

	return scope
}

func (e *Engine) checkpointPath(appID string) string {
	return filepath.Join(e.AppDir(appID), checkpointFile)
}

func (e *Engine) loadCheckpoint(appID, profileHash string) int {
	var cp checkpoint
	if err := fsutil.ReadJSONInto(e.checkpointPath(appID), &cp); err != nil {
		return 0
	}
	if cp.ProfileHash != profileHash {
		return 0
	}
	return cp.Completed
}

func (e *Engine) saveCheckpoint(appID string, cp checkpoint) {
	if err := fsutil.WriteJSONAtomic(e.checkpointPath(appID), cp); err != nil {
		e.logger.WithError(err).WithField("app", appID).Warn("Failed to write install checkpoint")
	}
}

func (e *Engine) clearCheckpoint(appID string) {
	_ = os.Remove(e.checkpointPath(appID))
}

// fail records the terminal failure with the failing step and log tail.
func (e *Engine) fail(appID string, cause error, step int, logTail []string) {
	_, err := e.states.Transition(appID, model.AppStateFailed, func(r *model.StateRecord) {
		r.Failure = &model.StateFailure{
			Kind:    model.ErrorKind(cause),
			Step:    step,
			Message: cause.Error(),
			LogTail: logTail,
		}
	})
	if err != nil {
		e.logger.WithError(err).WithField("app", appID).Error("Failed to record failure state")
	}
}

// LogTail keeps the last N lines seen during an install.
type LogTail struct {
	mu    sync.Mutex
	limit int
	lines []string
}

// NewLogTail creates a tail bounded to limit lines.
func NewLogTail(limit int) *LogTail {
	return &LogTail{limit: limit}
}

// Append adds a line, discarding the oldest beyond the limit.
func (t *LogTail) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.limit {
		t.lines = t.lines[len(t.lines)-t.limit:]
	}
}

// Lines returns the retained tail.
func (t *LogTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
