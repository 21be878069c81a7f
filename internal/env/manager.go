// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package env creates and tracks per-app isolated environments: a language
// runtime plus its dependency set, reproducible via a recorded lockfile hash.
package env

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/exechelper"
	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// Backend selects the environment tooling.
type Backend string

const (
	// BackendVenv uses python -m venv.
	BackendVenv Backend = "venv"
	// BackendConda uses conda create -p.
	BackendConda Backend = "conda"
)

// lockFileName records the dependency hash inside each environment.
const lockFileName = ".pinokio-lock"

// Environment is a refcounted handle on one isolated environment. Release
// every handle; destruction is deferred until the last release.
type Environment struct {
	AppID   string
	Backend Backend
	Root    string
	Hash    string

	manager *Manager
	once    sync.Once
}

// Overlay returns the environment variable overlay that activates the
// environment for child processes. Activation never mutates shell state.
func (e *Environment) Overlay() map[string]string {
	binDir := filepath.Join(e.Root, "bin")
	return map[string]string{
		"VIRTUAL_ENV": e.Root,
		"PATH":        binDir + string(os.PathListSeparator) + os.Getenv("PATH"),
	}
}

// Release drops the handle. Idempotent.
func (e *Environment) Release() {
	e.once.Do(func() {
		e.manager.release(e.AppID)
	})
}

type envState struct {
	refs   int
	doomed bool
	root   string
}

// Manager creates, inspects, and destroys isolated environments.
type Manager struct {
	envsRoot string
	python   string
	conda    string
	logger   log.FieldLogger

	mu   sync.Mutex
	envs map[string]*envState
}

// NewManager creates an environment manager rooted at envsRoot.
func NewManager(envsRoot string, logger log.FieldLogger) *Manager {
	return &Manager{
		envsRoot: envsRoot,
		python:   "python3",
		conda:    "conda",
		logger:   logger.WithField("component", "env"),
		envs:     map[string]*envState{},
	}
}

// DepsHash produces the reproducibility hash of a dependency set. The hash
// is order-insensitive per manager.
func DepsHash(deps model.AppDeps) string {
	h := sha256.New()
	for _, group := range [][]string{deps.Pip, deps.Conda, deps.Npm, deps.System} {
		sorted := append([]string(nil), group...)
		sort.Strings(sorted)
		h.Write([]byte(strings.Join(sorted, "\n")))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Acquire returns a handle on the app's environment, creating it if absent.
// An existing environment whose recorded hash diverges from the dependency
// set is refused; callers must destroy and recreate.
func (m *Manager) Acquire(ctx context.Context, appID string, backend Backend, deps model.AppDeps) (*Environment, error) {
	root := filepath.Join(m.envsRoot, appID)
	wantHash := DepsHash(deps)
	logger := m.logger.WithField("app", appID)

	m.mu.Lock()
	state, exists := m.envs[appID]
	if exists && state.doomed {
		m.mu.Unlock()
		return nil, model.NewError(model.ErrConflict, "environment for %s is being destroyed", appID)
	}
	if !exists {
		state = &envState{root: root}
		m.envs[appID] = state
	}
	state.refs++
	m.mu.Unlock()

	created := false
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := m.create(ctx, root, backend, logger); err != nil {
			m.release(appID)
			return nil, err
		}
		if err := fsutil.WriteFileAtomic(filepath.Join(root, lockFileName), []byte(wantHash), 0644); err != nil {
			m.release(appID)
			return nil, err
		}
		created = true
	}

	if !created {
		recorded, err := os.ReadFile(filepath.Join(root, lockFileName))
		if err != nil {
			m.release(appID)
			return nil, model.WrapError(model.ErrCorrupt, err, "environment for %s has no lockfile", appID)
		}
		if string(recorded) != wantHash {
			m.release(appID)
			return nil, model.NewError(model.ErrPrecondition,
				"environment for %s was built for a different dependency set", appID)
		}
	}

	return &Environment{
		AppID:   appID,
		Backend: backend,
		Root:    root,
		Hash:    wantHash,
		manager: m,
	}, nil
}

func (m *Manager) create(ctx context.Context, root string, backend Backend, logger log.FieldLogger) error {
	logger.WithFields(log.Fields{"root": root, "backend": backend}).Info("Creating environment")

	var cmd *exec.Cmd
	switch backend {
	case BackendConda:
		cmd = exec.Command(m.conda, "create", "-y", "-p", root, "python")
	default:
		cmd = exec.Command(m.python, "-m", "venv", root)
	}

	_, err := exechelper.Run(ctx, cmd, &exechelper.Options{}, logger, nil)
	if err != nil {
		_ = fsutil.RemoveTree(root)
		return err
	}

	return nil
}

// Inspect reports whether an environment exists and matches the dependency
// set.
func (m *Manager) Inspect(appID string, deps model.AppDeps) (exists, matches bool) {
	root := filepath.Join(m.envsRoot, appID)
	recorded, err := os.ReadFile(filepath.Join(root, lockFileName))
	if err != nil {
		return false, false
	}
	return true, string(recorded) == DepsHash(deps)
}

// release drops one reference, destroying a doomed environment when the
// last reference is gone.
func (m *Manager) release(appID string) {
	m.mu.Lock()
	state, ok := m.envs[appID]
	if !ok {
		m.mu.Unlock()
		return
	}
	state.refs--
	destroy := state.doomed && state.refs <= 0
	if state.refs <= 0 {
		delete(m.envs, appID)
	}
	root := state.root
	m.mu.Unlock()

	if destroy {
		m.destroyNow(appID, root)
	}
}

// Destroy removes the app's environment. Destruction is safe under
// concurrent use: with live handles it is deferred to the last release.
func (m *Manager) Destroy(appID string) error {
	root := filepath.Join(m.envsRoot, appID)

	m.mu.Lock()
	state, ok := m.envs[appID]
	if ok && state.refs > 0 {
		state.doomed = true
		m.mu.Unlock()
		m.logger.WithField("app", appID).Debug("Environment destroy deferred until last release")
		return nil
	}
	delete(m.envs, appID)
	m.mu.Unlock()

	m.destroyNow(appID, root)
	return nil
}

func (m *Manager) destroyNow(appID, root string) {
	if err := fsutil.RemoveTree(root); err != nil {
		m.logger.WithError(err).WithField("app", appID).Error("Failed to remove environment")
		return
	}
	m.logger.WithField("app", appID).Info("Destroyed environment")
}
