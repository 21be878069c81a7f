// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package controller coordinates app lifecycle across the install engine,
// process supervisor, health monitor, and tunnel manager. Cross-component
// work always flows through each component's own API.
package controller

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/appstate"
	"github.com/pinokiocloud/pinokio-cloud/internal/cache"
	"github.com/pinokiocloud/pinokio-cloud/internal/catalog"
	"github.com/pinokiocloud/pinokio-cloud/internal/env"
	"github.com/pinokiocloud/pinokio-cloud/internal/exechelper"
	"github.com/pinokiocloud/pinokio-cloud/internal/health"
	"github.com/pinokiocloud/pinokio-cloud/internal/install"
	"github.com/pinokiocloud/pinokio-cloud/internal/supervisor"
	"github.com/pinokiocloud/pinokio-cloud/internal/tunnel"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// runningApp tracks the resources the controller holds for a started app.
type runningApp struct {
	processID   string
	environment *env.Environment
	tunnelID    string
	port        int
}

// Controller drives app start and stop and backs the recovery and
// optimization hook surfaces.
type Controller struct {
	logger   log.FieldLogger
	platform *model.Platform
	engine   *install.Engine
	analyzer *catalog.Analyzer
	cat      *catalog.Catalog
	states   *appstate.Store
	procs    *supervisor.ProcessSupervisor
	monitor  *health.Monitor
	tunnels  *tunnel.Manager
	caches   *cache.Manager
	envs     *env.Manager
	logsDir  string

	mu      sync.Mutex
	running map[string]*runningApp
}

// New creates a controller.
func New(
	platform *model.Platform,
	engine *install.Engine,
	analyzer *catalog.Analyzer,
	cat *catalog.Catalog,
	states *appstate.Store,
	procs *supervisor.ProcessSupervisor,
	monitor *health.Monitor,
	tunnels *tunnel.Manager,
	caches *cache.Manager,
	envs *env.Manager,
	logsDir string,
	logger log.FieldLogger,
) *Controller {
	return &Controller{
		logger:   logger.WithField("component", "controller"),
		platform: platform,
		engine:   engine,
		analyzer: analyzer,
		cat:      cat,
		states:   states,
		procs:    procs,
		monitor:  monitor,
		tunnels:  tunnels,
		caches:   caches,
		envs:     envs,
		logsDir:  logsDir,
		running:  map[string]*runningApp{},
	}
}

// runCommand picks the app's launch command from its conventional entry
// points.
func (c *Controller) runCommand(appID string) ([]string, error) {
	appDir := c.engine.AppDir(appID)
	candidates := []struct {
		file    string
		cmdline []string
	}{
		{"start.sh", []string{"bash", filepath.Join(appDir, "start.sh")}},
		{"app.py", []string{"python", filepath.Join(appDir, "app.py")}},
		{"main.py", []string{"python", filepath.Join(appDir, "main.py")}},
		{"webui.py", []string{"python", filepath.Join(appDir, "webui.py")}},
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(filepath.Join(appDir, candidate.file)); err == nil {
			return candidate.cmdline, nil
		}
	}

	return nil, model.NewError(model.ErrPrecondition, "app %s has no recognized entry point", appID)
}

// StartApp launches an installed app, registers health monitoring, and
// optionally opens a tunnel.
func (c *Controller) StartApp(ctx context.Context, appID string, req *model.StartAppRequest) error {
	record, err := c.states.Get(appID)
	if err != nil {
		return err
	}
	if record.Status != model.AppStateInstalled {
		if model.AppStateIsRunning(record.Status) {
			return model.NewError(model.ErrConflict, "app %s is already running", appID)
		}
		return model.NewError(model.ErrPrecondition, "app %s is %s, not installed", appID, record.Status)
	}

	profile, err := c.analyzer.Analyze(appID, c.engine.AppDir(appID), c.cat.Get(appID))
	if err != nil {
		return err
	}

	cmdline, err := c.runCommand(appID)
	if err != nil {
		return err
	}

	if _, err = c.states.Transition(appID, model.AppStateStarting, nil); err != nil {
		return err
	}

	environment, err := c.envs.Acquire(ctx, appID, env.BackendVenv, profile.Deps)
	if err != nil {
		c.failStart(appID, err)
		return err
	}

	opts := model.StartOptions{
		WorkDir:   c.engine.AppDir(appID),
		Env:       environment.Overlay(),
		NeedsPort: profile.Port > 0 || profile.UIKind != model.UINone,
	}
	if req != nil {
		opts.Daemon = req.Daemon
	}

	processID, err := c.procs.Start(ctx, appID, cmdline, opts)
	if err != nil {
		environment.Release()
		c.failStart(appID, err)
		return err
	}

	process, err := c.procs.Get(processID)
	if err != nil {
		environment.Release()
		c.failStart(appID, err)
		return err
	}
	port := 0
	if len(process.PortsOwned) > 0 {
		port = process.PortsOwned[0]
	}

	running := &runningApp{processID: processID, environment: environment, port: port}

	// Health monitoring starts before the tunnel so a bad app is caught
	// even when tunneling fails.
	logPath := filepath.Join(c.logsDir, appID, "app.log")
	restartCap := 3
	autoRestart := true
	if req != nil && req.Daemon != nil {
		restartCap = req.Daemon.MaxRestarts
		autoRestart = req.Daemon.RestartPolicy != model.RestartNever
	}
	c.monitor.Register(appID, health.DefaultChecks(profile, port, logPath), restartCap, autoRestart)

	wantTunnel := profile.NeedsTunnel && profile.ShareDefault
	if req != nil && req.Tunnel {
		wantTunnel = true
	}
	if wantTunnel && port > 0 {
		opened, tunnelErr := c.tunnels.Open(ctx, model.ProviderCloudflare, port, model.TunnelOptions{AppID: appID})
		if tunnelErr != nil {
			c.logger.WithError(tunnelErr).WithField("app", appID).Warn("Failed to open tunnel; app stays local")
		} else {
			running.tunnelID = opened.ID
		}
	}

	c.mu.Lock()
	c.running[appID] = running
	c.mu.Unlock()

	if _, err = c.states.Transition(appID, model.AppStateRunning, func(r *model.StateRecord) {
		r.LastRunAt = model.GetMillis()
	}); err != nil {
		return err
	}

	c.logger.WithFields(log.Fields{"app": appID, "process": processID, "port": port}).Info("Started app")
	return nil
}

func (c *Controller) failStart(appID string, cause error) {
	if _, err := c.states.Transition(appID, model.AppStateFailed, func(r *model.StateRecord) {
		r.Failure = &model.StateFailure{Kind: model.ErrorKind(cause), Message: cause.Error()}
	}); err != nil {
		c.logger.WithError(err).WithField("app", appID).Error("Failed to record start failure")
	}
}

// StopApp stops a running app and releases every resource it held.
func (c *Controller) StopApp(appID string, req *model.StopAppRequest) error {
	record, err := c.states.Get(appID)
	if err != nil {
		return err
	}
	if !model.AppStateIsRunning(record.Status) {
		return model.NewError(model.ErrPrecondition, "app %s is not running", appID)
	}

	if _, err = c.states.Transition(appID, model.AppStateStopping, nil); err != nil {
		return err
	}

	c.monitor.Unregister(appID)

	c.mu.Lock()
	running := c.running[appID]
	delete(c.running, appID)
	c.mu.Unlock()

	stopOpts := model.StopOptions{Grace: 10 * time.Second, ForceAfter: 5 * time.Second}
	if req != nil {
		if req.GraceSeconds > 0 {
			stopOpts.Grace = time.Duration(req.GraceSeconds) * time.Second
		}
		if req.ForceAfterSeconds > 0 {
			stopOpts.ForceAfter = time.Duration(req.ForceAfterSeconds) * time.Second
		}
	}

	if running != nil {
		if running.tunnelID != "" {
			_ = c.tunnels.Close(running.tunnelID)
		}
		if err = c.procs.Stop(running.processID, stopOpts); err != nil && !model.IsKind(err, model.ErrNotFound) {
			c.logger.WithError(err).WithField("app", appID).Warn("Failed to stop app process")
		}
		if running.environment != nil {
			running.environment.Release()
		}
	} else if process := c.procs.GetByApp(appID); process != nil {
		if err = c.procs.Stop(process.ID, stopOpts); err != nil {
			c.logger.WithError(err).WithField("app", appID).Warn("Failed to stop app process")
		}
	}

	if _, err = c.states.Transition(appID, model.AppStateInstalled, nil); err != nil {
		return err
	}

	c.logger.WithField("app", appID).Info("Stopped app")
	return nil
}

// MarkDegraded transitions a running app to degraded; called when its
// process is lost or health declines.
func (c *Controller) MarkDegraded(appID string) {
	record, err := c.states.Get(appID)
	if err != nil || record.Status != model.AppStateRunning {
		return
	}
	if _, err = c.states.Transition(appID, model.AppStateDegraded, nil); err != nil {
		c.logger.WithError(err).WithField("app", appID).Warn("Failed to mark app degraded")
	}
}

// MarkRecovered transitions a degraded app back to running.
func (c *Controller) MarkRecovered(appID string) {
	record, err := c.states.Get(appID)
	if err != nil || record.Status != model.AppStateDegraded {
		return
	}
	if _, err = c.states.Transition(appID, model.AppStateRunning, nil); err != nil {
		c.logger.WithError(err).WithField("app", appID).Warn("Failed to mark app recovered")
	}
}

// RestartApp implements the recovery action surface.
func (c *Controller) RestartApp(appID string) error {
	process := c.procs.GetByApp(appID)
	if process == nil {
		return model.NewError(model.ErrNotFound, "app %s has no live process", appID)
	}

	newID, err := c.procs.Restart(process.ID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if running, ok := c.running[appID]; ok {
		running.processID = newID
	}
	c.mu.Unlock()

	return nil
}

// ReinstallDependencies implements the recovery action surface.
func (c *Controller) ReinstallDependencies(ctx context.Context, appID string) error {
	return c.engine.Install(ctx, appID, nil, model.StrategyUseLatest)
}

// ResetEnvironment implements the recovery action surface.
func (c *Controller) ResetEnvironment(appID string) error {
	return c.envs.Destroy(appID)
}

// ClearCache implements the recovery action and optimizer surfaces.
func (c *Controller) ClearCache() error {
	return c.caches.Cleanup()
}

// CleanupCache implements the optimizer surface.
func (c *Controller) CleanupCache() error {
	return c.caches.Cleanup()
}

// TrimIdleProcesses implements the optimizer surface.
func (c *Controller) TrimIdleProcesses() int {
	return c.procs.TrimIdle()
}

// OptimizePlatform applies platform-specific advisory actions.
func (c *Controller) OptimizePlatform() error {
	// Colab hosts reclaim page cache aggressively; elsewhere there is no
	// safe generic action.
	if c.platform.Kind != model.PlatformColab {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.Command("sync")
	_, err := exechelper.Run(ctx, cmd, &exechelper.Options{}, c.logger, nil)
	return err
}

// RestartTunnels implements the recovery action surface: every non-closed
// tunnel is reopened on its recorded provider and port.
func (c *Controller) RestartTunnels() {
	for _, record := range c.tunnels.List() {
		if record.Status != model.TunnelActive && record.Status != model.TunnelDegraded {
			continue
		}
		_ = c.tunnels.Close(record.ID)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		opened, err := c.tunnels.Open(ctx, record.Provider, record.LocalPort, model.TunnelOptions{AppID: record.AppID})
		cancel()
		if err != nil {
			c.logger.WithError(err).WithField("tunnel", record.ID).Warn("Failed to reopen tunnel")
			continue
		}

		c.mu.Lock()
		for appID, running := range c.running {
			if running.tunnelID == record.ID {
				c.running[appID].tunnelID = opened.ID
			}
		}
		c.mu.Unlock()
	}
}

// FixPermissions implements the recovery action surface by restoring owner
// write permission over the app tree.
func (c *Controller) FixPermissions(appID string) error {
	appDir := c.engine.AppDir(appID)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cmd := exec.Command("chmod", "-R", "u+rwX", appDir)
	_, err := exechelper.Run(ctx, cmd, &exechelper.Options{}, c.logger, nil)
	return err
}

// IncreaseMemory implements the recovery action surface. On a single host
// the only lever is freeing cache memory.
func (c *Controller) IncreaseMemory() error {
	return c.caches.Cleanup()
}

// WatchProcessEvents keeps app states aligned with supervisor reality: a
// lost process degrades its app within one health tick.
func (c *Controller) WatchProcessEvents() func() {
	sub := c.procs.Watch()
	go func() {
		for event := range sub.Events() {
			processEvent, ok := event.(*model.ProcessEvent)
			if !ok {
				continue
			}
			switch processEvent.Type {
			case model.ProcessEventLost:
				c.MarkDegraded(processEvent.AppID)
			case model.ProcessEventExited:
				// An exit the controller did not request degrades the app.
				c.MarkDegraded(processEvent.AppID)
			}
		}
	}()
	return sub.Cancel
}

// RunningPort reports the port a running app owns, or zero.
func (c *Controller) RunningPort(appID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if running, ok := c.running[appID]; ok {
		return running.port
	}
	return 0
}

// Shutdown stops all running apps.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	apps := make([]string, 0, len(c.running))
	for appID := range c.running {
		apps = append(apps, appID)
	}
	c.mu.Unlock()

	for _, appID := range apps {
		if err := c.StopApp(appID, nil); err != nil {
			c.logger.WithError(err).WithField("app", appID).Warn("Failed to stop app at shutdown")
		}
	}
}
