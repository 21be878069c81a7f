// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package recovery matches error patterns against log lines and health
// events, then executes recovery actions through the owning components.
package recovery

import (
	"context"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/events"
	"github.com/pinokiocloud/pinokio-cloud/internal/exechelper"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// historyRetention is how long recovery results are kept.
const historyRetention = 24 * time.Hour

// Actions is the surface the engine may drive; every entry belongs to
// another component and is invoked through its API, never reentrantly.
type Actions interface {
	RestartApp(appID string) error
	ReinstallDependencies(ctx context.Context, appID string) error
	ResetEnvironment(appID string) error
	ClearCache() error
	RestartTunnels()
	FixPermissions(appID string) error
	IncreaseMemory() error
}

type resultStore interface {
	CreateRecoveryResult(result *model.RecoveryResult, category model.ErrorCategory, severity model.AlertSeverity) error
	GetRecoveryResults(since int64) ([]*model.RecoveryResult, error)
	GetRecoveryStats(since int64) (*model.RecoveryStats, error)
	PruneRecoveryResults(olderThan int64) (int64, error)
}

// compiled pairs a pattern with its compiled regexes and cooldown state.
type compiled struct {
	pattern  model.ErrorPattern
	regexes  []*regexp.Regexp
	lastFire map[string]time.Time
	attempts map[string]int
}

// Engine subscribes to log lines and health events and drives recovery.
type Engine struct {
	logger  log.FieldLogger
	broker  *events.Broker
	store   resultStore
	actions Actions

	mu       sync.Mutex
	patterns map[string]*compiled

	stop chan struct{}
	done chan struct{}
}

// NewEngine creates a recovery engine with the built-in pattern table.
func NewEngine(broker *events.Broker, store resultStore, actions Actions, logger log.FieldLogger) *Engine {
	e := &Engine{
		logger:   logger.WithField("component", "recovery"),
		broker:   broker,
		store:    store,
		actions:  actions,
		patterns: map[string]*compiled{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, pattern := range DefaultPatterns() {
		if err := e.AddPattern(pattern); err != nil {
			e.logger.WithError(err).WithField("pattern", pattern.ID).Error("Bad built-in pattern")
		}
	}

	return e
}

// Start begins consuming log lines and health events.
func (e *Engine) Start() {
	logs := e.broker.Subscribe(events.TopicLogLines, 512, events.DropOldest)
	health := e.broker.Subscribe(events.TopicHealthEvents, 64, events.Backpressure)

	go func() {
		defer close(e.done)
		defer logs.Cancel()
		defer health.Cancel()

		prune := time.NewTicker(time.Hour)
		defer prune.Stop()

		for {
			select {
			case event, ok := <-logs.Events():
				if !ok {
					return
				}
				if line, isLine := event.(*events.LogLine); isLine {
					e.handleLine(line.AppID, line.Line)
				}
			case event, ok := <-health.Events():
				if !ok {
					return
				}
				if healthEvent, isHealth := event.(*model.HealthEvent); isHealth {
					e.handleHealthEvent(healthEvent)
				}
			case <-prune.C:
				cutoff := model.GetMillisAtTime(time.Now().Add(-historyRetention))
				if _, err := e.store.PruneRecoveryResults(cutoff); err != nil {
					e.logger.WithError(err).Warn("Failed to prune recovery history")
				}
			case <-e.stop:
				return
			}
		}
	}()
}

// Shutdown stops the engine.
func (e *Engine) Shutdown() {
	close(e.stop)
	<-e.done
}

// AddPattern registers a pattern after compiling its regexes.
func (e *Engine) AddPattern(pattern model.ErrorPattern) error {
	if pattern.ID == "" {
		pattern.ID = model.NewID()
	}
	if pattern.MaxAttempts <= 0 {
		pattern.MaxAttempts = 3
	}

	c := &compiled{
		pattern:  pattern,
		lastFire: map[string]time.Time{},
		attempts: map[string]int{},
	}
	for _, expr := range pattern.Regexes {
		re, err := regexp.Compile(expr)
		if err != nil {
			return model.WrapError(model.ErrInvalidInput, err, "bad regex in pattern %s", pattern.ID)
		}
		c.regexes = append(c.regexes, re)
	}

	e.mu.Lock()
	e.patterns[pattern.ID] = c
	e.mu.Unlock()

	return nil
}

// RemovePattern drops a pattern; removing an unknown id reports not found.
func (e *Engine) RemovePattern(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.patterns[id]; !ok {
		return model.NewError(model.ErrNotFound, "pattern %s not found", id)
	}
	delete(e.patterns, id)
	return nil
}

// Patterns lists the registered patterns.
func (e *Engine) Patterns() []*model.ErrorPattern {
	e.mu.Lock()
	defer e.mu.Unlock()

	patterns := make([]*model.ErrorPattern, 0, len(e.patterns))
	for _, c := range e.patterns {
		pattern := c.pattern
		patterns = append(patterns, &pattern)
	}
	return patterns
}

// History returns the retained recovery results.
func (e *Engine) History() ([]*model.RecoveryResult, error) {
	cutoff := model.GetMillisAtTime(time.Now().Add(-historyRetention))
	return e.store.GetRecoveryResults(cutoff)
}

// Stats summarizes the retained window.
func (e *Engine) Stats() (*model.RecoveryStats, error) {
	cutoff := model.GetMillisAtTime(time.Now().Add(-historyRetention))
	return e.store.GetRecoveryStats(cutoff)
}

// HandleError feeds a surfaced component error into pattern matching.
func (e *Engine) HandleError(appID string, err error) {
	if err == nil {
		return
	}
	e.handleLine(appID, err.Error())
}

// handleLine matches one line against every pattern.
func (e *Engine) handleLine(appID, line string) {
	e.mu.Lock()
	var matched []*compiled
	for _, c := range e.patterns {
		if e.matches(c, line) && e.mayFire(c, appID) {
			matched = append(matched, c)
		}
	}
	e.mu.Unlock()

	for _, c := range matched {
		go e.recover(c, appID, line)
	}
}

func (e *Engine) handleHealthEvent(event *model.HealthEvent) {
	if event.Type != model.HealthEventAppUnhealthy {
		return
	}
	e.handleLine(event.AppID, "app unhealthy: "+event.AppID)
}

func (e *Engine) matches(c *compiled, line string) bool {
	for _, re := range c.regexes {
		if re.MatchString(line) {
			return true
		}
	}
	lower := strings.ToLower(line)
	for _, keyword := range c.pattern.Keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

// mayFire enforces the per-pattern cooldown and attempt budget. Callers
// hold mu.
func (e *Engine) mayFire(c *compiled, appID string) bool {
	now := time.Now()
	if last, ok := c.lastFire[appID]; ok && now.Sub(last) < c.pattern.Cooldown {
		return false
	}
	if c.attempts[appID] >= c.pattern.MaxAttempts {
		return false
	}
	c.lastFire[appID] = now
	c.attempts[appID]++
	return true
}

// recover executes the pattern's actions in order until one succeeds.
func (e *Engine) recover(c *compiled, appID, trigger string) {
	logger := e.logger.WithFields(log.Fields{"pattern": c.pattern.ID, "app": appID})
	logger.WithField("trigger", truncate(trigger, 200)).Warn("Recovery pattern matched")

	for _, action := range c.pattern.Actions {
		start := time.Now()
		err := e.execute(action, appID)

		result := &model.RecoveryResult{
			PatternID: c.pattern.ID,
			AppID:     appID,
			Action:    action,
			Succeeded: err == nil,
			StartedAt: model.GetMillisAtTime(start),
			ElapsedMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Message = err.Error()
		}
		if storeErr := e.store.CreateRecoveryResult(result, c.pattern.Category, c.pattern.Severity); storeErr != nil {
			logger.WithError(storeErr).Warn("Failed to persist recovery result")
		}

		if err == nil {
			logger.WithField("action", action).Info("Recovery action succeeded")
			return
		}
		logger.WithError(err).WithField("action", action).Warn("Recovery action failed; trying next")
	}
}

func (e *Engine) execute(action model.RecoveryActionKind, appID string) error {
	if strings.HasPrefix(string(action), model.ActionShellPrefix) {
		command := strings.TrimPrefix(string(action), model.ActionShellPrefix)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cmd := exec.Command("sh", "-c", command)
		_, err := exechelper.Run(ctx, cmd, &exechelper.Options{}, e.logger, nil)
		return err
	}

	switch action {
	case model.ActionRestartApplication, model.ActionRestartDaemon:
		return e.actions.RestartApp(appID)
	case model.ActionClearCache:
		return e.actions.ClearCache()
	case model.ActionReinstallDependencies:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		return e.actions.ReinstallDependencies(ctx, appID)
	case model.ActionResetEnvironment:
		return e.actions.ResetEnvironment(appID)
	case model.ActionFixPermissions:
		return e.actions.FixPermissions(appID)
	case model.ActionIncreaseMemory:
		return e.actions.IncreaseMemory()
	case model.ActionRestartTunnels:
		e.actions.RestartTunnels()
		return nil
	default:
		return model.NewError(model.ErrUnsupported, "unknown recovery action %s", action)
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
