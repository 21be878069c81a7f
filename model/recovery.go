// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import "time"

// ErrorCategory groups recovery patterns by the subsystem they concern.
type ErrorCategory string

const (
	CategoryDependency ErrorCategory = "dependency"
	CategoryProcess    ErrorCategory = "process"
	CategoryNetwork    ErrorCategory = "network"
	CategoryStorage    ErrorCategory = "storage"
	CategoryPermission ErrorCategory = "permission"
	CategoryConfig     ErrorCategory = "config"
	CategoryResource   ErrorCategory = "resource"
	CategoryPlatform   ErrorCategory = "platform"
)

// RecoveryActionKind enumerates the supported recovery actions. A shell
// action uses the form "shell:<cmd>".
type RecoveryActionKind string

const (
	ActionRestartApplication    RecoveryActionKind = "restart_application"
	ActionRestartDaemon         RecoveryActionKind = "restart_daemon"
	ActionClearCache            RecoveryActionKind = "clear_cache"
	ActionReinstallDependencies RecoveryActionKind = "reinstall_dependencies"
	ActionResetEnvironment      RecoveryActionKind = "reset_environment"
	ActionFixPermissions        RecoveryActionKind = "fix_permissions"
	ActionIncreaseMemory        RecoveryActionKind = "increase_memory"
	ActionRestartTunnels        RecoveryActionKind = "restart_tunnels"
	// ActionShellPrefix prefixes a raw shell command action.
	ActionShellPrefix = "shell:"
)

// ErrorPattern matches log lines or surfaced errors and names the actions
// that should repair the condition.
type ErrorPattern struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Category    ErrorCategory        `json:"category"`
	Severity    AlertSeverity        `json:"severity"`
	Regexes     []string             `json:"regexes,omitempty"`
	Keywords    []string             `json:"keywords,omitempty"`
	Actions     []RecoveryActionKind `json:"actions"`
	MaxAttempts int                  `json:"max_attempts"`
	Cooldown    time.Duration        `json:"cooldown"`
}

// RecoveryResult records one recovery attempt; results are persisted for 24h.
type RecoveryResult struct {
	ID        string             `json:"id"`
	PatternID string             `json:"pattern_id"`
	AppID     string             `json:"app_id,omitempty"`
	Action    RecoveryActionKind `json:"action"`
	Succeeded bool               `json:"succeeded"`
	Message   string             `json:"message,omitempty"`
	StartedAt int64              `json:"started_at"`
	ElapsedMS int64              `json:"elapsed_ms"`
}

// RecoveryStats summarizes recovery activity over the retained window.
type RecoveryStats struct {
	Total       int64                   `json:"total"`
	Succeeded   int64                   `json:"succeeded"`
	SuccessRate float64                 `json:"success_rate"`
	ByCategory  map[ErrorCategory]int64 `json:"by_category,omitempty"`
	BySeverity  map[AlertSeverity]int64 `json:"by_severity,omitempty"`
}
