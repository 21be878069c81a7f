// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package recovery

import (
	"time"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// DefaultPatterns is the built-in recovery pattern table, matched against
// process log lines and surfaced errors.
func DefaultPatterns() []model.ErrorPattern {
	return []model.ErrorPattern{
		{
			ID:       "oom",
			Name:     "out of memory",
			Category: model.CategoryResource,
			Severity: model.SeverityCritical,
			Regexes:  []string{`(?i)out of memory`, `(?i)cuda out of memory`, `Killed`},
			Actions: []model.RecoveryActionKind{
				model.ActionClearCache,
				model.ActionIncreaseMemory,
				model.ActionRestartApplication,
			},
			MaxAttempts: 3,
			Cooldown:    2 * time.Minute,
		},
		{
			ID:       "module-missing",
			Name:     "missing python module",
			Category: model.CategoryDependency,
			Severity: model.SeverityHigh,
			Regexes:  []string{`ModuleNotFoundError`, `ImportError: No module named`},
			Actions: []model.RecoveryActionKind{
				model.ActionReinstallDependencies,
				model.ActionResetEnvironment,
			},
			MaxAttempts: 2,
			Cooldown:    5 * time.Minute,
		},
		{
			ID:       "port-in-use",
			Name:     "port already in use",
			Category: model.CategoryNetwork,
			Severity: model.SeverityMedium,
			Regexes:  []string{`(?i)address already in use`, `(?i)port.*in use`},
			Actions: []model.RecoveryActionKind{
				model.ActionRestartApplication,
			},
			MaxAttempts: 3,
			Cooldown:    time.Minute,
		},
		{
			ID:       "permission-denied",
			Name:     "permission denied",
			Category: model.CategoryPermission,
			Severity: model.SeverityMedium,
			Regexes:  []string{`(?i)permission denied`, `EACCES`},
			Actions: []model.RecoveryActionKind{
				model.ActionFixPermissions,
			},
			MaxAttempts: 2,
			Cooldown:    5 * time.Minute,
		},
		{
			ID:       "disk-full",
			Name:     "no space left on device",
			Category: model.CategoryStorage,
			Severity: model.SeverityCritical,
			Regexes:  []string{`(?i)no space left on device`, `ENOSPC`},
			Actions: []model.RecoveryActionKind{
				model.ActionClearCache,
			},
			MaxAttempts: 2,
			Cooldown:    10 * time.Minute,
		},
		{
			ID:       "tunnel-down",
			Name:     "tunnel disconnected",
			Category: model.CategoryNetwork,
			Severity: model.SeverityMedium,
			Keywords: []string{"tunnel session closed", "reconnect failed", "ERR_NGROK"},
			Actions: []model.RecoveryActionKind{
				model.ActionRestartTunnels,
			},
			MaxAttempts: 3,
			Cooldown:    2 * time.Minute,
		},
	}
}
