// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package deps

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func testResolver() *Resolver {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	return NewResolver(logger)
}

func TestSeverityLadder(t *testing.T) {
	testCases := []struct {
		pkg      string
		severity model.AlertSeverity
	}{
		{"python", model.SeverityCritical},
		{"pip", model.SeverityCritical},
		{"conda", model.SeverityCritical},
		{"torch==2.0", model.SeverityHigh},
		{"numpy>=1.24", model.SeverityHigh},
		{"tensorflow", model.SeverityHigh},
		{"transformers==4.30", model.SeverityMedium},
		{"opencv-python", model.SeverityMedium},
		{"requests", model.SeverityLow},
	}

	for _, tc := range testCases {
		t.Run(tc.pkg, func(t *testing.T) {
			assert.Equal(t, tc.severity, Severity(tc.pkg))
		})
	}
}

func TestVersionConflictUseLatest(t *testing.T) {
	deps := model.AppDeps{Pip: []string{"torch==1.9", "torch==2.0"}}
	resolver := testResolver()

	report := resolver.Resolve(deps, model.StrategyUseLatest)

	require.Len(t, report.Found, 1)
	conflict := report.Found[0]
	assert.Equal(t, model.ConflictVersion, conflict.Kind)
	assert.Equal(t, "torch", conflict.Package)
	assert.Equal(t, model.SeverityHigh, conflict.Severity)

	require.Len(t, report.Resolved, 1)
	assert.Equal(t, "2.0", report.Resolved[0].Chosen)
	assert.Empty(t, report.Remaining)
	assert.True(t, report.Elapsed >= 0)
}

func TestVersionConflictManualLeavesRemaining(t *testing.T) {
	deps := model.AppDeps{Pip: []string{"torch==1.9", "torch==2.0"}}
	resolver := testResolver()

	report := resolver.Resolve(deps, model.StrategyManual)

	require.Len(t, report.Found, 1)
	assert.Empty(t, report.Resolved)
	require.Len(t, report.Remaining, 1)
	assert.Equal(t, "torch", report.Remaining[0].Package)
}

func TestCriticalConflictNeverAutoResolved(t *testing.T) {
	deps := model.AppDeps{
		Pip:   []string{"python==3.10"},
		Conda: []string{"python=3.11"},
	}
	resolver := testResolver()

	report := resolver.Resolve(deps, model.StrategyUseLatest)

	require.NotEmpty(t, report.Found)
	assert.Empty(t, report.Resolved)
	require.NotEmpty(t, report.Remaining)
	assert.Equal(t, model.SeverityCritical, report.Remaining[0].Severity)
}

func TestManagerConflict(t *testing.T) {
	deps := model.AppDeps{
		Pip:   []string{"opencv-python==4.8"},
		Conda: []string{"opencv-python"},
	}
	resolver := testResolver()

	found := resolver.Detect(deps)

	var managerConflicts int
	for _, conflict := range found {
		if conflict.Kind == model.ConflictManager {
			managerConflicts++
			assert.Equal(t, "opencv-python", conflict.Package)
		}
	}
	assert.Equal(t, 1, managerConflicts)
}

func TestSystemConflict(t *testing.T) {
	deps := model.AppDeps{System: []string{"cuda-11", "cuda-12"}}
	resolver := testResolver()

	found := resolver.Detect(deps)

	require.Len(t, found, 1)
	assert.Equal(t, model.ConflictSystem, found[0].Kind)
	assert.Equal(t, model.SeverityHigh, found[0].Severity)
}

func TestDependencyConflict(t *testing.T) {
	deps := model.AppDeps{Pip: []string{"tensorflow", "tensorflow-gpu"}}
	resolver := testResolver()

	found := resolver.Detect(deps)

	var depConflicts int
	for _, conflict := range found {
		if conflict.Kind == model.ConflictDependency {
			depConflicts++
		}
	}
	assert.Equal(t, 1, depConflicts)
}

func TestNoConflicts(t *testing.T) {
	deps := model.AppDeps{Pip: []string{"torch==2.0", "numpy>=1.24"}}
	resolver := testResolver()

	report := resolver.Resolve(deps, model.StrategyUseLatest)

	assert.Empty(t, report.Found)
	assert.Empty(t, report.Resolved)
	assert.Empty(t, report.Remaining)
}
