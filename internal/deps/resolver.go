// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package deps detects and resolves cross-ecosystem dependency conflicts
// before the install engine materializes an environment.
package deps

import (
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// hostilePairs is the maintained denylist of packages known hostile when
// co-installed across managers.
var hostilePairs = map[string]string{
	"opencv-python":          "opencv",
	"opencv-python-headless": "opencv",
	"pillow":                 "pil",
}

// exclusiveSystemPackages is the maintained table of mutually exclusive
// system packages.
var exclusiveSystemPackages = [][2]string{
	{"cuda-11", "cuda-12"},
	{"python3.10", "python3.11"},
	{"ffmpeg4", "ffmpeg5"},
	{"gcc-11", "gcc-12"},
}

// antagonisticPairs is the maintained table of package pairs that break each
// other regardless of manager.
var antagonisticPairs = [][2]string{
	{"tensorflow", "tensorflow-gpu"},
	{"torch", "paddlepaddle-gpu"},
	{"jax", "tensorflow-gpu"},
}

// mediumTierSubstrings classify a package as medium severity.
var mediumTierSubstrings = []string{
	"transformers", "diffusers", "gradio", "streamlit", "opencv", "scipy", "cuda",
}

// Severity returns the conflict severity for a package per the ladder:
// runtime managers are critical, core ML stacks high, known-tier substrings
// medium, everything else low.
func Severity(pkg string) model.AlertSeverity {
	name := strings.ToLower(basePackageName(pkg))

	switch name {
	case "python", "node", "npm", "pip", "conda":
		return model.SeverityCritical
	case "torch", "tensorflow", "numpy", "pandas":
		return model.SeverityHigh
	}

	for _, substr := range mediumTierSubstrings {
		if strings.Contains(name, substr) {
			return model.SeverityMedium
		}
	}

	return model.SeverityLow
}

// Resolver detects dependency conflicts and applies resolution strategies.
type Resolver struct {
	logger log.FieldLogger
}

// NewResolver creates a dependency resolver.
func NewResolver(logger log.FieldLogger) *Resolver {
	return &Resolver{logger: logger.WithField("component", "deps")}
}

// spec is one parsed dependency declaration.
type spec struct {
	manager string
	name    string
	version string
	raw     string
}

// basePackageName strips version pins and extras from a declaration.
func basePackageName(raw string) string {
	name := raw
	for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<", "@", "="} {
		if idx := strings.Index(name, sep); idx >= 0 {
			name = name[:idx]
		}
	}
	if idx := strings.Index(name, "["); idx >= 0 {
		name = name[:idx]
	}
	return strings.TrimSpace(name)
}

func pinnedVersion(raw string) string {
	for _, sep := range []string{"==", "@", "="} {
		if idx := strings.Index(raw, sep); idx >= 0 {
			return strings.TrimSpace(raw[idx+len(sep):])
		}
	}
	return ""
}

func parseSpecs(deps model.AppDeps) []spec {
	var specs []spec
	add := func(manager string, raws []string) {
		for _, raw := range raws {
			specs = append(specs, spec{
				manager: manager,
				name:    strings.ToLower(basePackageName(raw)),
				version: pinnedVersion(raw),
				raw:     raw,
			})
		}
	}
	add("pip", deps.Pip)
	add("conda", deps.Conda)
	add("npm", deps.Npm)
	add("system", deps.System)
	return specs
}

// Detect finds all conflicts in the dependency set.
func (r *Resolver) Detect(deps model.AppDeps) []model.DepConflict {
	specs := parseSpecs(deps)
	var conflicts []model.DepConflict

	// Version conflicts: same logical package pinned differently anywhere.
	byName := map[string][]spec{}
	for _, s := range specs {
		byName[s.name] = append(byName[s.name], s)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		group := byName[name]
		versions := map[string]bool{}
		managers := map[string]bool{}
		for _, s := range group {
			if s.version != "" {
				versions[s.version] = true
			}
			managers[s.manager] = true
		}
		if len(versions) > 1 {
			conflicts = append(conflicts, model.DepConflict{
				Kind:     model.ConflictVersion,
				Package:  name,
				Managers: sortedKeys(managers),
				Versions: sortedKeys(versions),
				Severity: Severity(name),
				Detail:   "pinned to different versions",
			})
		}

		// Manager conflicts: hostile when the same logical package comes
		// from more than one manager.
		if alias, hostile := hostilePairs[name]; hostile && len(managers) > 1 {
			conflicts = append(conflicts, model.DepConflict{
				Kind:     model.ConflictManager,
				Package:  name,
				Managers: sortedKeys(managers),
				Severity: Severity(name),
				Detail:   "known hostile across managers (" + alias + ")",
			})
		}
	}

	// System conflicts: mutually exclusive system packages.
	systemSet := map[string]bool{}
	for _, s := range specs {
		if s.manager == "system" {
			systemSet[s.name] = true
		}
	}
	for _, pair := range exclusiveSystemPackages {
		if systemSet[pair[0]] && systemSet[pair[1]] {
			conflicts = append(conflicts, model.DepConflict{
				Kind:     model.ConflictSystem,
				Package:  pair[0] + "+" + pair[1],
				Managers: []string{"system"},
				Severity: model.SeverityHigh,
				Detail:   "mutually exclusive system packages",
			})
		}
	}

	// Dependency conflicts: antagonistic pairs anywhere in the set.
	allSet := map[string]bool{}
	for _, s := range specs {
		allSet[s.name] = true
	}
	for _, pair := range antagonisticPairs {
		if allSet[pair[0]] && allSet[pair[1]] {
			severity := Severity(pair[0])
			if s1 := Severity(pair[1]); s1.AtLeast(severity) {
				severity = s1
			}
			conflicts = append(conflicts, model.DepConflict{
				Kind:     model.ConflictDependency,
				Package:  pair[0] + "+" + pair[1],
				Severity: severity,
				Detail:   "known antagonistic pair",
			})
		}
	}

	return conflicts
}

// Resolve detects conflicts and applies the given strategy to each. Critical
// conflicts are never auto-resolved; they remain for operator action. The
// resolver never mutates the dependency set without logging the intended
// action first.
func (r *Resolver) Resolve(deps model.AppDeps, strategy model.ResolutionStrategy) *model.DepReport {
	start := time.Now()
	found := r.Detect(deps)

	report := &model.DepReport{Found: found}
	for _, conflict := range found {
		if conflict.Severity == model.SeverityCritical || strategy == model.StrategyManual {
			report.Remaining = append(report.Remaining, conflict)
			continue
		}

		resolution, ok := r.resolveOne(conflict, strategy)
		if !ok {
			report.Remaining = append(report.Remaining, conflict)
			continue
		}

		r.logger.WithFields(log.Fields{
			"package":  conflict.Package,
			"kind":     conflict.Kind,
			"strategy": strategy,
			"action":   resolution.Action,
		}).Info("Resolving dependency conflict")
		report.Resolved = append(report.Resolved, resolution)
	}

	report.Elapsed = time.Since(start)
	return report
}

func (r *Resolver) resolveOne(conflict model.DepConflict, strategy model.ResolutionStrategy) (model.DepResolution, bool) {
	resolution := model.DepResolution{Conflict: conflict, Strategy: strategy}

	switch strategy {
	case model.StrategyUseLatest:
		if conflict.Kind != model.ConflictVersion || len(conflict.Versions) == 0 {
			return resolution, false
		}
		resolution.Chosen = latestVersion(conflict.Versions)
		resolution.Action = "pin " + conflict.Package + " to " + resolution.Chosen

	case model.StrategyUseSpecific:
		if conflict.Kind != model.ConflictVersion || len(conflict.Versions) == 0 {
			return resolution, false
		}
		sorted := append([]string(nil), conflict.Versions...)
		sort.Strings(sorted)
		resolution.Chosen = sorted[0]
		resolution.Action = "pin " + conflict.Package + " to " + resolution.Chosen

	case model.StrategyPrioritizePip, model.StrategyPrioritizeConda, model.StrategyPrioritizeNpm:
		manager := strings.TrimPrefix(string(strategy), "prioritize_")
		keep := false
		for _, m := range conflict.Managers {
			if m == manager {
				keep = true
			}
		}
		if !keep {
			return resolution, false
		}
		resolution.Chosen = manager
		resolution.Action = "keep " + conflict.Package + " from " + manager + ", drop others"

	case model.StrategySkipConflicting:
		resolution.Action = "skip " + conflict.Package

	default:
		return resolution, false
	}

	return resolution, true
}

// latestVersion picks the numerically greatest version from the set; a loose
// comparison is enough for pins like 1.9 vs 2.0.
func latestVersion(versions []string) string {
	best := versions[0]
	for _, candidate := range versions[1:] {
		if compareVersions(candidate, best) > 0 {
			best = candidate
		}
	}
	return best
}

func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, bn := numericPrefix(as[i]), numericPrefix(bs[i])
		if an != bn {
			if an < bn {
				return -1
			}
			return 1
		}
	}
	return len(as) - len(bs)
}

func numericPrefix(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
