// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package catalog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/internal/fsutil"
	"github.com/pinokiocloud/pinokio-cloud/model"
)

// maxScanBytes bounds how much of any one source file the analyzer reads.
const maxScanBytes = 256 * 1024

// installerSignatures maps filename patterns to installer kinds, checked in
// order; the first match wins.
var installerSignatures = []struct {
	file string
	kind model.InstallerKind
}{
	{"install.js", model.InstallerJS},
	{"pinokio.js", model.InstallerJS},
	{"install.json", model.InstallerJSON},
	{"pinokio.json", model.InstallerJSON},
	{"requirements.txt", model.InstallerRequirements},
	{"environment.yml", model.InstallerEnvironment},
	{"environment.yaml", model.InstallerEnvironment},
	{"install.sh", model.InstallerScript},
	{"setup.sh", model.InstallerScript},
}

// uiSignal is one weighted hint that an app exposes a given UI framework.
type uiSignal struct {
	kind   model.UIKind
	needle string
	weight float64
}

var uiSignals = []uiSignal{
	{model.UIGradio, "import gradio", 0.6},
	{model.UIGradio, "from gradio", 0.6},
	{model.UIGradio, "gr.Interface", 0.5},
	{model.UIGradio, "gr.Blocks", 0.5},
	{model.UIStreamlit, "import streamlit", 0.6},
	{model.UIStreamlit, "from streamlit", 0.6},
	{model.UIStreamlit, "st.title", 0.3},
	{model.UIFlask, "from flask import", 0.6},
	{model.UIFlask, "Flask(__name__)", 0.5},
	{model.UIFastAPI, "from fastapi import", 0.6},
	{model.UIFastAPI, "FastAPI()", 0.5},
	{model.UIDjango, "django.setup", 0.6},
	{model.UIDjango, "DJANGO_SETTINGS_MODULE", 0.5},
	{model.UITornado, "import tornado", 0.6},
	{model.UIDash, "import dash", 0.6},
	{model.UIDash, "dash.Dash", 0.5},
	{model.UIJupyter, "jupyter_server", 0.5},
	{model.UIJupyter, ".ipynb", 0.2},
}

// uiDefaults carries the conventional port and share default per framework.
var uiDefaults = map[model.UIKind]struct {
	port  int
	share bool
}{
	model.UIGradio:    {7860, true},
	model.UIStreamlit: {8501, false},
	model.UIFlask:     {5000, false},
	model.UIFastAPI:   {8000, false},
	model.UIDjango:    {8000, false},
	model.UITornado:   {8888, false},
	model.UIDash:      {8050, false},
	model.UIJupyter:   {8888, false},
}

var categoryKeywords = map[model.AppCategory][]string{
	model.CategoryImage: {"stable-diffusion", "diffusers", "image", "sdxl", "controlnet", "upscale"},
	model.CategoryVideo: {"video", "animatediff", "frame", "mp4"},
	model.CategoryAudio: {"audio", "tts", "whisper", "speech", "music", "voice"},
	model.CategoryLLM:   {"llama", "llm", "transformers", "chat", "gpt", "mistral"},
	model.CategoryText:  {"text", "nlp", "translate", "summariz"},
	model.CategoryData:  {"pandas", "dataset", "dataframe", "etl"},
	model.CategoryDev:   {"devtool", "compiler", "linter"},
	model.CategoryGame:  {"game", "pygame"},
	model.CategoryWeb:   {"scrape", "crawler", "browser"},
}

// Analyzer classifies app source trees into profiles. Profiles are cached
// by source tree hash through the injected cache.
type Analyzer struct {
	logger log.FieldLogger
	cache  ProfileCache
}

// ProfileCache stores analyzed profiles keyed by source tree hash.
type ProfileCache interface {
	GetProfile(hash string) *model.AppProfile
	PutProfile(profile *model.AppProfile)
}

// NewAnalyzer creates an analyzer with the given profile cache. A nil cache
// disables caching.
func NewAnalyzer(cache ProfileCache, logger log.FieldLogger) *Analyzer {
	return &Analyzer{
		logger: logger.WithField("component", "analyzer"),
		cache:  cache,
	}
}

// Analyze produces the app profile for the source tree at root.
func (a *Analyzer) Analyze(appID, root string, hint *model.CatalogEntry) (*model.AppProfile, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, model.WrapError(model.ErrNotFound, err, "app source tree %s not found", root)
	}

	hash, err := a.treeHash(root)
	if err != nil {
		return nil, err
	}

	if a.cache != nil {
		if cached := a.cache.GetProfile(hash); cached != nil {
			a.logger.WithField("app", appID).Debug("Using cached app profile")
			return cached, nil
		}
	}

	profile := &model.AppProfile{
		ID:       appID,
		Category: model.CategoryUnknown,
		Hash:     hash,
	}

	profile.InstallerKind = a.detectInstaller(root)
	a.detectUI(root, profile)
	profile.Deps = a.extractDeps(root)
	profile.Category = a.classifyCategory(root, hint, profile.Deps)
	profile.Complexity = classifyComplexity(profile.Deps)
	profile.Estimate = estimateResources(profile.Category, profile.Deps)
	profile.NeedsTunnel = profile.UIKind != model.UINone

	if a.cache != nil {
		a.cache.PutProfile(profile)
	}

	a.logger.WithFields(log.Fields{
		"app":       appID,
		"installer": profile.InstallerKind,
		"ui":        profile.UIKind,
		"category":  profile.Category,
	}).Info("Analyzed app")

	return profile, nil
}

// treeHash hashes the file names and sizes of the tree; content hashing of
// model weights would dominate analysis time for no classification benefit.
func (a *Analyzer) treeHash(root string) (string, error) {
	var lines []string
	err := fsutil.Walk(root, func(rel string, info os.FileInfo) error {
		// Hidden files are working state (checkpoints, editor droppings),
		// not app content.
		if strings.HasPrefix(filepath.Base(rel), ".") {
			return nil
		}
		lines = append(lines, fmt.Sprintf("%s:%d", rel, info.Size()))
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Strings(lines)
	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h[:])[:16], nil
}

func (a *Analyzer) detectInstaller(root string) model.InstallerKind {
	for _, sig := range installerSignatures {
		if _, err := os.Stat(filepath.Join(root, sig.file)); err == nil {
			return sig.kind
		}
	}
	return model.InstallerUnknown
}

// detectUI scans source files, totalling weighted signals per framework.
func (a *Analyzer) detectUI(root string, profile *model.AppProfile) {
	scores := map[model.UIKind]float64{}

	_ = fsutil.Walk(root, func(rel string, info os.FileInfo) error {
		ext := filepath.Ext(rel)
		if ext != ".py" && ext != ".ipynb" && ext != ".js" {
			return nil
		}
		if info.Size() > maxScanBytes {
			return nil
		}

		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return nil
		}
		text := string(content)
		for _, sig := range uiSignals {
			if strings.Contains(text, sig.needle) {
				scores[sig.kind] += sig.weight
			}
		}
		return nil
	})

	best := model.UINone
	bestScore := 0.0
	for kind, score := range scores {
		if score > bestScore {
			best = kind
			bestScore = score
		}
	}
	if bestScore < 0.5 {
		if bestScore > 0 {
			best = model.UICustom
		} else {
			best = model.UINone
		}
	}

	profile.UIKind = best
	if defaults, ok := uiDefaults[best]; ok {
		profile.Port = defaults.port
		profile.ShareDefault = defaults.share
	}
}

// extractDeps parses the recognized manifest files.
func (a *Analyzer) extractDeps(root string) model.AppDeps {
	var deps model.AppDeps

	deps.Pip = parseRequirements(filepath.Join(root, "requirements.txt"))
	deps.Conda = parseEnvironmentYml(filepath.Join(root, "environment.yml"))
	if deps.Conda == nil {
		deps.Conda = parseEnvironmentYml(filepath.Join(root, "environment.yaml"))
	}
	deps.Npm = parsePackageJSON(filepath.Join(root, "package.json"))
	deps.System = parseLineFile(filepath.Join(root, "packages.txt"))

	return deps
}

// parseRequirements reads a pip requirements file, dropping comments, blank
// lines, and include directives.
func parseRequirements(path string) []string {
	lines := parseLineFile(path)
	var reqs []string
	for _, line := range lines {
		if strings.HasPrefix(line, "-") {
			continue
		}
		reqs = append(reqs, line)
	}
	return reqs
}

func parseLineFile(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// parseEnvironmentYml extracts the dependencies list from a conda
// environment file without a full YAML parse; entries of a nested pip block
// are returned together with the conda entries.
func parseEnvironmentYml(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var deps []string
	inDeps := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "dependencies:") {
			inDeps = true
			continue
		}
		if inDeps {
			if !strings.HasPrefix(line, " ") && trimmed != "" {
				break
			}
			if strings.HasPrefix(trimmed, "- ") {
				dep := strings.TrimPrefix(trimmed, "- ")
				if dep != "" && !strings.HasSuffix(dep, ":") {
					deps = append(deps, dep)
				}
			}
		}
	}
	return deps
}

// parsePackageJSON extracts dependency names from package.json.
func parsePackageJSON(path string) []string {
	var pkg struct {
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := fsutil.ReadJSONInto(path, &pkg); err != nil {
		return nil
	}

	var deps []string
	for name, version := range pkg.Dependencies {
		deps = append(deps, name+"@"+version)
	}
	sort.Strings(deps)
	return deps
}

func (a *Analyzer) classifyCategory(root string, hint *model.CatalogEntry, deps model.AppDeps) model.AppCategory {
	if hint != nil && hint.CategoryHint != "" {
		category := model.AppCategory(strings.ToLower(hint.CategoryHint))
		for known := range categoryKeywords {
			if known == category {
				return category
			}
		}
	}

	corpus := strings.ToLower(strings.Join(append(append([]string(nil), deps.Pip...), filepath.Base(root)), " "))
	bestCategory := model.CategoryUnknown
	bestHits := 0
	for category, keywords := range categoryKeywords {
		hits := 0
		for _, keyword := range keywords {
			if strings.Contains(corpus, keyword) {
				hits++
			}
		}
		if hits > bestHits {
			bestCategory = category
			bestHits = hits
		}
	}

	return bestCategory
}

func classifyComplexity(deps model.AppDeps) model.AppComplexity {
	total := len(deps.Pip) + len(deps.Conda) + len(deps.Npm) + len(deps.System)
	switch {
	case total <= 5:
		return model.ComplexitySimple
	case total <= 15:
		return model.ComplexityModerate
	case total <= 40:
		return model.ComplexityComplex
	default:
		return model.ComplexityAdvanced
	}
}

// estimateResources predicts resource needs from category and dependency
// weight. The numbers are deliberately coarse; the performance monitor
// corrects at runtime.
func estimateResources(category model.AppCategory, deps model.AppDeps) model.ResourceEstimate {
	estimate := model.ResourceEstimate{MemMB: 1024, DiskMB: 2048, CPU: 1}

	switch category {
	case model.CategoryImage, model.CategoryVideo:
		estimate.MemMB = 8192
		estimate.DiskMB = 20480
		estimate.GPUMemMB = 8192
		estimate.CPU = 2
	case model.CategoryLLM:
		estimate.MemMB = 16384
		estimate.DiskMB = 40960
		estimate.GPUMemMB = 16384
		estimate.CPU = 4
	case model.CategoryAudio:
		estimate.MemMB = 4096
		estimate.DiskMB = 10240
		estimate.GPUMemMB = 4096
		estimate.CPU = 2
	}

	for _, dep := range deps.Pip {
		name := strings.ToLower(dep)
		if strings.HasPrefix(name, "torch") || strings.HasPrefix(name, "tensorflow") {
			estimate.DiskMB += 8192
		}
	}

	return estimate
}
