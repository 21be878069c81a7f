// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// AppCategory groups apps by the kind of workload they run.
type AppCategory string

const (
	CategoryImage   AppCategory = "image"
	CategoryVideo   AppCategory = "video"
	CategoryAudio   AppCategory = "audio"
	CategoryText    AppCategory = "text"
	CategoryLLM     AppCategory = "llm"
	CategoryUtility AppCategory = "utility"
	CategoryWeb     AppCategory = "web"
	CategoryData    AppCategory = "data"
	CategoryDev     AppCategory = "dev"
	CategoryGame    AppCategory = "game"
	CategoryUnknown AppCategory = "unknown"
)

// AppComplexity is a rough measure of how involved an install is.
type AppComplexity string

const (
	ComplexitySimple   AppComplexity = "simple"
	ComplexityModerate AppComplexity = "moderate"
	ComplexityComplex  AppComplexity = "complex"
	ComplexityAdvanced AppComplexity = "advanced"
)

// InstallerKind identifies the mechanism by which an app installs.
type InstallerKind string

const (
	InstallerJS           InstallerKind = "js"
	InstallerJSON         InstallerKind = "json"
	InstallerRequirements InstallerKind = "requirements"
	InstallerEnvironment  InstallerKind = "environment"
	InstallerScript       InstallerKind = "script"
	InstallerUnknown      InstallerKind = "unknown"
)

// UIKind identifies the web UI framework an app exposes.
type UIKind string

const (
	UIGradio    UIKind = "gradio"
	UIStreamlit UIKind = "streamlit"
	UIFlask     UIKind = "flask"
	UIFastAPI   UIKind = "fastapi"
	UIDjango    UIKind = "django"
	UITornado   UIKind = "tornado"
	UIDash      UIKind = "dash"
	UIJupyter   UIKind = "jupyter"
	UICustom    UIKind = "custom"
	UINone      UIKind = "none"
)

// AppDeps holds the explicit dependency declarations of an app per manager.
type AppDeps struct {
	Pip    []string `json:"pip,omitempty"`
	Conda  []string `json:"conda,omitempty"`
	Npm    []string `json:"npm,omitempty"`
	System []string `json:"system,omitempty"`
}

// Empty reports whether the app declares no dependencies at all.
func (d *AppDeps) Empty() bool {
	return len(d.Pip) == 0 && len(d.Conda) == 0 && len(d.Npm) == 0 && len(d.System) == 0
}

// ResourceEstimate is a rough prediction of the resources an app needs.
type ResourceEstimate struct {
	MemMB    int64 `json:"mem_mb"`
	DiskMB   int64 `json:"disk_mb"`
	CPU      int   `json:"cpu"`
	GPUMemMB int64 `json:"gpu_mem_mb"`
}

// AppProfile is the analyzed, cacheable description of an app. It is
// immutable after analysis; re-analysis produces a new profile.
type AppProfile struct {
	ID            string           `json:"id"`
	Category      AppCategory      `json:"category"`
	Complexity    AppComplexity    `json:"complexity"`
	InstallerKind InstallerKind    `json:"installer_kind"`
	UIKind        UIKind           `json:"ui_kind"`
	Port          int              `json:"port,omitempty"`
	ShareDefault  bool             `json:"share_default"`
	Deps          AppDeps          `json:"deps"`
	NeedsTunnel   bool             `json:"needs_tunnel"`
	Estimate      ResourceEstimate `json:"resource_estimate"`
	Hash          string           `json:"hash"`
}

// CatalogEntry is one app in the static catalog artifact.
type CatalogEntry struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	CategoryHint  string   `json:"category_hint,omitempty"`
	RepoURL       string   `json:"repo_url"`
	InstallerHint string   `json:"installer_hint,omitempty"`
	Stars         int      `json:"stars"`
	Tags          []string `json:"tags,omitempty"`
}

// AppFilter describes the parameters used to constrain a set of apps.
type AppFilter struct {
	IDs      []string
	Category AppCategory
	Status   string
}

// AppProfileFromReader decodes an app profile from the given reader.
func AppProfileFromReader(reader io.Reader) (*AppProfile, error) {
	var profile AppProfile
	err := json.NewDecoder(reader).Decode(&profile)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to decode app profile")
	}

	return &profile, nil
}
