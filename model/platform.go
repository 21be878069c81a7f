// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

// PlatformKind identifies the hosting platform the control plane runs on.
type PlatformKind string

const (
	// PlatformColab is a Google Colab style notebook host.
	PlatformColab PlatformKind = "colab"
	// PlatformVast is a vast.ai rented-GPU host.
	PlatformVast PlatformKind = "vast"
	// PlatformLightning is a Lightning AI workspace host.
	PlatformLightning PlatformKind = "lightning"
	// PlatformPaperspace is a Paperspace Gradient host.
	PlatformPaperspace PlatformKind = "paperspace"
	// PlatformRunpod is a RunPod host.
	PlatformRunpod PlatformKind = "runpod"
	// PlatformUnknown is any host that could not be identified.
	PlatformUnknown PlatformKind = "unknown"
)

// PlatformFeature is a capability a platform may or may not offer.
type PlatformFeature uint32

const (
	// FeatureGPU indicates CUDA-capable hardware is present.
	FeatureGPU PlatformFeature = 1 << iota
	// FeatureDriveMount indicates a persistent drive can be mounted.
	FeatureDriveMount
	// FeatureSSH indicates inbound SSH access is available.
	FeatureSSH
	// FeatureDocker indicates a usable container runtime.
	FeatureDocker
	// FeatureOutboundNetwork indicates unrestricted outbound TCP.
	FeatureOutboundNetwork
)

// FeatureSet is a bitset of platform features.
type FeatureSet uint32

// Has reports whether the set contains the given feature.
func (s FeatureSet) Has(f PlatformFeature) bool {
	return uint32(s)&uint32(f) != 0
}

// With returns the set with the given feature added.
func (s FeatureSet) With(f PlatformFeature) FeatureSet {
	return FeatureSet(uint32(s) | uint32(f))
}

// ResourceCaps describes the resource ceilings of a platform.
type ResourceCaps struct {
	MaxMemGB    float64 `json:"max_mem_gb"`
	MaxDiskGB   float64 `json:"max_disk_gb"`
	MaxCPU      int     `json:"max_cpu"`
	MaxGPU      int     `json:"max_gpu"`
	SessionTTLs int64   `json:"session_ttl_s"`
	IdleTTLs    int64   `json:"idle_ttl_s"`
}

// Platform is the immutable description of the detected host platform.
type Platform struct {
	Kind       PlatformKind      `json:"kind"`
	BasePath   string            `json:"base_path"`
	Caps       ResourceCaps      `json:"caps"`
	Features   FeatureSet        `json:"features"`
	Confidence float64           `json:"confidence"`
	Evidence   map[string]string `json:"detection_evidence,omitempty"`
}

// LogicalPath names a well-known directory resolved by the path mapper.
type LogicalPath string

const (
	// PathApps holds per-app working directories.
	PathApps LogicalPath = "apps"
	// PathData holds shared data files.
	PathData LogicalPath = "data"
	// PathCache holds the disk cache layer.
	PathCache LogicalPath = "cache"
	// PathLogs holds per-app log directories.
	PathLogs LogicalPath = "logs"
	// PathModels holds downloaded model weights.
	PathModels LogicalPath = "models"
	// PathConfig holds control-plane configuration.
	PathConfig LogicalPath = "config"
	// PathWorkspace holds scratch working trees.
	PathWorkspace LogicalPath = "workspace"
	// PathTmp holds short-lived temporary files.
	PathTmp LogicalPath = "tmp"
	// PathEnvs holds per-app isolated environments.
	PathEnvs LogicalPath = "envs"
	// PathState holds persisted app state records.
	PathState LogicalPath = "state"
	// PathTunnels holds the tunnel URL book.
	PathTunnels LogicalPath = "tunnels"
)

// CapabilityCheck is the result of validating required platform features.
type CapabilityCheck struct {
	OK      bool     `json:"ok"`
	Missing []string `json:"missing,omitempty"`
}
