// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package platform identifies the hosting platform and publishes canonical
// paths and resource caps for the rest of the control plane.
package platform

import (
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	log "github.com/sirupsen/logrus"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// minConfidence is the score below which detection reports unknown.
const minConfidence = 0.3

// signal contributes weight to a platform's score when it matches.
type signal struct {
	name   string
	weight float64
	match  func() (bool, string)
}

func envSignal(name string, weight float64, key string) signal {
	return signal{
		name:   name,
		weight: weight,
		match: func() (bool, string) {
			value, ok := os.LookupEnv(key)
			return ok, key + "=" + value
		},
	}
}

func pathSignal(name string, weight float64, path string) signal {
	return signal{
		name:   name,
		weight: weight,
		match: func() (bool, string) {
			if _, err := os.Stat(path); err != nil {
				return false, ""
			}
			return true, "path " + path
		},
	}
}

func hostnameSignal(name string, weight float64, substr string) signal {
	return signal{
		name:   name,
		weight: weight,
		match: func() (bool, string) {
			hostname, err := os.Hostname()
			if err != nil {
				return false, ""
			}
			if strings.Contains(strings.ToLower(hostname), substr) {
				return true, "hostname " + hostname
			}
			return false, ""
		},
	}
}

func moduleSignal(name string, weight float64, module string) signal {
	return signal{
		name:   name,
		weight: weight,
		match: func() (bool, string) {
			cmd := exec.Command("python3", "-c", "import "+module)
			if err := cmd.Run(); err != nil {
				return false, ""
			}
			return true, "python module " + module
		},
	}
}

// platformProfile describes one detectable platform.
type platformProfile struct {
	kind     model.PlatformKind
	basePath string
	signals  []signal
	features model.FeatureSet
}

var profiles = []platformProfile{
	{
		kind:     model.PlatformColab,
		basePath: "/content",
		signals: []signal{
			envSignal("colab-gpu-env", 0.35, "COLAB_GPU"),
			envSignal("colab-release-env", 0.25, "COLAB_RELEASE_TAG"),
			pathSignal("content-dir", 0.2, "/content"),
			moduleSignal("colab-module", 0.3, "google.colab"),
		},
		features: model.FeatureSet(0).
			With(model.FeatureDriveMount).
			With(model.FeatureOutboundNetwork),
	},
	{
		kind:     model.PlatformVast,
		basePath: "/workspace",
		signals: []signal{
			envSignal("vast-container-env", 0.4, "VAST_CONTAINERLABEL"),
			envSignal("vast-tcp-env", 0.2, "VAST_TCP_PORT_70000"),
			pathSignal("workspace-dir", 0.15, "/workspace"),
			hostnameSignal("vast-hostname", 0.2, "vast"),
		},
		features: model.FeatureSet(0).
			With(model.FeatureSSH).
			With(model.FeatureDocker).
			With(model.FeatureOutboundNetwork),
	},
	{
		kind:     model.PlatformLightning,
		basePath: "/teamspace/studios/this_studio",
		signals: []signal{
			envSignal("lightning-cloudspace-env", 0.4, "LIGHTNING_CLOUD_SPACE_ID"),
			envSignal("lightning-node-env", 0.2, "LIGHTNING_NODE_ID"),
			pathSignal("teamspace-dir", 0.25, "/teamspace"),
		},
		features: model.FeatureSet(0).
			With(model.FeatureDriveMount).
			With(model.FeatureOutboundNetwork),
	},
	{
		kind:     model.PlatformPaperspace,
		basePath: "/notebooks",
		signals: []signal{
			envSignal("paperspace-cluster-env", 0.4, "PAPERSPACE_CLUSTER_ID"),
			envSignal("paperspace-fqdn-env", 0.25, "PAPERSPACE_FQDN"),
			pathSignal("notebooks-dir", 0.2, "/notebooks"),
			hostnameSignal("paperspace-hostname", 0.15, "gradient"),
		},
		features: model.FeatureSet(0).
			With(model.FeatureOutboundNetwork),
	},
	{
		kind:     model.PlatformRunpod,
		basePath: "/workspace",
		signals: []signal{
			envSignal("runpod-id-env", 0.45, "RUNPOD_POD_ID"),
			envSignal("runpod-dc-env", 0.2, "RUNPOD_DC_ID"),
			pathSignal("workspace-dir", 0.15, "/workspace"),
			hostnameSignal("runpod-hostname", 0.15, "runpod"),
		},
		features: model.FeatureSet(0).
			With(model.FeatureSSH).
			With(model.FeatureOutboundNetwork),
	},
}

// Detector identifies the host platform once per process lifetime.
type Detector struct {
	logger       log.FieldLogger
	override     model.PlatformKind
	baseOverride string

	once     sync.Once
	detected *model.Platform
}

// NewDetector creates a platform detector. An override kind skips scoring.
func NewDetector(logger log.FieldLogger, override model.PlatformKind, baseOverride string) *Detector {
	return &Detector{
		logger:       logger.WithField("component", "platform"),
		override:     override,
		baseOverride: baseOverride,
	}
}

// Detect identifies the platform. Detection never fails; an unidentifiable
// host reports PlatformUnknown. The result is cached for process lifetime.
func (d *Detector) Detect() *model.Platform {
	d.once.Do(func() {
		d.detected = d.detect()
	})

	return d.detected
}

func (d *Detector) detect() *model.Platform {
	if d.override != "" && d.override != model.PlatformUnknown {
		platform := d.platformFor(d.override, 1.0, map[string]string{"override": string(d.override)})
		d.logger.WithField("platform", platform.Kind).Info("Platform set by override")
		return platform
	}

	var best *platformProfile
	bestScore := 0.0
	bestEvidence := map[string]string{}

	for i := range profiles {
		profile := &profiles[i]
		score := 0.0
		evidence := map[string]string{}
		for _, sig := range profile.signals {
			matched, detail := sig.match()
			if matched {
				score += sig.weight
				evidence[sig.name] = detail
			}
		}
		if score > bestScore {
			best = profile
			bestScore = score
			bestEvidence = evidence
		}
	}

	if best == nil || bestScore < minConfidence {
		platform := d.platformFor(model.PlatformUnknown, bestScore, bestEvidence)
		d.logger.WithField("confidence", bestScore).Info("Platform not identified; using defaults")
		return platform
	}

	if bestScore > 1.0 {
		bestScore = 1.0
	}

	platform := d.platformFor(best.kind, bestScore, bestEvidence)
	d.logger.WithFields(log.Fields{
		"platform":   platform.Kind,
		"confidence": platform.Confidence,
		"base_path":  platform.BasePath,
	}).Info("Platform detected")

	return platform
}

func (d *Detector) platformFor(kind model.PlatformKind, confidence float64, evidence map[string]string) *model.Platform {
	basePath := "/opt/pinokio"
	features := model.FeatureSet(0).With(model.FeatureOutboundNetwork)
	caps := model.ResourceCaps{MaxCPU: 2, MaxMemGB: 12, MaxDiskGB: 50}

	for i := range profiles {
		if profiles[i].kind == kind {
			basePath = profiles[i].basePath
			features = profiles[i].features
			break
		}
	}
	if d.baseOverride != "" {
		basePath = d.baseOverride
	}

	// Measure actual host memory and CPU where possible; measured values
	// replace the defaults above, even when they are lower.
	if vm, err := mem.VirtualMemory(); err == nil {
		caps.MaxMemGB = float64(vm.Total) / (1 << 30)
	}
	if counts, err := cpu.Counts(true); err == nil {
		caps.MaxCPU = counts
	}
	if hasNvidiaGPU() {
		features = features.With(model.FeatureGPU)
		caps.MaxGPU = 1
	}
	if kind == model.PlatformColab {
		caps.SessionTTLs = 12 * 3600
		caps.IdleTTLs = 90 * 60
	}

	return &model.Platform{
		Kind:       kind,
		BasePath:   basePath,
		Caps:       caps,
		Features:   features,
		Confidence: confidence,
		Evidence:   evidence,
	}
}

func hasNvidiaGPU() bool {
	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return true
	}
	return false
}
