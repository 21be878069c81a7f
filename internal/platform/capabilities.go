// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package platform

import (
	"strings"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// featureNames maps the external capability names to feature bits.
var featureNames = map[string]model.PlatformFeature{
	"gpu":              model.FeatureGPU,
	"drive_mount":      model.FeatureDriveMount,
	"ssh":              model.FeatureSSH,
	"docker":           model.FeatureDocker,
	"outbound_network": model.FeatureOutboundNetwork,
}

// ValidateCapabilities checks the required capability names against the
// detected feature set, honoring configured overrides. Unresolvable names
// are reported as missing, never as an error.
func ValidateCapabilities(platform *model.Platform, required []string, overrides map[string]bool) model.CapabilityCheck {
	var missing []string
	for _, name := range required {
		name = strings.ToLower(strings.TrimSpace(name))
		if forced, ok := overrides[name]; ok {
			if !forced {
				missing = append(missing, name)
			}
			continue
		}

		feature, known := featureNames[name]
		if !known || !platform.Features.Has(feature) {
			missing = append(missing, name)
		}
	}

	return model.CapabilityCheck{OK: len(missing) == 0, Missing: missing}
}
