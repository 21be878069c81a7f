// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package platform

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	return logger
}

func TestDetectColabFromEnvironment(t *testing.T) {
	t.Setenv("COLAB_GPU", "1")
	t.Setenv("COLAB_RELEASE_TAG", "release-colab")

	detector := NewDetector(testLogger(), "", "")
	platform := detector.Detect()

	assert.Equal(t, model.PlatformColab, platform.Kind)
	assert.GreaterOrEqual(t, platform.Confidence, 0.6)
	assert.Equal(t, "/content", platform.BasePath)
	assert.True(t, platform.Features.Has(model.FeatureDriveMount))
	assert.NotEmpty(t, platform.Evidence)
}

func TestDetectNeverFails(t *testing.T) {
	detector := NewDetector(testLogger(), "", t.TempDir())
	platform := detector.Detect()

	require.NotNil(t, platform)
	assert.NotEmpty(t, platform.Kind)
	assert.NotEmpty(t, platform.BasePath)
}

func TestDetectCachedForProcessLifetime(t *testing.T) {
	detector := NewDetector(testLogger(), "", "")
	first := detector.Detect()
	second := detector.Detect()

	assert.Same(t, first, second)
}

func TestDetectOverride(t *testing.T) {
	detector := NewDetector(testLogger(), model.PlatformRunpod, "/custom")
	platform := detector.Detect()

	assert.Equal(t, model.PlatformRunpod, platform.Kind)
	assert.Equal(t, "/custom", platform.BasePath)
	assert.Equal(t, 1.0, platform.Confidence)
}

func TestValidateCapabilities(t *testing.T) {
	platform := &model.Platform{
		Features: model.FeatureSet(0).With(model.FeatureOutboundNetwork).With(model.FeatureSSH),
	}

	check := ValidateCapabilities(platform, []string{"ssh", "outbound_network"}, nil)
	assert.True(t, check.OK)
	assert.Empty(t, check.Missing)

	check = ValidateCapabilities(platform, []string{"gpu", "docker", "nonsense"}, nil)
	assert.False(t, check.OK)
	assert.Equal(t, []string{"gpu", "docker", "nonsense"}, check.Missing)

	// Overrides win over detection in both directions.
	check = ValidateCapabilities(platform, []string{"gpu", "ssh"}, map[string]bool{"gpu": true, "ssh": false})
	assert.False(t, check.OK)
	assert.Equal(t, []string{"ssh"}, check.Missing)
}
