// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package install

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func TestSubstitute(t *testing.T) {
	scope := Scope{
		"platform":        "colab",
		"port":            "7860",
		"args.model":      "sdxl",
		"cloud.base_path": "/content",
	}

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "no tokens here", "no tokens here"},
		{"single", "run on {{platform}}", "run on colab"},
		{"multiple", "{{platform}}:{{port}}", "colab:7860"},
		{"nested key", "model={{args.model}}", "model=sdxl"},
		{"path", "{{cloud.base_path}}/apps", "/content/apps"},
		{"default used", "{{args.batch|4}}", "4"},
		{"default unused", "{{port|9999}}", "7860"},
		{"whitespace", "{{ platform }}", "colab"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Substitute(tc.input, scope)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, out)
		})
	}
}

func TestSubstituteMissingKeyFails(t *testing.T) {
	_, err := Substitute("{{unknown}}", Scope{})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrInvalidInput))
}

func TestSubstituteAll(t *testing.T) {
	out, err := SubstituteAll([]string{"pip", "install", "{{args.pkg}}"}, Scope{"args.pkg": "torch"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pip", "install", "torch"}, out)

	_, err = SubstituteAll([]string{"{{missing}}"}, Scope{})
	require.Error(t, err)
}
