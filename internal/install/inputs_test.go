// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func floatPtr(f float64) *float64 { return &f }

func TestCollectInputsRequired(t *testing.T) {
	fields := []model.InputField{
		{FieldID: "name", Kind: model.InputText, Validators: []model.Validator{{Kind: model.ValidateRequired}}},
	}

	_, err := CollectInputs(fields, model.InputValues{})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrInvalidInput))

	values, err := CollectInputs(fields, model.InputValues{"name": "demo"})
	require.NoError(t, err)
	assert.Equal(t, "demo", values["name"])
}

func TestCollectInputsDefaultSatisfiesRequired(t *testing.T) {
	fields := []model.InputField{
		{
			FieldID:    "batch",
			Kind:       model.InputNumber,
			Default:    4.0,
			Validators: []model.Validator{{Kind: model.ValidateRequired}},
		},
	}

	values, err := CollectInputs(fields, model.InputValues{})
	require.NoError(t, err)
	assert.Equal(t, 4.0, values["batch"])
}

func TestCollectInputsBounds(t *testing.T) {
	fields := []model.InputField{
		{
			FieldID: "steps",
			Kind:    model.InputNumber,
			Validators: []model.Validator{
				{Kind: model.ValidateBounds, Min: floatPtr(1), Max: floatPtr(100)},
			},
		},
	}

	_, err := CollectInputs(fields, model.InputValues{"steps": 150.0})
	require.Error(t, err)

	_, err = CollectInputs(fields, model.InputValues{"steps": 0.0})
	require.Error(t, err)

	_, err = CollectInputs(fields, model.InputValues{"steps": 50.0})
	require.NoError(t, err)
}

func TestCollectInputsRegexEmailURL(t *testing.T) {
	fields := []model.InputField{
		{FieldID: "slug", Kind: model.InputText, Validators: []model.Validator{{Kind: model.ValidateRegex, Pattern: `^[a-z-]+$`}}},
		{FieldID: "contact", Kind: model.InputEmail, Validators: []model.Validator{{Kind: model.ValidateEmail}}},
		{FieldID: "homepage", Kind: model.InputURL, Validators: []model.Validator{{Kind: model.ValidateURL}}},
	}

	_, err := CollectInputs(fields, model.InputValues{"slug": "Bad Slug", "contact": "a@b.c", "homepage": "https://example.com"})
	require.Error(t, err)

	_, err = CollectInputs(fields, model.InputValues{"slug": "good-slug", "contact": "not-an-email", "homepage": "https://example.com"})
	require.Error(t, err)

	_, err = CollectInputs(fields, model.InputValues{"slug": "good-slug", "contact": "a@b.c", "homepage": "no scheme"})
	require.Error(t, err)

	_, err = CollectInputs(fields, model.InputValues{"slug": "good-slug", "contact": "a@b.c", "homepage": "https://example.com"})
	require.NoError(t, err)
}

func TestCollectInputsFileAndDirExistence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "weights.bin")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	fields := []model.InputField{
		{FieldID: "weights", Kind: model.InputFile, Validators: []model.Validator{{Kind: model.ValidateFileExists}}},
		{FieldID: "outdir", Kind: model.InputDir, Validators: []model.Validator{{Kind: model.ValidateDirExists}}},
	}

	_, err := CollectInputs(fields, model.InputValues{"weights": file, "outdir": dir})
	require.NoError(t, err)

	_, err = CollectInputs(fields, model.InputValues{"weights": filepath.Join(dir, "absent"), "outdir": dir})
	require.Error(t, err)

	_, err = CollectInputs(fields, model.InputValues{"weights": file, "outdir": file})
	require.Error(t, err)
}

func TestCollectInputsSelect(t *testing.T) {
	fields := []model.InputField{
		{FieldID: "precision", Kind: model.InputSelect, Options: []string{"fp16", "fp32"}},
	}

	_, err := CollectInputs(fields, model.InputValues{"precision": "int8"})
	require.Error(t, err)

	values, err := CollectInputs(fields, model.InputValues{"precision": "fp16"})
	require.NoError(t, err)
	assert.Equal(t, "fp16", values["precision"])
}

func TestCollectInputsKindChecks(t *testing.T) {
	fields := []model.InputField{
		{FieldID: "share", Kind: model.InputBool},
	}

	_, err := CollectInputs(fields, model.InputValues{"share": "yes"})
	require.Error(t, err)

	_, err = CollectInputs(fields, model.InputValues{"share": true})
	require.NoError(t, err)
}
