// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package catalog

import (
	"os"
	"path/filepath"
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

func writeAppTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"),
		[]byte("torch==2.0\nnumpy>=1.24\ndiffusers\n# a comment\n\n-r extra.txt\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"),
		[]byte("import gradio as gr\n\ninterface = gr.Interface(fn=run, inputs='text', outputs='text')\ninterface.launch(share=True)\n"), 0644))

	return dir
}

func TestAnalyzeRequirementsGradioApp(t *testing.T) {
	dir := writeAppTree(t)
	analyzer := NewAnalyzer(nil, testLogger())

	profile, err := analyzer.Analyze("demo", dir, nil)
	require.NoError(t, err)

	assert.Equal(t, "demo", profile.ID)
	assert.Equal(t, model.InstallerRequirements, profile.InstallerKind)
	assert.Equal(t, model.UIGradio, profile.UIKind)
	assert.Equal(t, 7860, profile.Port)
	assert.True(t, profile.ShareDefault)
	assert.True(t, profile.NeedsTunnel)
	assert.Equal(t, []string{"torch==2.0", "numpy>=1.24", "diffusers"}, profile.Deps.Pip)
	assert.NotEmpty(t, profile.Hash)
	assert.Equal(t, model.CategoryImage, profile.Category)
}

func TestAnalyzeHashStableAcrossRuns(t *testing.T) {
	dir := writeAppTree(t)
	analyzer := NewAnalyzer(nil, testLogger())

	first, err := analyzer.Analyze("demo", dir, nil)
	require.NoError(t, err)
	second, err := analyzer.Analyze("demo", dir, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
}

type fakeProfileCache struct {
	profiles map[string]*model.AppProfile
	puts     int
}

func (f *fakeProfileCache) GetProfile(hash string) *model.AppProfile { return f.profiles[hash] }
func (f *fakeProfileCache) PutProfile(profile *model.AppProfile) {
	f.profiles[profile.Hash] = profile
	f.puts++
}

func TestAnalyzeUsesProfileCache(t *testing.T) {
	dir := writeAppTree(t)
	cache := &fakeProfileCache{profiles: map[string]*model.AppProfile{}}
	analyzer := NewAnalyzer(cache, testLogger())

	first, err := analyzer.Analyze("demo", dir, nil)
	require.NoError(t, err)
	second, err := analyzer.Analyze("demo", dir, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, cache.puts)
	assert.Same(t, first, second)
}

func TestAnalyzeMissingTree(t *testing.T) {
	analyzer := NewAnalyzer(nil, testLogger())

	_, err := analyzer.Analyze("demo", filepath.Join(t.TempDir(), "absent"), nil)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrNotFound))
}

func TestAnalyzeScriptInstaller(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "install.sh"), []byte("#!/bin/sh\n"), 0755))
	analyzer := NewAnalyzer(nil, testLogger())

	profile, err := analyzer.Analyze("script-app", dir, nil)
	require.NoError(t, err)

	assert.Equal(t, model.InstallerScript, profile.InstallerKind)
	assert.Equal(t, model.UINone, profile.UIKind)
	assert.False(t, profile.NeedsTunnel)
}

func TestCatalogLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "sd-webui", "name": "Stable Diffusion WebUI", "category_hint": "image", "repo_url": "https://example.com/sd", "stars": 1000},
		{"id": "tts", "name": "TTS", "repo_url": "https://example.com/tts", "stars": 5}
	]`), 0644))

	cat, err := Load(path, testLogger())
	require.NoError(t, err)

	assert.Len(t, cat.List(), 2)
	entry := cat.Get("sd-webui")
	require.NotNil(t, entry)
	assert.Equal(t, "Stable Diffusion WebUI", entry.Name)
	assert.Nil(t, cat.Get("absent"))
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a", "repo_url": "x"}, {"id": "a", "repo_url": "y"}]`), 0644))

	_, err := Load(path, testLogger())
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrCorrupt))
}
