// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package fsutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRemoveTreeReadOnlyEntries(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	file := filepath.Join(root, "sub", "locked.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	require.NoError(t, os.Chmod(file, 0444))
	require.NoError(t, os.Chmod(filepath.Join(root, "sub"), 0555))

	require.NoError(t, RemoveTree(root))
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	// Idempotent on a missing path.
	assert.NoError(t, RemoveTree(root))
}

func TestWalkSkipsIgnoredDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "config"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "dep.js"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.py"), []byte("x"), 0644))

	var seen []string
	err := Walk(dir, func(rel string, info os.FileInfo) error {
		seen = append(seen, rel)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("src", "main.py")}, seen)
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a", "__pycache__"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "f.txt"), []byte("data"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "__pycache__", "skip.pyc"), []byte("x"), 0644))

	require.NoError(t, CopyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "a", "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, err = os.Stat(filepath.Join(dst, "a", "__pycache__"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadJSONValidatesSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"x","count":3,"extra":true}`), 0644))

	schema := &Schema{
		Fields:   map[string]FieldKind{"name": FieldString, "count": FieldNumber},
		Required: []string{"name"},
	}

	doc, err := ReadJSON(path, schema)
	require.NoError(t, err)
	assert.Equal(t, "x", doc["name"])
	// Unknown fields roundtrip.
	assert.Equal(t, true, doc["extra"])

	badSchema := &Schema{Required: []string{"missing"}}
	_, err = ReadJSON(path, badSchema)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrCorrupt))
}

func TestJSONNumericPrecisionRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"big":9007199254740993}`), 0644))

	doc, err := ReadJSON(path, nil)
	require.NoError(t, err)
	require.NoError(t, WriteJSONAtomic(path, doc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "9007199254740993")

	number, ok := doc["big"].(json.Number)
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", number.String())
}

func TestReadJSONMissingFile(t *testing.T) {
	_, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.ErrNotFound))
}
