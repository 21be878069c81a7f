// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package fsutil provides the safe filesystem primitives the control plane
// builds on: atomic writes, permissive tree removal, and filtered walks.
package fsutil

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pinokiocloud/pinokio-cloud/model"
)

// ignoredDirs are never descended into by Walk or copied by CopyTree.
var ignoredDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"env":          true,
	".conda":       true,
}

// IsIgnoredDir reports whether the directory name is in the fixed ignore set.
func IsIgnoredDir(name string) bool {
	return ignoredDirs[name]
}

func wrapOSError(err error, format string, args ...interface{}) error {
	cause := errors.Cause(err)
	kind := model.ErrInternal
	switch {
	case os.IsNotExist(cause):
		kind = model.ErrNotFound
	case os.IsPermission(cause):
		kind = model.ErrPermission
	case os.IsExist(cause):
		kind = model.ErrAlreadyExists
	}
	return model.WrapError(kind, err, format, args...)
}

// WriteFileAtomic writes data to path by writing a temp file in the same
// directory, fsyncing it, and renaming it over the target. Readers observe
// either the old content or the new content, never a mix.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return wrapOSError(err, "failed to create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer func() {
		// Best effort cleanup when the rename never happened.
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return wrapOSError(err, "failed to write temp file %s", tmpName)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return wrapOSError(err, "failed to sync temp file %s", tmpName)
	}
	if err = tmp.Close(); err != nil {
		return wrapOSError(err, "failed to close temp file %s", tmpName)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return wrapOSError(err, "failed to chmod temp file %s", tmpName)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return wrapOSError(err, "failed to rename %s to %s", tmpName, path)
	}

	return nil
}

// CopyFile copies src to dst, creating parent directories as needed.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return wrapOSError(err, "failed to open %s", src)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return wrapOSError(err, "failed to stat %s", src)
	}

	if err = os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return wrapOSError(err, "failed to create parent of %s", dst)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return wrapOSError(err, "failed to create %s", dst)
	}
	defer out.Close()

	if _, err = io.Copy(out, in); err != nil {
		return wrapOSError(err, "failed to copy %s to %s", src, dst)
	}

	return nil
}

// CopyTree copies the tree rooted at src to dst, skipping ignored
// directories.
func CopyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return wrapOSError(err, "failed to walk %s", path)
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return model.WrapError(model.ErrInternal, err, "failed to relativize %s", path)
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			if IsIgnoredDir(info.Name()) && rel != "." {
				return filepath.SkipDir
			}
			return wrapOSErrorOrNil(os.MkdirAll(target, info.Mode().Perm()), "failed to create %s", target)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		return CopyFile(path, target)
	})
}

func wrapOSErrorOrNil(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapOSError(err, format, args...)
}

// Move renames src to dst, falling back to copy and remove across devices.
func Move(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return wrapOSError(err, "failed to create parent of %s", dst)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	if copyErr := CopyTree(src, dst); copyErr != nil {
		return copyErr
	}
	return RemoveTree(src)
}

// RemoveTree removes the tree rooted at path. Read-only entries have write
// permission restored first, and a missing path is not an error.
func RemoveTree(path string) error {
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return nil
	}

	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}

	// Restore write permission top-down and retry once.
	_ = filepath.Walk(path, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.Mode().Perm()&0200 == 0 {
			_ = os.Chmod(p, info.Mode().Perm()|0200)
		}
		return nil
	})

	if err = os.RemoveAll(path); err != nil {
		return wrapOSError(err, "failed to remove %s", path)
	}

	return nil
}

// Walk visits every regular file under root, skipping the ignore set, and
// calls fn with the path relative to root.
func Walk(root string, fn func(rel string, info os.FileInfo) error) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return wrapOSError(err, "failed to walk %s", path)
		}
		if info.IsDir() {
			if IsIgnoredDir(info.Name()) && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return model.WrapError(model.ErrInternal, err, "failed to relativize %s", path)
		}

		return fn(rel, info)
	})
}

// DirSizeBytes returns the total size of regular files under root.
func DirSizeBytes(root string) (int64, error) {
	var total int64
	err := Walk(root, func(rel string, info os.FileInfo) error {
		total += info.Size()
		return nil
	})
	if err != nil {
		if model.IsKind(err, model.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	return total, nil
}
