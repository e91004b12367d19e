// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package datacache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// StagingSuffix is appended to ".<archive file>" to name the directory an
// archive is unpacked into before its members are moved into place.
const StagingSuffix = ".extract"

// stagingDir returns the staging directory for archive fileName below dir.
func stagingDir(dir, fileName string) string {
	return filepath.Join(dir, "."+fileName+StagingSuffix)
}

// extractZip unpacks archivePath into dir. When members is nil every entry
// is extracted; otherwise only entries equal to, or below, one of members.
// It returns the slash-separated names written.
//
// Entries are written to a staging directory first. Members are moved into
// dir only after every entry was written, so a failed pass leaves nothing in
// dir that Resolve could mistake for a cached member.
//
// Corruption (unreadable archive, bad checksum, entries escaping dir) is
// reported as ErrArchiveCorrupt. A requested member absent from the archive
// yields a *MemberNotFoundError and nothing is written.
func extractZip(archiveID, archivePath, dir string, members []string, onEntry func(name string)) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, filepath.Base(archivePath), err)
	}
	defer zr.Close()

	selected := zr.File
	if members != nil {
		selected = selected[:0:0]
		for _, m := range members {
			n := 0
			for _, f := range zr.File {
				if matchesMember(f.Name, m) {
					selected = append(selected, f)
					n++
				}
			}
			if n == 0 {
				return nil, &MemberNotFoundError{Archive: archiveID, Member: m}
			}
		}
	}

	stage := stagingDir(dir, filepath.Base(archivePath))
	if err := os.RemoveAll(stage); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, err
	}
	defer os.RemoveAll(stage)

	var written []string
	for _, f := range selected {
		target, err := safeJoin(stage, f.Name)
		if err != nil {
			return nil, err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		case !mode.IsRegular():
			// symlinks and devices are never materialized
			continue
		}

		if err := writeEntry(f, target); err != nil {
			return nil, err
		}
		written = append(written, f.Name)
		if onEntry != nil {
			onEntry(f.Name)
		}
	}

	if err := promote(stage, dir, members); err != nil {
		return nil, err
	}
	return written, nil
}

// promote moves the unpacked roots from stage into dir, replacing whatever
// was there. roots defaults to the top-level entries of stage.
func promote(stage, dir string, roots []string) error {
	if roots == nil {
		entries, err := os.ReadDir(stage)
		if err != nil {
			return err
		}
		for _, e := range entries {
			roots = append(roots, e.Name())
		}
	}
	for _, root := range roots {
		src := filepath.Join(stage, filepath.FromSlash(root))
		if _, err := os.Lstat(src); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		dst := filepath.Join(dir, filepath.FromSlash(root))
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, f.Name, err)
	}
	defer rc.Close()

	perm := f.Mode().Perm() | 0o600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(target)
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, f.Name, err)
		}
		return err
	}
	return out.Close()
}

// matchesMember reports whether the zip entry name is member itself or lies
// below it (directory members).
func matchesMember(name, member string) bool {
	name = strings.TrimSuffix(name, "/")
	return name == member || strings.HasPrefix(name, member+"/")
}

// safeJoin joins a slash-separated archive entry name onto dir, refusing
// names that would land outside dir.
func safeJoin(dir, name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: illegal entry name %q", ErrArchiveCorrupt, name)
	}
	target := filepath.Join(dir, filepath.FromSlash(name))
	root := filepath.Clean(dir)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: entry %q escapes cache directory", ErrArchiveCorrupt, name)
	}
	return target, nil
}
