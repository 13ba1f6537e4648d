// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package fit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultSweepPatterns match the transient entries the fitting backend
// leaves in its output directories.
var DefaultSweepPatterns = []string{"pm_*", "*posterior_samples.dat"}

// KeepPattern matches files inside a swept directory that are copied into
// its parent before the directory is removed.
const KeepPattern = "*bestfit_params*"

// Sweep removes every entry of dir matching one of patterns and returns
// how many were removed. Files matching KeepPattern inside a removed
// directory are first copied into dir with a timestamp suffix, so repeated
// sweeps never overwrite each other. A missing dir is not an error.
func Sweep(dir string, patterns []string) (int, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	removed := 0
	var errs []error
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, p))
		if err != nil {
			return removed, fmt.Errorf("sweep pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if err := keepBestFitParams(m, dir); err != nil {
				// The parameters are lost if the directory goes.
				errs = append(errs, err)
				continue
			}
			if err := os.RemoveAll(m); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// SweepTree applies Sweep to every model output directory under root,
// that is root/fits/<arm>/<model>, and to every directory below those.
// Entries at the arm level and above are never matched.
func SweepTree(root string, patterns []string) (int, error) {
	modelDirs, err := filepath.Glob(ModelOutDir(root, "*", "*"))
	if err != nil {
		return 0, fmt.Errorf("list model directories: %w", err)
	}

	var dirs []string
	for _, md := range modelDirs {
		err := filepath.WalkDir(md, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				dirs = append(dirs, path)
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("walk %s: %w", md, err)
		}
	}

	total := 0
	var errs []error
	for _, d := range dirs {
		n, err := Sweep(d, patterns)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// keepBestFitParams copies KeepPattern files from the directory src into
// dst. It does nothing when src is not a directory.
func keepBestFitParams(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(src, KeepPattern))
	if err != nil {
		return err
	}
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
	for _, m := range matches {
		name := filepath.Base(m)
		ext := filepath.Ext(name)
		kept := filepath.Join(dst, strings.TrimSuffix(name, ext)+"_"+stamp+ext)
		if err := copyFile(m, kept); err != nil {
			return fmt.Errorf("keep %s: %w", name, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
