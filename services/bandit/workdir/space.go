// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workdir

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// CheckFreeSpace fails with ErrInsufficientSpace when the filesystem
// holding dir has less than minBytes available. A dir that does not exist
// yet is measured at its nearest existing ancestor. A zero minimum
// disables the check; an unsupported platform logs and passes.
func CheckFreeSpace(dir string, minBytes uint64, logger *slog.Logger) error {
	if minBytes == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	at := nearestExisting(dir)
	free, err := FreeSpace(at)
	if err != nil {
		logger.Warn("free space check skipped",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if free < minBytes {
		return fmt.Errorf("%w: %s has %d MiB, need %d MiB",
			ErrInsufficientSpace, at, free>>20, minBytes>>20)
	}
	logger.Debug("free space ok",
		slog.String("dir", dir),
		slog.String("measured", at),
		slog.Uint64("free_mib", free>>20),
	)
	return nil
}

// nearestExisting walks up from dir to the first path that exists.
func nearestExisting(dir string) string {
	p := filepath.Clean(dir)
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
