// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package workdir

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("not supported on this platform")

// Without flock the lock is advisory through the holder file only.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }

func processAlive(int) bool { return false }

// FreeSpace is not implemented off unix.
func FreeSpace(string) (uint64, error) { return 0, errUnsupported }
