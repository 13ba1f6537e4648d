// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command lcbandit chooses which transient light curve to observe next
// using an upper-confidence-bound bandit over model-fit rewards.
package main

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	err := newRootCmd().Execute()
	// Interrupts cancel the run context instead of exiting here, so sealed
	// credentials are wiped on the way out.
	memguard.Purge()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
