// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

// Package coreprobe returns the total physical core count, queried
// once at startup. This is an out-of-scope collaborator per spec.md
// §1 — the heuristic for distinguishing physical cores from hardware
// threads is not this repo's concern, so it reaches for runtime.NumCPU
// (see DESIGN.md for why no third-party CPU-topology library is
// wired in for what the spec explicitly scopes out).
package coreprobe

import (
	"os"
	"runtime"
	"strconv"
)

// TotalCores returns the physical core budget for this host. An
// operator override via the BATCHRUNNER_TOTAL_CORES environment
// variable takes precedence, for hosts where runtime.NumCPU()
// overcounts hardware threads.
func TotalCores() int {
	if v := os.Getenv("BATCHRUNNER_TOTAL_CORES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}
