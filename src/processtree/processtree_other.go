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

//go:build !linux

package processtree

import "os"

// readProcessTable has no portable non-Linux implementation here; it
// returns an empty table so Descendants degrades to "no descendants",
// which is the spec-mandated behavior for an unknowable process tree.
func readProcessTable() map[int][]int {
	return map[int][]int{}
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil || proc == nil {
		return false
	}
	// os.FindProcess always succeeds on POSIX; a real liveness probe
	// needs Signal(0), which is unavailable on this build target's
	// generic path, so we optimistically report not-found.
	return false
}
