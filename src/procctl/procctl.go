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

// Package procctl abstracts the two OS capabilities the scheduler needs
// best-effort access to: raising a child's scheduling priority, and
// force-killing its entire process tree. Both are no-ops on platforms
// or under permissions that don't support them — callers never see a
// hard failure from either.
package procctl

import "os/exec"

// Controls is the "ProcessControls trait" named in spec.md's design
// notes: a capability abstraction so non-elevating platforms degrade to
// no-ops instead of forking scheduler logic per platform.
type Controls interface {
	// Elevate best-effort raises the scheduling priority of the given
	// PID. Permission errors are swallowed; this never blocks a launch.
	Elevate(pid int) error

	// KillTree force-terminates pid and every descendant reachable via
	// processtree.Descendants at call time.
	KillTree(pid int) error

	// SetCreationFlags mutates cmd, before Start, to control console
	// window visibility for platforms that support it. It is a no-op on
	// platforms without a console-window concept.
	SetCreationFlags(cmd *exec.Cmd, showConsoleWindow bool)
}

// Default returns the platform Controls implementation.
func Default() Controls {
	return defaultControls{}
}
