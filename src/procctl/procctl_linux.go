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

//go:build linux

package procctl

import (
	"os/exec"
	"syscall"

	"batchrunner/src/processtree"
)

type defaultControls struct{}

// Elevate lowers the niceness value of pid (higher scheduling priority),
// best-effort. Without CAP_SYS_NICE this fails silently for a
// non-owned process or when going below the current nice value.
func (defaultControls) Elevate(pid int) error {
	_ = syscall.Setpriority(syscall.PRIO_PROCESS, pid, -5)
	return nil
}

// KillTree sends SIGKILL to pid and every descendant found in a single
// process-table snapshot. Errors killing individual PIDs (already
// exited, permission denied) are ignored — the caller only cares that
// the tree trends toward empty.
func (defaultControls) KillTree(pid int) error {
	descendants := processtree.Descendants(pid)
	for d := range descendants {
		_ = syscall.Kill(d, syscall.SIGKILL)
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
	return nil
}

// SetCreationFlags has no console-window concept on Linux; scripts
// always inherit the parent's terminal (or lack of one).
func (defaultControls) SetCreationFlags(cmd *exec.Cmd, showConsoleWindow bool) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
