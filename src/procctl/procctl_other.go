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

package procctl

import "os/exec"

type defaultControls struct{}

// Elevate is a no-op on platforms without a supported priority API here.
func (defaultControls) Elevate(pid int) error { return nil }

// KillTree is a no-op here: without a platform-specific process-table
// reader the descendant set is unknowable (processtree treats it as "no
// descendants"), and the root process is not signalled either.
func (defaultControls) KillTree(pid int) error { return nil }

// SetCreationFlags is a no-op; no console-window concept here.
func (defaultControls) SetCreationFlags(cmd *exec.Cmd, showConsoleWindow bool) {}
