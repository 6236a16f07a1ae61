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

// Package supervisor is the per-started-job concern: launch the child,
// stream its merged stdout+stderr into the log, wait for the root
// process to exit, then poll ProcessTree until every descendant has
// also exited, then notify the scheduler. A Supervisor never mutates
// Job or Folder fields itself — that is the scheduler's exclusive
// right; it only calls the onExit callback the scheduler hands it, and
// that callback is what actually touches scheduler state. The fire-
// and-forget waiter goroutine below never reaches into scheduler state
// directly, exactly as the design notes require.
package supervisor

import (
	"io"
	"os/exec"
	"strings"
	"time"

	"batchrunner/src/logsink"
	"batchrunner/src/model"
	"batchrunner/src/procctl"
	"batchrunner/src/processtree"
)

// DrainPollInterval is the interval at which descendant drain is polled,
// per spec.md §4.5.
const DrainPollInterval = 2 * time.Second

// Handle is the OS process handle a Supervisor holds for one live job.
// The scheduler only ever sees this as an opaque token to pass back
// into Cancel.
type Handle struct {
	JobID string
	pid   int
	cmd   *exec.Cmd
}

// PID returns the root process id, for ProcessControls and logging.
func (h *Handle) PID() int { return h.pid }

// Supervisor launches and tracks child processes using the given
// ProcessControls for priority elevation and tree-kill.
type Supervisor struct {
	controls procctl.Controls
}

// New returns a Supervisor backed by controls.
func New(controls procctl.Controls) *Supervisor {
	return &Supervisor{controls: controls}
}

// Start spawns job's script through a shell in workDir, streams its
// merged output into job.LogPath, and arms the one-shot completion
// waiter described in spec.md §4.5 step 6. onExit is invoked exactly
// once, from a background goroutine, with the retrieved exit code (nil
// if unretrievable). onExit must be safe to call from any goroutine —
// the scheduler is responsible for serializing its own state against
// concurrent calls.
func (s *Supervisor) Start(job *model.Job, workDir string, showConsoleWindow bool, onExit func(jobID string, exitCode *int)) (*Handle, error) {
	cmd := exec.Command("/bin/sh", "-c", shellQuote(job.BatPath))
	if workDir != "" {
		cmd.Dir = workDir
	}
	s.controls.SetCreationFlags(cmd, showConsoleWindow)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, err
	}

	go func() {
		_ = logsink.StreamBody(job.LogPath, pr)
	}()

	handle := &Handle{JobID: job.ID, cmd: cmd, pid: cmd.Process.Pid}

	go func() {
		waitErr := cmd.Wait()
		pw.Close()

		s.drainDescendants(handle.pid)

		onExit(job.ID, exitCodeOf(cmd, waitErr))
	}()

	return handle, nil
}

// Cancel force-terminates the entire process tree rooted at the
// handle's PID. The completion path (the Start goroutine's cmd.Wait)
// finalizes the job's state once the kill takes effect.
func (s *Supervisor) Cancel(h *Handle) error {
	if h == nil {
		return nil
	}
	return s.controls.KillTree(h.pid)
}

// drainDescendants polls ProcessTree at DrainPollInterval until the
// root's descendant set is empty, returning on the first empty read. A
// process table that cannot be read also reads as empty, so an
// inspection failure counts as "fully drained", matching the process-
// inspection-failure branch of the error taxonomy.
func (s *Supervisor) drainDescendants(rootPID int) {
	for {
		if len(processtree.Descendants(rootPID)) == 0 {
			return
		}
		time.Sleep(DrainPollInterval)
	}
}

// exitCodeOf extracts the script's exit code from a finished command.
// Any non-ExitError wait failure (signal, I/O error) yields an unset
// code, per the "process inspection failure" branch of the error
// taxonomy — the caller never sees a panic or a fabricated code.
func exitCodeOf(cmd *exec.Cmd, waitErr error) *int {
	if waitErr == nil {
		code := cmd.ProcessState.ExitCode()
		return &code
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		return &code
	}
	return nil
}

// shellQuote wraps path in single quotes for safe interpolation into a
// `sh -c` script, escaping any embedded single quote.
func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
