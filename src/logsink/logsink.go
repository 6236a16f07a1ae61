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

// Package logsink writes per-run log files: a header at launch, a
// verbatim streamed body, and a footer at completion. Every operation
// is best-effort — I/O errors are swallowed after a single attempt, per
// the orchestrator's "transient I/O" error taxonomy, and are reported
// to the structured logger; StreamBody alone also returns its error to
// the caller.
package logsink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"batchrunner/src/logging"
	"batchrunner/src/model"
)

const timeLayout = "2006-01-02 15:04:05"

// WriteHeader creates the log's parent directory and writes the header
// block: started-at, display name, script path, required cores, and a
// separator line.
func WriteHeader(path string, job *model.Job) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logging.Log(fmt.Sprintf("logsink: failed to create log dir for %s: %v", path, err), slog.LevelError)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		logging.Log(fmt.Sprintf("logsink: failed to create log file %s: %v", path, err), slog.LevelError)
		return
	}
	defer f.Close()

	started := time.Now()
	if job.StartedAt != nil {
		started = *job.StartedAt
	}

	fmt.Fprintf(f, "Started: %s\n", started.Format(timeLayout))
	fmt.Fprintf(f, "Job: %s\n", job.Name)
	fmt.Fprintf(f, "Batch: %s\n", job.BatPath)
	fmt.Fprintf(f, "Cores: %d\n", job.RequiredCores)
	fmt.Fprintln(f, strings.Repeat("-", 60))
}

// AppendFooter appends a blank line, ended-at, status label and exit
// code (or "unknown" when unset).
func AppendFooter(path string, job *model.Job, statusLabel string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.Log(fmt.Sprintf("logsink: failed to append footer to %s: %v", path, err), slog.LevelError)
		return
	}
	defer f.Close()

	ended := time.Now()
	if job.EndedAt != nil {
		ended = *job.EndedAt
	}

	exitStr := "unknown"
	if job.ExitCode != nil {
		exitStr = fmt.Sprintf("%d", *job.ExitCode)
	}

	fmt.Fprintln(f)
	fmt.Fprintf(f, "Ended: %s\n", ended.Format(timeLayout))
	fmt.Fprintf(f, "Status: %s\n", statusLabel)
	fmt.Fprintf(f, "ExitCode: %s\n", exitStr)
}

// AppendLine appends a single timestamped free-form message, used for
// spawn-failure explanations and other ad-hoc notes.
func AppendLine(path string, message string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.Log(fmt.Sprintf("logsink: failed to append line to %s: %v", path, err), slog.LevelError)
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "[%s] %s\n", time.Now().Format(timeLayout), message)
}

// StreamBody copies r verbatim into the log file positioned after the
// header, run by a concurrent consumer of the child's merged
// stdout+stderr. It returns once r is exhausted or errors.
func StreamBody(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logging.Log(fmt.Sprintf("logsink: failed to open log for streaming %s: %v", path, err), slog.LevelError)
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}
