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

package scheduler

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"batchrunner/src/logging"
	"batchrunner/src/model"
)

// summaryFileName is the per-folder completion marker named in
// spec.md §6; its mere presence also tells a future AddFolder call
// this folder was already processed.
const summaryFileName = "batch_runner_summary.log"

// writeFolderSummary writes the human-readable completion block for a
// folder whose every job has reached Completed.
func writeFolderSummary(folder *model.Folder) {
	var b strings.Builder
	fmt.Fprintf(&b, "Folder: %s\n", folder.Name)
	fmt.Fprintf(&b, "Path: %s\n", folder.Path)
	fmt.Fprintf(&b, "Completed: %s\n\n", time.Now().Format(time.RFC3339))

	for _, j := range folder.Jobs {
		fmt.Fprintf(&b, "Job: %s\n", j.Name)
		fmt.Fprintf(&b, "  Status: %s\n", j.Status)
		if j.StartedAt != nil {
			fmt.Fprintf(&b, "  Started: %s\n", j.StartedAt.Format(time.RFC3339))
		}
		if j.EndedAt != nil {
			fmt.Fprintf(&b, "  Ended: %s\n", j.EndedAt.Format(time.RFC3339))
		}
		if j.StartedAt != nil && j.EndedAt != nil {
			fmt.Fprintf(&b, "  Elapsed: %s\n", formatElapsed(j.EndedAt.Sub(*j.StartedAt)))
		}
		if j.ExitCode != nil {
			fmt.Fprintf(&b, "  ExitCode: %d\n", *j.ExitCode)
		} else {
			fmt.Fprintf(&b, "  ExitCode: unknown\n")
		}
		fmt.Fprintln(&b)
	}

	path := filepath.Join(folder.Path, summaryFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		logging.Log(fmt.Sprintf("scheduler: failed to write folder summary %s: %v", path, err), slog.LevelError)
	}
}

func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}
