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

package procctl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"batchrunner/src/logging"
)

// Watchdog periodically re-asserts elevated scheduling priority on
// named worker processes. It is deliberately kept out of the
// scheduler's package and invariants (spec.md's design notes call this
// out explicitly): it never reads or writes Job/Folder state, it only
// scans the OS process list for processes whose name matches one of
// its targets and re-applies Elevate to them. It is opt-in — nothing
// starts it unless the deployment configures process names to watch.
type Watchdog struct {
	controls Controls
	names    []string
	interval time.Duration
}

// NewWatchdog builds a Watchdog for the given process names. An empty
// names list makes Run a no-op loop that only waits for cancellation.
func NewWatchdog(controls Controls, names []string, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Watchdog{controls: controls, names: names, interval: interval}
}

// Run blocks until ctx is cancelled, re-elevating matching processes on
// each tick.
func (w *Watchdog) Run(ctx context.Context) {
	if len(w.names) == 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	pids := w.matchingPIDs()
	for _, pid := range pids {
		if err := w.controls.Elevate(pid); err != nil {
			logging.Log(fmt.Sprintf("watchdog: failed to elevate pid %d: %v", pid, err), slog.LevelWarn)
		}
	}
}

// matchingPIDs does a best-effort scan of /proc/*/comm for process
// names in w.names. It is intentionally independent of the scheduler's
// own tracked-child map: the watchdog is meant to catch worker
// processes launched outside the orchestrator too.
func (w *Watchdog) matchingPIDs() []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	var matches []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile("/proc/" + e.Name() + "/comm")
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(comm))
		for _, want := range w.names {
			if name == want {
				matches = append(matches, pid)
				break
			}
		}
	}
	return matches
}
