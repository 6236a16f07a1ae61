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

// Package statestore loads and saves the whole-system Snapshot as a
// single indented JSON document, and normalizes it on load so a
// crash-recovered file never produces a ghost "Running" job.
package statestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"batchrunner/src/inspector"
	"batchrunner/src/logging"
	"batchrunner/src/model"
)

// Store loads and persists a Snapshot to a single JSON file.
type Store struct {
	path string
}

// New returns a Store backed by the given file path.
func New(path string) *Store {
	return &Store{path: path}
}

// Load reads and normalizes the snapshot. An absent or unparsable file
// yields an empty, already-normalized snapshot rather than an error:
// state-file corruption is never fatal and the file is never deleted.
func (s *Store) Load() *model.Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return normalize(&model.Snapshot{})
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logging.Log(fmt.Sprintf("statestore: corrupt state file %s, treating as empty: %v", s.path, err), slog.LevelError)
		return normalize(&model.Snapshot{})
	}

	return normalize(&snap)
}

// Save serializes the snapshot as indented JSON, writes it to a
// temporary sibling file and renames that over the state file. Save is
// best-effort and synchronous: a failure is logged
// but never propagated as a reason to abort the caller's own mutation.
func (s *Store) Save(snap *model.Snapshot) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		logging.Log(fmt.Sprintf("statestore: failed to create state dir: %v", err), slog.LevelError)
		return
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		logging.Log(fmt.Sprintf("statestore: failed to marshal snapshot: %v", err), slog.LevelError)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.Log(fmt.Sprintf("statestore: failed to write state file: %v", err), slog.LevelError)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		logging.Log(fmt.Sprintf("statestore: failed to replace state file: %v", err), slog.LevelError)
	}
}

// normalize fills missing ids/names, re-derives required_cores for jobs
// whose script still exists, fills default timestamps, and demotes any
// Running job (and its owning folder) to Queued — normalize is
// idempotent and never leaves a Running job behind.
func normalize(snap *model.Snapshot) *model.Snapshot {
	if snap == nil {
		snap = &model.Snapshot{}
	}

	for _, f := range snap.Folders {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.Name == "" {
			f.Name = filepath.Base(f.Path)
		}

		anyDemoted := false
		for _, j := range f.Jobs {
			if j.ID == "" {
				j.ID = uuid.New().String()
			}
			if j.Name == "" {
				j.Name = filepath.Base(j.BatPath)
			}
			if j.AddedAt.IsZero() {
				j.AddedAt = time.Now()
			}
			if _, err := os.Stat(j.BatPath); err == nil {
				j.RequiredCores = inspector.RequiredCores(j.BatPath)
			}
			if j.RequiredCores < 1 {
				j.RequiredCores = 1
			}

			if j.Status == model.JobRunning {
				j.Status = model.JobQueued
				j.StartedAt = nil
				j.EndedAt = nil
				j.ExitCode = nil
				j.LogPath = ""
				anyDemoted = true
			}
		}

		if anyDemoted || f.Status == model.FolderRunning {
			f.Status = f.AggregateStatus()
		}
	}

	return snap
}
