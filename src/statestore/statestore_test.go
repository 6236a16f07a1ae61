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

package statestore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchrunner/src/model"
)

func TestLoad_MissingFileYieldsEmptySnapshot(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing.json"))
	snap := store.Load()
	assert.NotNil(t, snap)
	assert.Empty(t, snap.Folders)
}

func TestLoad_CorruptFileYieldsEmptySnapshotAndIsNotDeleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := New(path)
	snap := store.Load()
	assert.Empty(t, snap.Folders)

	_, err := os.Stat(path)
	assert.NoError(t, err, "corrupt state file must not be deleted")
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "1_mesh.bat")
	require.NoError(t, os.WriteFile(scriptPath, []byte("blockMesh\n"), 0o644))

	store := New(filepath.Join(dir, "state.json"))
	snap := &model.Snapshot{
		Folders: []*model.Folder{
			{
				ID:   "folder-1",
				Name: "case1",
				Path: dir,
				Jobs: []*model.Job{
					{ID: "job-1", BatPath: scriptPath, Name: "1_mesh.bat", RequiredCores: 1, Status: model.JobQueued, AddedAt: time.Now()},
				},
			},
		},
	}
	store.Save(snap)

	reloaded := store.Load()
	require.Len(t, reloaded.Folders, 1)
	require.Len(t, reloaded.Folders[0].Jobs, 1)
	assert.Equal(t, "job-1", reloaded.Folders[0].Jobs[0].ID)
	assert.Equal(t, model.JobQueued, reloaded.Folders[0].Jobs[0].Status)
}

func TestLoad_DemotesStrandedRunningJobToQueued(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	scriptPath := filepath.Join(dir, "3_run.bat")
	require.NoError(t, os.WriteFile(scriptPath, []byte("mpiexec -np 4\n"), 0o644))

	store := New(path)
	now := time.Now()
	exitCode := 0
	store.Save(&model.Snapshot{
		Folders: []*model.Folder{
			{
				ID:     "folder-1",
				Name:   "case1",
				Path:   dir,
				Status: model.FolderRunning,
				Jobs: []*model.Job{
					{
						ID: "job-1", BatPath: scriptPath, Name: "3_run.bat",
						Status: model.JobRunning, StartedAt: &now, EndedAt: &now,
						ExitCode: &exitCode, LogPath: "/tmp/whatever.log",
					},
				},
			},
		},
	})

	reloaded := store.Load()
	job := reloaded.Folders[0].Jobs[0]
	assert.Equal(t, model.JobQueued, job.Status)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.EndedAt)
	assert.Nil(t, job.ExitCode)
	assert.Empty(t, job.LogPath)
	assert.Equal(t, 4, job.RequiredCores, "required cores should be re-derived from the still-present script")
}

func TestLoad_BackfillsMissingIdsAndNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := New(path)
	store.Save(&model.Snapshot{
		Folders: []*model.Folder{
			{Path: dir, Jobs: []*model.Job{{BatPath: filepath.Join(dir, "1_mesh.bat")}}},
		},
	})

	reloaded := store.Load()
	assert.NotEmpty(t, reloaded.Folders[0].ID)
	assert.Equal(t, filepath.Base(dir), reloaded.Folders[0].Name)
	assert.NotEmpty(t, reloaded.Folders[0].Jobs[0].ID)
	assert.Equal(t, "1_mesh.bat", reloaded.Folders[0].Jobs[0].Name)
}
