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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchrunner/src/auditsink"
	"batchrunner/src/model"
	"batchrunner/src/procctl"
	"batchrunner/src/statestore"
	"batchrunner/src/supervisor"
)

func newTestScheduler(t *testing.T, totalCores int) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	logRoot := filepath.Join(dir, "logs")
	require.NoError(t, os.MkdirAll(logRoot, 0o755))
	store := statestore.New(filepath.Join(dir, "state.json"))
	controls := procctl.Default()
	sup := supervisor.New(controls)
	return New(totalCores, logRoot, store, sup, controls, auditsink.NoOp{})
}

// writeScript writes an executable shell script whose required-cores
// scan sees an inert "-np N" line (inspector doesn't recognize '#' as a
// comment, so the shell comment still counts for core detection) while
// `sh` itself treats the line as a no-op comment.
func writeScript(t *testing.T, dir, name string, cores int, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n#mpiexec -np " + itoa(cores) + " noop\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, cond(), "condition not met within %s", timeout)
}

func jobByID(snap *model.Snapshot, id string) *model.Job {
	j, _ := snap.FindJob(id)
	return j
}

// Scenario 1: single small job runs to completion and queue_finished
// fires.
func TestScenario_SingleSmallJob(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1_mesh.bat", 2, "exit 0")

	s := newTestScheduler(t, 4)
	folder, ok := s.AddFolder(dir)
	require.True(t, ok)
	require.Len(t, folder.Jobs, 1)
	jobID := folder.Jobs[0].ID

	s.StartQueue()

	_, snap := s.Observe()
	job := jobByID(snap, jobID)
	require.NotNil(t, job)
	assert.Equal(t, model.JobRunning, job.Status)
	counts, _ := s.Observe()
	assert.Equal(t, 2, counts.UsedCores)
	assert.Equal(t, 2, counts.AvailableCores)

	var finished bool
	eventually(t, 3*time.Second, func() bool {
		select {
		case ev := <-s.Events():
			if ev.Type == QueueFinished {
				finished = true
			}
		default:
		}
		_, snap := s.Observe()
		return jobByID(snap, jobID).Status == model.JobCompleted
	})
	assert.True(t, finished, "expected queue_finished to fire")

	_, snap = s.Observe()
	job = jobByID(snap, jobID)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, model.FolderCompleted, snap.Folders[0].Status)
}

// Scenario 2: two folders each with one job admit in parallel when the
// budget allows both.
func TestScenario_ParallelAcrossFolders(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeScript(t, dirA, "1_mesh.bat", 4, "sleep 0.3; exit 0")
	writeScript(t, dirB, "1_mesh.bat", 4, "sleep 0.3; exit 0")

	s := newTestScheduler(t, 8)
	fa, ok := s.AddFolder(dirA)
	require.True(t, ok)
	fb, ok := s.AddFolder(dirB)
	require.True(t, ok)

	s.StartQueue()

	_, snap := s.Observe()
	assert.Equal(t, model.JobRunning, jobByID(snap, fa.Jobs[0].ID).Status)
	assert.Equal(t, model.JobRunning, jobByID(snap, fb.Jobs[0].ID).Status)
	counts, _ := s.Observe()
	assert.Equal(t, 8, counts.UsedCores)
	assert.Equal(t, 0, counts.AvailableCores)

	eventually(t, 3*time.Second, func() bool {
		_, snap := s.Observe()
		return jobByID(snap, fa.Jobs[0].ID).Status == model.JobCompleted &&
			jobByID(snap, fb.Jobs[0].ID).Status == model.JobCompleted
	})
}

// Scenario 3: two jobs in one folder run sequentially even when both
// would fit concurrently under the core budget.
func TestScenario_SequentialWithinFolder(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1_mesh.bat", 2, "sleep 0.3; exit 0")
	writeScript(t, dir, "2_decompose.bat", 2, "exit 0")

	s := newTestScheduler(t, 4)
	folder, ok := s.AddFolder(dir)
	require.True(t, ok)
	require.Len(t, folder.Jobs, 2)
	a1, a2 := folder.Jobs[0].ID, folder.Jobs[1].ID

	s.StartQueue()

	_, snap := s.Observe()
	assert.Equal(t, model.JobRunning, jobByID(snap, a1).Status)
	assert.Equal(t, model.JobQueued, jobByID(snap, a2).Status, "second job must wait even though cores are free")

	eventually(t, 3*time.Second, func() bool {
		_, snap := s.Observe()
		return jobByID(snap, a1).Status == model.JobCompleted
	})

	eventually(t, 3*time.Second, func() bool {
		_, snap := s.Observe()
		return jobByID(snap, a2).Status == model.JobRunning || jobByID(snap, a2).Status == model.JobCompleted
	})
}

// Scenario 4: a job whose required cores exceed the total budget is
// never admitted; queue_finished does not fire while it is stuck Queued.
func TestScenario_OverCommitDenial(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1_mesh.bat", 4, "exit 0")

	s := newTestScheduler(t, 2)
	folder, ok := s.AddFolder(dir)
	require.True(t, ok)
	jobID := folder.Jobs[0].ID

	s.StartQueue()

	time.Sleep(150 * time.Millisecond)
	_, snap := s.Observe()
	assert.Equal(t, model.JobQueued, jobByID(snap, jobID).Status)

	select {
	case ev := <-s.Events():
		assert.NotEqual(t, QueueFinished, ev.Type, "queue_finished must not fire while an unadmittable job remains queued")
	default:
	}
}

// Scenario 5: a job that exits non-zero is retried exactly once when
// auto-retry is enabled, then marked Failed for good on a second
// failure.
func TestScenario_AutoRetry(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "attempts")
	// Every invocation appends "x\n" (two bytes) to the marker and exits
	// 3, so the marker's length counts the runs: the original run plus
	// the single auto-retry leaves four bytes.
	writeScript(t, dir, "1_mesh.bat", 1, "echo x >> '"+marker+"'; exit 3")

	s := newTestScheduler(t, 2)
	s.UpdateSettings(model.Settings{AutoRetryFailedJobs: true})
	folder, ok := s.AddFolder(dir)
	require.True(t, ok)
	jobID := folder.Jobs[0].ID

	s.StartQueue()

	eventually(t, 3*time.Second, func() bool {
		_, snap := s.Observe()
		return jobByID(snap, jobID).Status == model.JobFailed
	})

	_, snap := s.Observe()
	job := jobByID(snap, jobID)
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount, "exactly one retry should have been consumed")

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Len(t, data, 4, "script should have run exactly twice (original + one retry)")
}

// Scenario 6: restarting a Running job kills its tree and re-queues it.
func TestScenario_RestartRunningJob(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1_mesh.bat", 1, "sleep 5; exit 0")

	s := newTestScheduler(t, 2)
	folder, ok := s.AddFolder(dir)
	require.True(t, ok)
	jobID := folder.Jobs[0].ID

	s.StartQueue()

	eventually(t, 2*time.Second, func() bool {
		_, snap := s.Observe()
		return jobByID(snap, jobID).Status == model.JobRunning
	})

	_, snap := s.Observe()
	firstStart := *jobByID(snap, jobID).StartedAt

	assert.True(t, s.RestartJob(jobID))

	// onExit clears the run state and re-queues the job; with the queue
	// still running, the same admission pass re-admits it with a fresh
	// start time.
	eventually(t, 3*time.Second, func() bool {
		_, snap := s.Observe()
		job := jobByID(snap, jobID)
		return job.Status == model.JobRunning && job.StartedAt != nil && job.StartedAt.After(firstStart)
	})

	_, snap = s.Observe()
	job := jobByID(snap, jobID)
	require.NotNil(t, job.StartedAt)
	assert.True(t, job.StartedAt.After(firstStart))
	assert.Nil(t, job.EndedAt)
	assert.Nil(t, job.ExitCode)

	// Cancel the re-admitted run so it does not outlive the test's temp dirs.
	assert.True(t, s.CancelJob(jobID))
	eventually(t, 3*time.Second, func() bool {
		_, snap := s.Observe()
		return jobByID(snap, jobID).Status == model.JobCancelled
	})
}

// A user-initiated restart always zeroes retry_count, even for a job
// that already exhausted its one auto-retry — unlike the automatic
// retry path, a user restart is a fresh start.
func TestRestart_ResetsExhaustedRetryCount(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1_mesh.bat", 1, "exit 3")

	s := newTestScheduler(t, 2)
	s.UpdateSettings(model.Settings{AutoRetryFailedJobs: true})
	folder, ok := s.AddFolder(dir)
	require.True(t, ok)
	jobID := folder.Jobs[0].ID

	s.StartQueue()

	eventually(t, 3*time.Second, func() bool {
		_, snap := s.Observe()
		return jobByID(snap, jobID).Status == model.JobFailed
	})
	_, snap := s.Observe()
	require.Equal(t, 1, jobByID(snap, jobID).RetryCount)

	assert.True(t, s.RestartJob(jobID))

	eventually(t, 3*time.Second, func() bool {
		_, snap := s.Observe()
		job := jobByID(snap, jobID)
		return job.Status == model.JobQueued || job.Status == model.JobRunning || job.Status == model.JobFailed
	})
	_, snap = s.Observe()
	job := jobByID(snap, jobID)
	assert.Equal(t, 0, job.RetryCount, "user restart must reset retry_count even though auto-retry had already been consumed")
}

// Cancelling a Queued job (never admitted) is immediate.
func TestCancelQueuedJob(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "1_mesh.bat", 4, "exit 0")

	s := newTestScheduler(t, 2)
	folder, ok := s.AddFolder(dir)
	require.True(t, ok)
	jobID := folder.Jobs[0].ID

	s.StartQueue()
	assert.True(t, s.CancelJob(jobID))

	_, snap := s.Observe()
	assert.Equal(t, model.JobCancelled, jobByID(snap, jobID).Status)
}

// Universal invariant: cores in use never exceed the total budget.
func TestInvariant_CoresNeverExceedBudget(t *testing.T) {
	dirA, dirB, dirC := t.TempDir(), t.TempDir(), t.TempDir()
	writeScript(t, dirA, "1_mesh.bat", 3, "sleep 0.2; exit 0")
	writeScript(t, dirB, "1_mesh.bat", 3, "sleep 0.2; exit 0")
	writeScript(t, dirC, "1_mesh.bat", 3, "sleep 0.2; exit 0")

	s := newTestScheduler(t, 4)
	_, _ = s.AddFolder(dirA)
	_, _ = s.AddFolder(dirB)
	_, _ = s.AddFolder(dirC)

	s.StartQueue()

	for i := 0; i < 10; i++ {
		counts, _ := s.Observe()
		assert.LessOrEqual(t, counts.UsedCores, counts.TotalCores)
		time.Sleep(50 * time.Millisecond)
	}
}
