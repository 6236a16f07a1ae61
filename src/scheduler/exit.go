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
	"time"

	"batchrunner/src/logsink"
	"batchrunner/src/model"
)

// onExit is the completion handler of spec.md §4.5. It is called
// exactly once per supervised run, from the supervisor's background
// waiter goroutine — never from inside the admission pass — and
// serializes itself against every other scheduler operation by taking
// s.mu for its entire body.
func (s *Scheduler) onExit(jobID string, exitCode *int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, folder := s.snap.FindJob(jobID)
	if job == nil {
		// Folder holding this job was removed while the process was
		// still draining; there is nothing left to finalize.
		delete(s.handles, jobID)
		delete(s.intents, jobID)
		return
	}

	logPath := job.LogPath
	delete(s.handles, jobID)
	in := s.intents[jobID]
	delete(s.intents, jobID)

	now := time.Now()
	job.EndedAt = &now
	job.ExitCode = exitCode

	switch {
	case in == intentRestart:
		logsink.AppendFooter(logPath, job, "Restarted")
		clearRunState(job)
		job.RetryCount = 0
		job.Status = model.JobQueued

	case in == intentCancel:
		job.Status = model.JobCancelled
		logsink.AppendFooter(logPath, job, "Cancelled")
		s.metrics.incCancelled()
		s.audit.Record(job, "Cancelled")

	case exitCode != nil && *exitCode == 0:
		job.Status = model.JobCompleted
		logsink.AppendFooter(logPath, job, "Completed")
		s.metrics.incCompleted()
		s.audit.Record(job, "Completed")
		if folder != nil && allCompleted(folder) {
			writeFolderSummary(folder)
		}

	default:
		job.Status = model.JobFailed
		logsink.AppendFooter(logPath, job, "Failed")
		s.metrics.incFailed()
		s.audit.Record(job, "Failed")

		if s.snap.Settings.AutoRetryFailedJobs && job.RetryCount < 1 {
			job.RetryCount++
			logsink.AppendFooter(logPath, job, "Failed (auto retry)")
			clearRunState(job)
			job.Status = model.JobQueued
		}
	}

	if folder != nil {
		folder.Status = folder.AggregateStatus()
	}

	s.metrics.setCoresInUse(int64(s.usedCoresLocked()), int64(s.totalCores))
	s.tryStartJobsLocked()
	s.store.Save(s.snap)
}

func clearRunState(job *model.Job) {
	job.StartedAt = nil
	job.EndedAt = nil
	job.ExitCode = nil
	job.LogPath = ""
}

func allCompleted(f *model.Folder) bool {
	for _, j := range f.Jobs {
		if j.Status != model.JobCompleted {
			return false
		}
	}
	return true
}

// CancelJob cancels job per spec.md §4.5: a Running job is killed
// (cooperative intent + forceful tree-kill), its completion is
// finalized by onExit; a Queued job is cancelled immediately; a
// terminal job is a no-op.
func (s *Scheduler) CancelJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, folder := s.snap.FindJob(jobID)
	if job == nil {
		return false
	}

	switch job.Status {
	case model.JobRunning:
		s.intents[jobID] = intentCancel
		if h, ok := s.handles[jobID]; ok {
			_ = s.sup.Cancel(h)
		}
	case model.JobQueued:
		now := time.Now()
		job.Status = model.JobCancelled
		job.EndedAt = &now
		s.metrics.incCancelled()
		s.audit.Record(job, "Cancelled")
		if folder != nil {
			folder.Status = folder.AggregateStatus()
		}
		s.tryStartJobsLocked()
	default:
		// Terminal: no-op.
	}

	s.store.Save(s.snap)
	return true
}

// RestartJob restarts job per spec.md §4.5: a Running job is killed
// with a restart intent so onExit re-queues it; any other status is
// reset and re-queued immediately. A user-initiated restart always
// zeroes retry_count, per spec.md §3 ("reset only by a user-initiated
// restart") — unlike the automatic retry path, which leaves it alone.
func (s *Scheduler) RestartJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, folder := s.snap.FindJob(jobID)
	if job == nil {
		return false
	}

	if job.Status == model.JobRunning {
		s.intents[jobID] = intentRestart
		if h, ok := s.handles[jobID]; ok {
			_ = s.sup.Cancel(h)
		}
		s.store.Save(s.snap)
		return true
	}

	clearRunState(job)
	job.RetryCount = 0
	job.Status = model.JobQueued
	if folder != nil {
		folder.Status = folder.AggregateStatus()
	}
	s.tryStartJobsLocked()
	s.store.Save(s.snap)
	return true
}
