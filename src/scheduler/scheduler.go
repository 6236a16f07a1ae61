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

// Package scheduler is the admission, dispatch and completion engine:
// it owns the Job/Folder state machine and the core budget behind a
// single mutex, admits work under spec.md §4.5's algorithm, and is the
// exclusive mutator of Job/Folder status, timestamps, exit codes and
// log paths. The Control API (controlapi package) only calls in here;
// it never touches a Job or Folder field directly.
package scheduler

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"batchrunner/src/auditsink"
	"batchrunner/src/inspector"
	"batchrunner/src/logging"
	"batchrunner/src/logsink"
	"batchrunner/src/model"
	"batchrunner/src/procctl"
	"batchrunner/src/statestore"
	"batchrunner/src/supervisor"

	"sync"
)

// knownScriptNames is the fixed, ordered set of script names a folder
// enrollment recognizes; a folder picks up whichever of these exist in
// its path, in this order, per spec.md §4.7's "known sequence of
// scripts" add_folder contract.
var knownScriptNames = []string{
	"1_mesh.bat",
	"2_decompose.bat",
	"3_run.bat",
	"4_reconstruct.bat",
	"5_post.bat",
}

// completedMarkers are the files whose presence marks a folder as
// already processed, per spec.md §4.7/§6.
var completedMarkers = []string{"batch_runner_summary.log", "save_results.log"}

type intent int

const (
	intentNone intent = iota
	intentCancel
	intentRestart
)

// Counts is the observe() response: total/used/available cores.
type Counts struct {
	TotalCores     int
	UsedCores      int
	AvailableCores int
}

// EventType enumerates the scheduler's single event kind.
type EventType string

// QueueFinished fires when an admission pass ends with nothing Running
// and nothing Queued while the queue was Running.
const QueueFinished EventType = "queue_finished"

// Event is a value sent on the scheduler's event channel.
type Event struct {
	Type EventType
}

// Scheduler is the single serialization context for all folder/job
// mutation. Every exported method holds the mutex for its whole
// duration, including the spawn, log I/O and state save it performs;
// the lock is not released around those suspension points.
type Scheduler struct {
	mu sync.Mutex

	totalCores int
	snap       *model.Snapshot
	running    bool
	admitting  bool

	handles map[string]*supervisor.Handle
	intents map[string]intent

	logRoot  string
	store    *statestore.Store
	sup      *supervisor.Supervisor
	controls procctl.Controls
	audit    auditsink.Sink

	events  chan Event
	metrics *metrics
}

// New constructs a Scheduler, loading (and normalizing) the persisted
// snapshot from store.
func New(totalCores int, logRoot string, store *statestore.Store, sup *supervisor.Supervisor, controls procctl.Controls, audit auditsink.Sink) *Scheduler {
	if audit == nil {
		audit = auditsink.NoOp{}
	}
	return &Scheduler{
		totalCores: totalCores,
		snap:       store.Load(),
		handles:    make(map[string]*supervisor.Handle),
		intents:    make(map[string]intent),
		logRoot:    logRoot,
		store:      store,
		sup:        sup,
		controls:   controls,
		audit:      audit,
		events:     make(chan Event, 16),
		metrics:    newMetrics(),
	}
}

// Events returns the channel queue_finished is published on.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

func (s *Scheduler) fireEvent(e Event) {
	select {
	case s.events <- e:
	default:
		logging.Log("scheduler: event channel full, dropping "+string(e.Type), slog.LevelWarn)
	}
}

// Observe returns the current core counts and an immutable snapshot
// view, per the Control API's observe() operation.
func (s *Scheduler) Observe() (Counts, *model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.usedCoresLocked()
	avail := s.totalCores - used
	if avail < 0 {
		avail = 0
	}
	return Counts{TotalCores: s.totalCores, UsedCores: used, AvailableCores: avail}, s.snap.Clone()
}

func (s *Scheduler) usedCoresLocked() int {
	used := 0
	for _, f := range s.snap.Folders {
		for _, j := range f.Jobs {
			if j.Status == model.JobRunning {
				used += j.RequiredCores
			}
		}
	}
	return used
}

func (s *Scheduler) anyRunningLocked() bool {
	for _, f := range s.snap.Folders {
		for _, j := range f.Jobs {
			if j.Status == model.JobRunning {
				return true
			}
		}
	}
	return false
}

func (s *Scheduler) anyQueuedLocked() bool {
	for _, f := range s.snap.Folders {
		for _, j := range f.Jobs {
			if j.Status == model.JobQueued {
				return true
			}
		}
	}
	return false
}

// StartQueue sets the running flag and runs an admission pass.
func (s *Scheduler) StartQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.tryStartJobsLocked()
	s.store.Save(s.snap)
}

// PauseQueue clears the running flag. Already-running jobs are
// unaffected.
func (s *Scheduler) PauseQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.store.Save(s.snap)
}

// PollAdmission runs a fallback admission pass without forcing the
// queue into the running state: a no-op while paused, and a no-op once
// queue_finished has already fired. Intended for a periodic housekeeping
// tick that re-admits stranded Queued jobs after a missed completion
// event, without resurrecting a queue the user explicitly paused or
// re-firing queue_finished on every subsequent tick.
func (s *Scheduler) PollAdmission() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tryStartJobsLocked()
	s.store.Save(s.snap)
}

// UpdateSettings replaces the persisted Settings record and runs an
// admission pass, since a settings change (e.g. auto-retry being turned
// on) can immediately change what the scheduler is allowed to do.
func (s *Scheduler) UpdateSettings(settings model.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Settings = settings
	s.tryStartJobsLocked()
	s.store.Save(s.snap)
}

// tryStartJobsLocked is the admission pass of spec.md §4.5. Callers
// must already hold s.mu. It is a no-op if the queue isn't running or
// if a pass is already in progress (reentrant calls are suppressed by
// the admitting guard).
func (s *Scheduler) tryStartJobsLocked() {
	if s.admitting || !s.running {
		return
	}
	s.admitting = true
	defer func() { s.admitting = false }()

	available := s.totalCores - s.usedCoresLocked()
	if available < 0 {
		available = 0
	}

	for _, f := range s.snap.Folders {
		if folderHasStatus(f, model.JobRunning) {
			continue
		}
		if folderHasStatus(f, model.JobFailed) || folderHasStatus(f, model.JobCancelled) {
			continue
		}

		next, idx := firstQueued(f)
		if next == nil {
			continue
		}
		if !allBeforeCompleted(f, idx) {
			continue
		}
		if next.RequiredCores > available {
			continue
		}

		if s.startJobLocked(f, next) {
			available -= next.RequiredCores
		}
		// On spawn failure startJobLocked already marked the job
		// Failed without consuming budget; the loop simply moves on to
		// the next folder, which is equivalent to spec's "run another
		// admission pass" without a genuinely reentrant call.
	}

	if !s.anyRunningLocked() && !s.anyQueuedLocked() {
		s.running = false
		s.fireEvent(Event{Type: QueueFinished})
	}
}

func folderHasStatus(f *model.Folder, status model.JobStatus) bool {
	for _, j := range f.Jobs {
		if j.Status == status {
			return true
		}
	}
	return false
}

func firstQueued(f *model.Folder) (*model.Job, int) {
	for i, j := range f.Jobs {
		if j.Status == model.JobQueued {
			return j, i
		}
	}
	return nil, -1
}

func allBeforeCompleted(f *model.Folder, idx int) bool {
	for i := 0; i < idx; i++ {
		if f.Jobs[i].Status != model.JobCompleted {
			return false
		}
	}
	return true
}

// startJobLocked transitions job to Running and spawns its supervisor.
// It reports whether the job actually started (false on spawn
// failure, in which case the job is already Failed).
func (s *Scheduler) startJobLocked(f *model.Folder, job *model.Job) bool {
	logPath := s.buildLogPath(f, job)

	now := time.Now()
	job.Status = model.JobRunning
	job.StartedAt = &now
	job.EndedAt = nil
	job.ExitCode = nil
	job.LogPath = logPath
	f.Status = f.AggregateStatus()

	logsink.WriteHeader(logPath, job)

	workDir := filepath.Dir(job.BatPath)
	if workDir == "" || workDir == "." {
		if cwd, err := os.Getwd(); err == nil {
			workDir = cwd
		}
	}

	handle, err := s.sup.Start(job, workDir, s.snap.Settings.ShowConsoleWindow, s.onExit)
	if err != nil {
		logsink.AppendLine(job.LogPath, "spawn failed: "+err.Error())
		endedAt := time.Now()
		job.Status = model.JobFailed
		job.EndedAt = &endedAt
		f.Status = f.AggregateStatus()
		s.metrics.incFailed()
		s.audit.Record(job, "Failed")
		return false
	}

	s.handles[job.ID] = handle
	if err := s.controls.Elevate(handle.PID()); err != nil {
		logging.Log(fmt.Sprintf("scheduler: failed to elevate job %s: %v", job.ID, err), slog.LevelWarn)
	}
	s.metrics.incAdmitted()
	s.metrics.setCoresInUse(int64(s.usedCoresLocked()), int64(s.totalCores))
	return true
}

// buildLogPath computes <logRoot>/<stamp>_<folder>_<job>_<id>.log.
func (s *Scheduler) buildLogPath(f *model.Folder, job *model.Job) string {
	stamp := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s_%s_%s.log", stamp, sanitize(f.Name), sanitize(job.Name), job.ID)
	return filepath.Join(s.logRoot, name)
}

var invalidPathChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

func sanitize(s string) string {
	return invalidPathChars.Replace(s)
}

// AddFolder builds a folder from up to five known script names found
// in path, skipping missing ones, refusing duplicate (case-insensitive)
// paths and folders already marked complete.
func (s *Scheduler) AddFolder(path string) (*model.Folder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.snap.Folders {
		if strings.EqualFold(f.Path, path) {
			return nil, false
		}
	}
	for _, marker := range completedMarkers {
		if _, err := os.Stat(filepath.Join(path, marker)); err == nil {
			return nil, false
		}
	}

	var jobs []*model.Job
	for _, name := range knownScriptNames {
		scriptPath := filepath.Join(path, name)
		if _, err := os.Stat(scriptPath); err != nil {
			continue
		}
		jobs = append(jobs, &model.Job{
			ID:            uuid.New().String(),
			BatPath:       scriptPath,
			Name:          name,
			RequiredCores: inspector.RequiredCores(scriptPath),
			Status:        model.JobQueued,
			AddedAt:       time.Now(),
		})
	}
	if len(jobs) == 0 {
		return nil, false
	}

	folder := &model.Folder{
		ID:         uuid.New().String(),
		Name:       filepath.Base(path),
		Path:       path,
		Status:     model.FolderQueued,
		IsExpanded: true,
		Jobs:       jobs,
	}
	s.snap.Folders = append(s.snap.Folders, folder)
	s.tryStartJobsLocked()
	s.store.Save(s.snap)
	return folder, true
}

// AddJob wraps a single script in a synthetic one-job folder.
func (s *Scheduler) AddJob(path string) (*model.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return nil, false
	}

	job := &model.Job{
		ID:            uuid.New().String(),
		BatPath:       path,
		Name:          filepath.Base(path),
		RequiredCores: inspector.RequiredCores(path),
		Status:        model.JobQueued,
		AddedAt:       time.Now(),
	}
	folder := &model.Folder{
		ID:         uuid.New().String(),
		Name:       job.Name,
		Path:       filepath.Dir(path),
		Status:     model.FolderQueued,
		IsExpanded: true,
		Jobs:       []*model.Job{job},
	}
	s.snap.Folders = append(s.snap.Folders, folder)
	s.tryStartJobsLocked()
	s.store.Save(s.snap)
	return job, true
}

// RemoveFolder cancels any Running jobs within the folder, then deletes
// it.
func (s *Scheduler) RemoveFolder(folderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, f := range s.snap.Folders {
		if f.ID == folderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	folder := s.snap.Folders[idx]
	for _, j := range folder.Jobs {
		if j.Status != model.JobRunning {
			continue
		}
		if h, ok := s.handles[j.ID]; ok {
			_ = s.sup.Cancel(h)
			delete(s.handles, j.ID)
		}
		delete(s.intents, j.ID)
	}

	s.snap.Folders = append(s.snap.Folders[:idx], s.snap.Folders[idx+1:]...)
	s.tryStartJobsLocked()
	s.store.Save(s.snap)
	return true
}

// ReorderFolders moves the folder at index from to index to.
func (s *Scheduler) ReorderFolders(from, to int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !moveSlice(&s.snap.Folders, from, to) {
		return false
	}
	s.store.Save(s.snap)
	return true
}

// ReorderJobs moves a job within folderID's job list.
func (s *Scheduler) ReorderJobs(folderID string, from, to int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	folder := s.snap.FindFolder(folderID)
	if folder == nil {
		return false
	}
	if !moveSlice(&folder.Jobs, from, to) {
		return false
	}
	s.store.Save(s.snap)
	return true
}

func moveSlice[T any](s *[]T, from, to int) bool {
	n := len(*s)
	if from < 0 || from >= n || to < 0 || to >= n {
		return false
	}
	if from == to {
		return true
	}
	v := (*s)[from]
	rest := append((*s)[:from:from], (*s)[from+1:]...)
	out := make([]T, 0, n)
	out = append(out, rest[:to]...)
	out = append(out, v)
	out = append(out, rest[to:]...)
	*s = out
	return true
}
