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

// Package model holds the entities persisted and mutated by the batch
// orchestrator: Job, Folder, Settings and the whole-system Snapshot.
package model

import "time"

// JobStatus is one of the five states a Job can occupy.
type JobStatus string

const (
	JobQueued    JobStatus = "Queued"
	JobRunning   JobStatus = "Running"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobCancelled JobStatus = "Cancelled"
)

// IsTerminal reports whether status is one of Completed, Failed or Cancelled.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// Job is a single script invocation.
type Job struct {
	ID            string     `json:"Id"`
	BatPath       string     `json:"BatPath"`
	Name          string     `json:"Name"`
	RequiredCores int        `json:"RequiredCores"`
	Status        JobStatus  `json:"Status"`
	AddedAt       time.Time  `json:"AddedAt"`
	StartedAt     *time.Time `json:"StartedAt"`
	EndedAt       *time.Time `json:"EndedAt"`
	ExitCode      *int       `json:"ExitCode"`
	LogPath       string     `json:"LogPath,omitempty"`
	RetryCount    int        `json:"RetryCount"`
}

// Clone returns a deep copy of the job, safe to hand out from a snapshot.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		cp.EndedAt = &t
	}
	if j.ExitCode != nil {
		c := *j.ExitCode
		cp.ExitCode = &c
	}
	return &cp
}

// FolderStatus mirrors JobStatus but is always derived, never set directly
// by anything other than the Scheduler's aggregation rule.
type FolderStatus string

const (
	FolderQueued    FolderStatus = "Queued"
	FolderRunning   FolderStatus = "Running"
	FolderCompleted FolderStatus = "Completed"
	FolderFailed    FolderStatus = "Failed"
	FolderCancelled FolderStatus = "Cancelled"
)

// Folder is an ordered group of jobs sharing a working directory.
type Folder struct {
	ID         string       `json:"Id"`
	Name       string       `json:"Name"`
	Path       string       `json:"Path"`
	Status     FolderStatus `json:"Status"`
	IsExpanded bool         `json:"IsExpanded"`
	Jobs       []*Job       `json:"Jobs"`
}

// Clone returns a deep copy of the folder and all its jobs.
func (f *Folder) Clone() *Folder {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Jobs = make([]*Job, len(f.Jobs))
	for i, j := range f.Jobs {
		cp.Jobs[i] = j.Clone()
	}
	return &cp
}

// AggregateStatus derives the folder's status from the status of its
// member jobs, per spec: Running iff any job Running; Completed iff all
// jobs Completed; Failed iff the most recently terminated job ended in
// Failed and nothing since recovered; Cancelled iff the most recent
// terminal transition was Cancelled; Queued otherwise.
func (f *Folder) AggregateStatus() FolderStatus {
	if len(f.Jobs) == 0 {
		return FolderQueued
	}

	allCompleted := true
	for _, j := range f.Jobs {
		if j.Status == JobRunning {
			return FolderRunning
		}
		if j.Status != JobCompleted {
			allCompleted = false
		}
	}
	if allCompleted {
		return FolderCompleted
	}

	// Find the most recently ended terminal job, by EndedAt.
	var latest *Job
	for _, j := range f.Jobs {
		if !j.Status.IsTerminal() || j.EndedAt == nil {
			continue
		}
		if latest == nil || j.EndedAt.After(*latest.EndedAt) {
			latest = j
		}
	}
	if latest != nil {
		switch latest.Status {
		case JobFailed:
			return FolderFailed
		case JobCancelled:
			return FolderCancelled
		}
	}
	return FolderQueued
}

// Settings holds the two user-configurable toggles.
type Settings struct {
	AutoRetryFailedJobs bool `json:"AutoRetryFailedJobs"`
	ShowConsoleWindow   bool `json:"ShowConsoleWindow"`
}

// Snapshot is the persisted whole-system document.
type Snapshot struct {
	Folders  []*Folder `json:"Folders"`
	Settings Settings  `json:"Settings"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return &Snapshot{}
	}
	cp := &Snapshot{Settings: s.Settings}
	cp.Folders = make([]*Folder, len(s.Folders))
	for i, f := range s.Folders {
		cp.Folders[i] = f.Clone()
	}
	return cp
}

// FindJob returns the job with the given id and the folder that owns it.
func (s *Snapshot) FindJob(jobID string) (*Job, *Folder) {
	for _, f := range s.Folders {
		for _, j := range f.Jobs {
			if j.ID == jobID {
				return j, f
			}
		}
	}
	return nil, nil
}

// FindFolder returns the folder with the given id.
func (s *Snapshot) FindFolder(folderID string) *Folder {
	for _, f := range s.Folders {
		if f.ID == folderID {
			return f
		}
	}
	return nil
}
