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

// Package controlapi is the in-process mutation surface described in
// spec.md §4.7: the contract a GUI front-end (explicitly out of scope
// for this repo) would call against. It is a thin, name-preserving
// wrapper over *scheduler.Scheduler — every method here does exactly
// one scheduler call and no state lives in this package itself.
package controlapi

import (
	"batchrunner/src/model"
	"batchrunner/src/scheduler"
)

// API is the Control API surface of spec.md §4.7.
type API interface {
	Observe() (scheduler.Counts, *model.Snapshot)
	AddFolder(path string) (*model.Folder, bool)
	AddJob(path string) (*model.Job, bool)
	RemoveFolder(folderID string) bool
	ReorderFolders(from, to int) bool
	ReorderJobs(folderID string, from, to int) bool
	CancelJob(jobID string) bool
	RestartJob(jobID string) bool
	StartQueue()
	PauseQueue()
	UpdateSettings(settings model.Settings)
}

// controller is the concrete API, backed by a live Scheduler.
type controller struct {
	sched *scheduler.Scheduler
}

// New returns the Control API for sched.
func New(sched *scheduler.Scheduler) API {
	return &controller{sched: sched}
}

func (c *controller) Observe() (scheduler.Counts, *model.Snapshot) {
	return c.sched.Observe()
}

func (c *controller) AddFolder(path string) (*model.Folder, bool) {
	return c.sched.AddFolder(path)
}

func (c *controller) AddJob(path string) (*model.Job, bool) {
	return c.sched.AddJob(path)
}

func (c *controller) RemoveFolder(folderID string) bool {
	return c.sched.RemoveFolder(folderID)
}

func (c *controller) ReorderFolders(from, to int) bool {
	return c.sched.ReorderFolders(from, to)
}

func (c *controller) ReorderJobs(folderID string, from, to int) bool {
	return c.sched.ReorderJobs(folderID, from, to)
}

func (c *controller) CancelJob(jobID string) bool {
	return c.sched.CancelJob(jobID)
}

func (c *controller) RestartJob(jobID string) bool {
	return c.sched.RestartJob(jobID)
}

func (c *controller) StartQueue() {
	c.sched.StartQueue()
}

func (c *controller) PauseQueue() {
	c.sched.PauseQueue()
}

func (c *controller) UpdateSettings(settings model.Settings) {
	c.sched.UpdateSettings(settings)
}
