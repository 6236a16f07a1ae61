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
	"context"

	"go.opentelemetry.io/otel/metric"

	"batchrunner/src/logging"
)

// metrics wraps the OTel counters the scheduler updates after every
// admission pass and completion, following the teacher's
// logging.InitializeFloatCounter + UpdateSpanValue pattern: a counter
// is incremented for the event, and the resulting cumulative total is
// also stamped onto the current span as an attribute. cores-in-use and
// cores-available are level gauges rather than monotonic counts, so
// they ride on logging.InitializeUpDownCounter instead.
type metrics struct {
	admitted  metric.Float64Counter
	completed metric.Float64Counter
	failed    metric.Float64Counter
	cancelled metric.Float64Counter

	coresInUse     metric.Int64UpDownCounter
	coresAvailable metric.Int64UpDownCounter
	lastCoresInUse int64
	lastCoresAvail int64

	admittedTotal  float64
	completedTotal float64
	failedTotal    float64
	cancelledTotal float64
}

func newMetrics() *metrics {
	admitted, _ := logging.InitializeFloatCounter("batchrunner_jobs_admitted", "Jobs admitted into Running", "Job")
	completed, _ := logging.InitializeFloatCounter("batchrunner_jobs_completed", "Jobs that completed successfully", "Job")
	failed, _ := logging.InitializeFloatCounter("batchrunner_jobs_failed", "Jobs that ended in Failed", "Job")
	cancelled, _ := logging.InitializeFloatCounter("batchrunner_jobs_cancelled", "Jobs that ended in Cancelled", "Job")
	coresInUse, _ := logging.InitializeUpDownCounter("batchrunner_cores_in_use", "Cores currently occupied by Running jobs", "Core")
	coresAvailable, _ := logging.InitializeUpDownCounter("batchrunner_cores_available", "Cores free for admission", "Core")
	return &metrics{
		admitted:       admitted,
		completed:      completed,
		failed:         failed,
		cancelled:      cancelled,
		coresInUse:     coresInUse,
		coresAvailable: coresAvailable,
	}
}

func (m *metrics) incAdmitted() {
	m.admittedTotal++
	if m.admitted != nil {
		m.admitted.Add(context.Background(), 1)
	}
	logging.UpdateSpanValue("batchrunner_jobs_admitted", m.admittedTotal)
}

func (m *metrics) incCompleted() {
	m.completedTotal++
	if m.completed != nil {
		m.completed.Add(context.Background(), 1)
	}
	logging.UpdateSpanValue("batchrunner_jobs_completed", m.completedTotal)
}

func (m *metrics) incFailed() {
	m.failedTotal++
	if m.failed != nil {
		m.failed.Add(context.Background(), 1)
	}
	logging.UpdateSpanValue("batchrunner_jobs_failed", m.failedTotal)
}

func (m *metrics) incCancelled() {
	m.cancelledTotal++
	if m.cancelled != nil {
		m.cancelled.Add(context.Background(), 1)
	}
	logging.UpdateSpanValue("batchrunner_jobs_cancelled", m.cancelledTotal)
}

// setCoresInUse reports the current cores-in-use/cores-available level
// to both the OTel up/down counters (as the delta since the last
// report, since Add is the only mutation an up/down counter offers) and
// the active span, mirroring the teacher's gauge-via-span-attribute
// idiom for values that rise and fall.
func (m *metrics) setCoresInUse(used, total int64) {
	avail := total - used
	if avail < 0 {
		avail = 0
	}

	if m.coresInUse != nil {
		m.coresInUse.Add(context.Background(), used-m.lastCoresInUse)
	}
	if m.coresAvailable != nil {
		m.coresAvailable.Add(context.Background(), avail-m.lastCoresAvail)
	}
	m.lastCoresInUse = used
	m.lastCoresAvail = avail

	logging.UpdateSpanValue("batchrunner_cores_in_use", float64(used))
	logging.UpdateSpanValue("batchrunner_cores_available", float64(avail))
}
