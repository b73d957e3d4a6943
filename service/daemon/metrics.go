// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package daemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/osmnotes/notes-sync/service/synchronizer"
)

// Metrics exposes the daemon's cycle counters on the prometheus registry
// served by the status server.
type Metrics struct {
	cycles       prometheus.Counter
	errors       prometheus.Counter
	escalations  prometheus.Counter
	mergedNotes  prometheus.Counter
	watermarkLag prometheus.Gauge
}

// NewMetrics registers the daemon metrics on the default registry.
func NewMetrics() *Metrics {

	m := Metrics{
		cycles: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "notes_sync",
			Name:      "cycles_total",
			Help:      "Number of sync cycles started.",
		}),
		errors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "notes_sync",
			Name:      "cycle_errors_total",
			Help:      "Number of sync cycles that failed.",
		}),
		escalations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "notes_sync",
			Name:      "escalations_total",
			Help:      "Number of deltas escalated to a full reload.",
		}),
		mergedNotes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "notes_sync",
			Name:      "merged_notes_total",
			Help:      "Number of notes merged into the main tables.",
		}),
		watermarkLag: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "notes_sync",
			Name:      "watermark_lag_seconds",
			Help:      "Age of the replica watermark.",
		}),
	}

	return &m
}

// Cycle records the outcome of one sync cycle.
func (m *Metrics) Cycle(stats synchronizer.Stats, err error) {
	m.cycles.Inc()
	if err != nil {
		m.errors.Inc()
		return
	}
	if stats.Escalated {
		m.escalations.Inc()
	}
	m.mergedNotes.Add(float64(stats.Notes))
	if !stats.Watermark.IsZero() {
		m.watermarkLag.Set(time.Since(stats.Watermark).Seconds())
	}
}
