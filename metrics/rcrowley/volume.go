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

package rcrowley

import (
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/rs/zerolog"
)

// Volume counts processed units per category: bytes downloaded per source,
// rows loaded per table.
type Volume struct {
	sync.Mutex
	title    string
	counters map[string]metrics.Counter
}

// NewVolume creates a volume collector under the given title.
func NewVolume(title string) *Volume {
	v := Volume{
		title:    title,
		counters: make(map[string]metrics.Counter),
	}

	return &v
}

// Count adds units to a category.
func (v *Volume) Count(category string, count int64) {
	v.Lock()
	defer v.Unlock()
	counter, ok := v.counters[category]
	if !ok {
		counter = metrics.NewCounter()
		v.counters[category] = counter
	}
	counter.Inc(count)
}

// Output implements the Collector interface.
func (v *Volume) Output(log zerolog.Logger) {
	v.Lock()
	defer v.Unlock()

	log = log.With().Str("metrics", v.title).Str("type", "volume").Logger()

	total := int64(0)
	for _, counter := range v.counters {
		total += counter.Count()
	}
	log.Info().
		Int64("total", total).
		Msg("volume metrics for all categories")

	for category, counter := range v.counters {
		count := counter.Count()
		percentage := float64(count) / float64(total)
		log.Info().
			Str("category", category).
			Int64("count", count).
			Float64("percentage", percentage).
			Msg("volume metrics for one category")
	}
}
