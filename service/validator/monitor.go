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

package validator

import (
	"bufio"
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Monitor samples process resource usage in the background while a validation
// run is in flight and records the observed peaks.
type Monitor struct {
	log      zerolog.Logger
	interval time.Duration
}

// NewMonitor creates a resource monitor with a one-second sampling interval.
func NewMonitor(log zerolog.Logger) *Monitor {

	m := Monitor{
		log:      log.With().Str("component", "validator_monitor").Logger(),
		interval: time.Second,
	}

	return &m
}

// Start launches the sampling goroutine. The returned function stops sampling
// and logs the recorded peaks; it blocks until the goroutine has exited.
func (m *Monitor) Start(ctx context.Context) func() {

	done := make(chan struct{})
	wg := &sync.WaitGroup{}
	wg.Add(1)

	var peakRSS uint64
	var peakHeap uint64

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				rss := residentSetSize()
				if rss > peakRSS {
					peakRSS = rss
				}
				var stats runtime.MemStats
				runtime.ReadMemStats(&stats)
				if stats.HeapAlloc > peakHeap {
					peakHeap = stats.HeapAlloc
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
		m.log.Debug().
			Uint64("peak_rss_bytes", peakRSS).
			Uint64("peak_heap_bytes", peakHeap).
			Msg("validation resource envelope")
	}
}

// residentSetSize reads the current RSS from the proc filesystem; it returns
// zero on platforms without one.
func residentSetSize() uint64 {
	file, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
