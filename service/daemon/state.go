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
	"sync"
	"time"
)

// State is the state machine's state. The mutex only guards the snapshot;
// transitions run on a single goroutine.
type State struct {
	mu sync.Mutex

	status            Status
	cycle             uint64
	consecutiveErrors int
	cycleStart        time.Time
	watermark         time.Time
	lastError         string

	done chan struct{}
	once *sync.Once
}

// EmptyState returns a new state at the start of the machine.
func EmptyState() *State {

	s := State{
		status: StatusInitialize,
		done:   make(chan struct{}),
		once:   &sync.Once{},
	}

	return &s
}

// halt signals the transition loop to stop at the next edge.
func (s *State) halt() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Snapshot is a point-in-time copy of the daemon state, served over the
// status endpoint and logged on SIGUSR1.
type Snapshot struct {
	Status            string    `json:"status"`
	Cycle             uint64    `json:"cycle"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Watermark         time.Time `json:"watermark"`
	LastError         string    `json:"last_error,omitempty"`
}

// Snapshot returns a consistent copy of the daemon state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Status:            s.status.String(),
		Cycle:             s.cycle,
		ConsecutiveErrors: s.consecutiveErrors,
		Watermark:         s.watermark,
		LastError:         s.lastError,
	}
}
