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
	"context"
	"fmt"
	"sync"
)

// CheckFunc decides whether an edge applies to the current state.
type CheckFunc func(*State) bool

// TransitionFunc is a function that is applied onto the state machine's
// state.
type TransitionFunc func(*State) error

// WithStatus returns a check that matches the given status.
func WithStatus(status Status) CheckFunc {
	return func(s *State) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.status == status
	}
}

type edge struct {
	check      CheckFunc
	transition TransitionFunc
}

// FSM drives the daemon loop: each iteration finds the first applicable edge
// and applies its transition.
type FSM struct {
	state *State
	edges []edge
	wg    *sync.WaitGroup
}

// NewFSM creates a state machine over the given state.
func NewFSM(state *State) *FSM {

	f := FSM{
		state: state,
		edges: []edge{},
		wg:    &sync.WaitGroup{},
	}

	return &f
}

// Add registers an edge.
func (f *FSM) Add(check CheckFunc, transition TransitionFunc) {
	edge := edge{
		check:      check,
		transition: transition,
	}
	f.edges = append(f.edges, edge)
}

// Run executes the transition loop until the state is halted or a transition
// fails.
func (f *FSM) Run() error {
	f.wg.Add(1)
	defer f.wg.Done()
TransitionLoop:
	for {
		for _, e := range f.edges {
			ok := e.check(f.state)
			if !ok {
				continue
			}
			select {
			case <-f.state.done:
				break TransitionLoop
			default:
				// continue
			}
			err := e.transition(f.state)
			if err != nil {
				return fmt.Errorf("could not apply transition to state: %w", err)
			}
			continue TransitionLoop
		}
		return fmt.Errorf("could not find transition for state")
	}
	return nil
}

// Stop halts the loop and waits for the in-flight transition to settle.
func (f *FSM) Stop(_ context.Context) error {
	f.state.halt()
	f.wg.Wait()
	return nil
}
