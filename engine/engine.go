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

package engine

import (
	"os"

	"github.com/rs/zerolog"
)

// Engine runs a set of long-lived components and shuts them all down when any
// of them finishes, fails, or an external signal arrives.
type Engine struct {
	log        zerolog.Logger
	sig        chan os.Signal
	components []*component
}

// New creates an engine listening on the given signal channel.
func New(log zerolog.Logger, name string, sig chan os.Signal) *Engine {
	e := Engine{
		log: log.With().Str("engine", name).Logger(),
		sig: sig,
	}
	return &e
}

// Component registers a component. Components are stopped in registration
// order.
func (e *Engine) Component(name string, run func() error, stop func()) *Engine {
	c := component{
		log:  e.log.With().Str("component", name).Logger(),
		run:  run,
		stop: stop,
	}
	e.components = append(e.components, &c)
	return e
}

// Run launches all components and blocks until one of them returns or a
// signal arrives, then stops every component in registration order. The first
// component error is returned; a second signal forces the exit.
func (e *Engine) Run() error {

	notify := make(chan error, len(e.components))
	for _, component := range e.components {
		go component.launch(notify)
	}

	var failure error
	select {
	case <-e.sig:
		e.log.Info().Msg("engine stopping")
	case failure = <-notify:
		if failure != nil {
			e.log.Warn().Msg("engine aborted")
		} else {
			e.log.Info().Msg("engine done")
		}
	}
	go func() {
		<-e.sig
		e.log.Warn().Msg("forcing exit")
		os.Exit(1)
	}()

	for _, component := range e.components {
		component.halt()
	}

	// Remaining outcomes are drained so a failure elsewhere is not lost
	// behind a clean first finisher.
	for range e.components[1:] {
		err := <-notify
		if failure == nil && err != nil {
			failure = err
		}
	}

	return failure
}
