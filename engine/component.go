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
	"time"

	"github.com/rs/zerolog"
)

// component is one long-lived unit of the engine: a blocking run function
// paired with the stop function that unblocks it.
type component struct {
	log     zerolog.Logger
	run     func() error
	stop    func()
	started time.Time
}

// launch executes the run function and reports its outcome on the notify
// channel, so the engine can react to the first component that finishes.
func (c *component) launch(notify chan<- error) {
	c.started = time.Now()
	c.log.Info().Msg("component starting")

	err := c.run()
	if err != nil {
		c.log.Error().Err(err).Msg("component failed")
		notify <- err
		return
	}

	c.log.Info().Dur("uptime", time.Since(c.started).Round(time.Second)).Msg("component done")
	notify <- nil
}

// halt invokes the stop function. The corresponding run function unblocks and
// delivers its outcome on the notify channel it was launched with.
func (c *component) halt() {
	c.stop()
	c.log.Info().Msg("component stopped")
}
