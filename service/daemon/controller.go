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
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Controller serves the daemon's status snapshot over HTTP.
type Controller struct {
	state   *State
	started time.Time
}

// NewController creates a controller over the given daemon state.
func NewController(state *State) *Controller {

	c := Controller{
		state:   state,
		started: time.Now(),
	}

	return &c
}

// Status implements the status endpoint of the daemon API. It returns the
// same snapshot that SIGUSR1 logs.
func (c *Controller) Status(ctx echo.Context) error {
	snapshot := c.state.Snapshot()
	response := struct {
		Snapshot
		Uptime string `json:"uptime"`
	}{
		Snapshot: snapshot,
		Uptime:   time.Since(c.started).Round(time.Second).String(),
	}
	return ctx.JSON(http.StatusOK, response)
}
