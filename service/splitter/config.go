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

package splitter

import (
	"github.com/osmnotes/notes-sync/models/notes"
)

// Config contains the splitting parameters.
type Config struct {
	// PartSizeCap is the maximum number of notes a single part file may
	// contain, bounding the peak memory of any one worker.
	PartSizeCap int
}

// DefaultConfig caps parts at the system-wide default.
var DefaultConfig = Config{
	PartSizeCap: notes.DefaultPartSizeCap,
}

// Option configures the splitter.
type Option func(*Config)

// WithPartSizeCap overrides the per-part note cap.
func WithPartSizeCap(cap int) Option {
	return func(cfg *Config) {
		cfg.PartSizeCap = cap
	}
}
