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

package consolidator

import (
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Config contains the consolidation policy parameters.
type Config struct {
	// ProcessName prefixes the logical-lock token so stuck sessions can be
	// attributed.
	ProcessName string
	// GapWindow is how far back the integrity check looks.
	GapWindow time.Duration
	// GapThreshold is the number of broken notes above which the cycle is a
	// hard error.
	GapThreshold int64
}

// DefaultConfig applies the system-wide gap policy.
var DefaultConfig = Config{
	ProcessName:  "notes_consolidator",
	GapWindow:    7 * 24 * time.Hour,
	GapThreshold: notes.DefaultGapThreshold,
}

// Option configures the consolidator.
type Option func(*Config)

// WithProcessName overrides the lock-token prefix.
func WithProcessName(name string) Option {
	return func(cfg *Config) {
		cfg.ProcessName = name
	}
}

// WithGapWindow overrides the integrity-check window.
func WithGapWindow(window time.Duration) Option {
	return func(cfg *Config) {
		cfg.GapWindow = window
	}
}

// WithGapThreshold overrides the hard-error threshold.
func WithGapThreshold(threshold int64) Option {
	return func(cfg *Config) {
		cfg.GapThreshold = threshold
	}
}
