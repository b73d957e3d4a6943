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
	"os"
	"path/filepath"
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Config contains the daemon loop parameters.
type Config struct {
	// Script names the daemon in lock files and failure markers.
	Script string
	// ShutdownFile is the flag file operators touch to stop the daemon
	// between cycles.
	ShutdownFile string
	// CycleInterval is the target wall-clock spacing of cycle starts.
	CycleInterval time.Duration
	// MaxConsecutiveErrors is the breaker limit that stops the loop.
	MaxConsecutiveErrors int
}

// DefaultConfig applies the system-wide cycle policy.
var DefaultConfig = Config{
	Script:               "notes_daemon",
	ShutdownFile:         filepath.Join(os.TempDir(), "notes_daemon_shutdown"),
	CycleInterval:        notes.DefaultCycleInterval,
	MaxConsecutiveErrors: notes.DefaultMaxConsecutiveErrors,
}

// Option configures the daemon transitions.
type Option func(*Config)

// WithScript overrides the daemon's marker name.
func WithScript(script string) Option {
	return func(cfg *Config) {
		cfg.Script = script
	}
}

// WithShutdownFile overrides the shutdown flag path.
func WithShutdownFile(path string) Option {
	return func(cfg *Config) {
		cfg.ShutdownFile = path
	}
}

// WithCycleInterval overrides the cycle spacing.
func WithCycleInterval(interval time.Duration) Option {
	return func(cfg *Config) {
		cfg.CycleInterval = interval
	}
}

// WithMaxConsecutiveErrors overrides the breaker limit.
func WithMaxConsecutiveErrors(limit int) Option {
	return func(cfg *Config) {
		cfg.MaxConsecutiveErrors = limit
	}
}
