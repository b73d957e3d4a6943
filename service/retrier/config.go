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

package retrier

import (
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Config contains the retry policy parameters.
type Config struct {
	Attempts uint64
	Delay    time.Duration
}

// DefaultConfig is the fixed-interval policy used across the system.
var DefaultConfig = Config{
	Attempts: notes.DefaultRetryAttempts,
	Delay:    notes.DefaultRetryDelay,
}

// Option configures the retry policy.
type Option func(*Config)

// WithAttempts overrides the total attempt budget.
func WithAttempts(attempts uint64) Option {
	return func(cfg *Config) {
		cfg.Attempts = attempts
	}
}

// WithDelay overrides the fixed delay between attempts.
func WithDelay(delay time.Duration) Option {
	return func(cfg *Config) {
		cfg.Delay = delay
	}
}
