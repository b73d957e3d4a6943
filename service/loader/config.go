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

package loader

import (
	"runtime"
)

// Config contains the worker-pool parameters.
type Config struct {
	// MaxWorkers bounds the number of parts processed concurrently.
	MaxWorkers int
}

// DefaultConfig sizes the pool to the machine.
var DefaultConfig = Config{
	MaxWorkers: runtime.NumCPU(),
}

// Option configures the loader.
type Option func(*Config)

// WithMaxWorkers overrides the worker-pool bound.
func WithMaxWorkers(workers int) Option {
	return func(cfg *Config) {
		if workers > 0 {
			cfg.MaxWorkers = workers
		}
	}
}
