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

package initializer

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config contains the bootstrap parameters.
type Config struct {
	// WorkDir receives the dump, its parts, and their CSVs.
	WorkDir string
	// MaxThreads bounds the split and the parallel load.
	MaxThreads int
	// SkipBoundaries leaves notes untagged. Test affordance, never for
	// production.
	SkipBoundaries bool
}

// DefaultConfig works out of a temp subdirectory with one worker per core.
var DefaultConfig = Config{
	WorkDir:        filepath.Join(os.TempDir(), "notes-bootstrap"),
	MaxThreads:     runtime.NumCPU(),
	SkipBoundaries: false,
}

// Option configures the initializer.
type Option func(*Config)

// WithWorkDir overrides the bootstrap work directory.
func WithWorkDir(dir string) Option {
	return func(cfg *Config) {
		cfg.WorkDir = dir
	}
}

// WithMaxThreads overrides the worker bound.
func WithMaxThreads(threads int) Option {
	return func(cfg *Config) {
		cfg.MaxThreads = threads
	}
}

// WithSkipBoundaries toggles the boundary import.
func WithSkipBoundaries(skip bool) Option {
	return func(cfg *Config) {
		cfg.SkipBoundaries = skip
	}
}
