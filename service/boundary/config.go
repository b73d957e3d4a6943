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

package boundary

import (
	"os"
	"path/filepath"
)

// Config contains the boundary manager parameters.
type Config struct {
	// WorkDir receives the downloaded geometry documents.
	WorkDir string
	// Maritimes includes maritime zones in addition to countries.
	Maritimes bool
	// BaselinePath is a GeoJSON boundary file used as last resort when no
	// boundary can be downloaded during a full import. Empty disables the
	// fallback.
	BaselinePath string
}

// DefaultConfig downloads into a temp subdirectory and includes maritime
// zones.
var DefaultConfig = Config{
	WorkDir:   filepath.Join(os.TempDir(), "notes-boundaries"),
	Maritimes: true,
}

// Option configures the boundary manager.
type Option func(*Config)

// WithWorkDir overrides the download directory.
func WithWorkDir(dir string) Option {
	return func(cfg *Config) {
		cfg.WorkDir = dir
	}
}

// WithMaritimes toggles maritime-zone boundaries.
func WithMaritimes(enabled bool) Option {
	return func(cfg *Config) {
		cfg.Maritimes = enabled
	}
}

// WithBaseline sets the fallback boundary file for full imports.
func WithBaseline(path string) Option {
	return func(cfg *Config) {
		cfg.BaselinePath = path
	}
}
