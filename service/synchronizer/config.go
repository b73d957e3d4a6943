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

package synchronizer

import (
	"os"
	"path/filepath"
)

// Config contains the sync cycle parameters.
type Config struct {
	// WorkDir receives the downloaded delta and its extracted CSVs.
	WorkDir string
	// MaxNotes is the delta size above which the cycle escalates to a full
	// reload.
	MaxNotes int64
	// Clean removes cycle artifacts on success; failures keep them for
	// forensics.
	Clean bool
}

// DefaultConfig works out of a temp subdirectory and escalates at 10k notes,
// which is also the API's per-request cap.
var DefaultConfig = Config{
	WorkDir:  filepath.Join(os.TempDir(), "notes-sync"),
	MaxNotes: 10_000,
	Clean:    true,
}

// Option configures the synchronizer.
type Option func(*Config)

// WithWorkDir overrides the cycle work directory.
func WithWorkDir(dir string) Option {
	return func(cfg *Config) {
		cfg.WorkDir = dir
	}
}

// WithMaxNotes overrides the escalation threshold.
func WithMaxNotes(maxNotes int64) Option {
	return func(cfg *Config) {
		cfg.MaxNotes = maxNotes
	}
}

// WithClean toggles artifact removal on success.
func WithClean(clean bool) Option {
	return func(cfg *Config) {
		cfg.Clean = clean
	}
}
