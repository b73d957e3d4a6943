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

package planet

import (
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Config contains the Planet downloader parameters.
type Config struct {
	DumpURL        string
	UserAgent      string
	Timeout        time.Duration
	VerifyChecksum bool
}

// DefaultConfig targets the latest production dump.
var DefaultConfig = Config{
	DumpURL:        notes.DefaultPlanetURL,
	UserAgent:      notes.UserAgent,
	Timeout:        2 * time.Hour,
	VerifyChecksum: true,
}

// Option configures the Planet downloader.
type Option func(*Config)

// WithDumpURL overrides the dump location.
func WithDumpURL(dumpURL string) Option {
	return func(cfg *Config) {
		cfg.DumpURL = dumpURL
	}
}

// WithTimeout overrides the total download timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.Timeout = timeout
	}
}

// WithVerifyChecksum toggles the MD5 sidecar verification.
func WithVerifyChecksum(verify bool) Option {
	return func(cfg *Config) {
		cfg.VerifyChecksum = verify
	}
}
