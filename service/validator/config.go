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

package validator

import (
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Config contains the validation thresholds.
type Config struct {
	// SizeThreshold separates the full-decode path from the streaming
	// well-formedness path.
	SizeThreshold int64
	// SampleEvery is the note sampling stride for sanity checks on the
	// streaming path.
	SampleEvery int
	// Epoch is the earliest legitimate instant for any date in a document.
	Epoch time.Time
	// Timeout bounds the wall clock of a single validation run.
	Timeout time.Duration
	// Skip disables content checks entirely for trusted inputs; only the
	// existence of the file is verified.
	Skip bool
}

// DefaultConfig keeps memory bounded on multi-GB Planet dumps while checking
// every event of small API deltas.
var DefaultConfig = Config{
	SizeThreshold: 64 * 1024 * 1024,
	SampleEvery:   1000,
	Epoch:         notes.NotesEpoch,
	Timeout:       30 * time.Minute,
}

// Option configures the validator.
type Option func(*Config)

// WithSizeThreshold overrides the full-validation size cutoff.
func WithSizeThreshold(threshold int64) Option {
	return func(cfg *Config) {
		cfg.SizeThreshold = threshold
	}
}

// WithSampleEvery overrides the sampling stride of the streaming path.
func WithSampleEvery(stride int) Option {
	return func(cfg *Config) {
		cfg.SampleEvery = stride
	}
}

// WithEpoch overrides the earliest legitimate instant.
func WithEpoch(epoch time.Time) Option {
	return func(cfg *Config) {
		cfg.Epoch = epoch
	}
}

// WithTimeout overrides the wall-clock bound.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.Timeout = timeout
	}
}

// WithSkip disables content validation for trusted inputs.
func WithSkip(skip bool) Option {
	return func(cfg *Config) {
		cfg.Skip = skip
	}
}
