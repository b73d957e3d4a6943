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

package osmapi

import (
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Config contains the API client parameters.
type Config struct {
	Endpoint     string
	UserAgent    string
	ProbeTimeout time.Duration
	FetchTimeout time.Duration
	// FetchLimit is the maximum number of notes per delta request, bounded
	// by the API's own cap.
	FetchLimit int
}

// DefaultConfig targets the production API.
var DefaultConfig = Config{
	Endpoint:     notes.DefaultAPIEndpoint,
	UserAgent:    notes.UserAgent,
	ProbeTimeout: notes.DefaultProbeTimeout,
	FetchTimeout: notes.DefaultFetchTimeout,
	FetchLimit:   10_000,
}

// Option configures the API client.
type Option func(*Config)

// WithEndpoint overrides the API search endpoint.
func WithEndpoint(endpoint string) Option {
	return func(cfg *Config) {
		cfg.Endpoint = endpoint
	}
}

// WithProbeTimeout overrides the liveness probe timeout.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.ProbeTimeout = timeout
	}
}

// WithFetchTimeout overrides the full fetch timeout.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.FetchTimeout = timeout
	}
}

// WithFetchLimit overrides the per-request note cap.
func WithFetchLimit(limit int) Option {
	return func(cfg *Config) {
		cfg.FetchLimit = limit
	}
}
