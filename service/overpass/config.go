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

package overpass

import (
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Config contains the Overpass client parameters.
type Config struct {
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
}

// DefaultConfig targets the public Overpass instance. The timeout is generous
// because geometry queries for large relations can run for minutes.
var DefaultConfig = Config{
	Endpoint:  notes.DefaultOverpassEndpoint,
	UserAgent: notes.UserAgent,
	Timeout:   10 * time.Minute,
}

// Option configures the Overpass client.
type Option func(*Config)

// WithEndpoint overrides the Overpass interpreter endpoint.
func WithEndpoint(endpoint string) Option {
	return func(cfg *Config) {
		cfg.Endpoint = endpoint
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		cfg.Timeout = timeout
	}
}
