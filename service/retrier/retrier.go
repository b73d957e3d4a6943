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
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Retrier wraps fallible operations in a fixed-interval bounded retry. It is
// deliberately not exponential; the upstreams this system talks to throttle
// on concurrency, not on request rate.
type Retrier struct {
	log zerolog.Logger
	cfg Config
}

// New creates a retrier with the default fixed-interval policy, overridable
// through options.
func New(log zerolog.Logger, options ...Option) *Retrier {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	r := Retrier{
		log: log.With().Str("component", "retrier").Logger(),
		cfg: cfg,
	}

	return &r
}

// Retry runs the operation until it succeeds or the attempt budget runs out,
// sleeping the configured fixed delay between attempts. On exhaustion the
// last error is surfaced unchanged. Failures carrying a non-retryable
// taxonomy code abort immediately.
func (r *Retrier) Retry(ctx context.Context, description string, op func() error) error {

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		var failure notes.Failure
		if errors.As(err, &failure) && !failure.Code.Retryable() {
			return backoff.Permanent(err)
		}
		r.log.Warn().
			Err(err).
			Str("operation", description).
			Int("attempt", attempt).
			Uint64("max_attempts", r.cfg.Attempts).
			Msg("operation failed, retrying")
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.Delay), r.cfg.Attempts-1)
	err := backoff.Retry(wrapped, backoff.WithContext(policy, ctx))
	if err != nil {
		return err
	}

	return nil
}
