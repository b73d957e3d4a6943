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

package retrier_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/retrier"
	"github.com/osmnotes/notes-sync/testing/mocks"
)

func TestRetrier_Retry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		t.Parallel()

		retry := retrier.New(mocks.NoopLogger, retrier.WithDelay(time.Millisecond))

		calls := 0
		err := retry.Retry(context.Background(), "dummy", func() error {
			calls++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries transient errors until success", func(t *testing.T) {
		t.Parallel()

		retry := retrier.New(mocks.NoopLogger,
			retrier.WithAttempts(3),
			retrier.WithDelay(time.Millisecond),
		)

		calls := 0
		err := retry.Retry(context.Background(), "dummy", func() error {
			calls++
			if calls < 3 {
				return mocks.GenericError
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("surfaces last error when attempts run out", func(t *testing.T) {
		t.Parallel()

		retry := retrier.New(mocks.NoopLogger,
			retrier.WithAttempts(3),
			retrier.WithDelay(time.Millisecond),
		)

		calls := 0
		err := retry.Retry(context.Background(), "dummy", func() error {
			calls++
			return mocks.GenericError
		})

		assert.ErrorIs(t, err, mocks.GenericError)
		assert.Equal(t, 3, calls)
	})

	t.Run("aborts immediately on non-retryable failure", func(t *testing.T) {
		t.Parallel()

		retry := retrier.New(mocks.NoopLogger,
			retrier.WithAttempts(3),
			retrier.WithDelay(time.Millisecond),
		)

		calls := 0
		err := retry.Retry(context.Background(), "dummy", func() error {
			calls++
			return notes.NewFailure(notes.CodeDataValidation, nil, "dummy")
		})

		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("keeps retrying retryable failures", func(t *testing.T) {
		t.Parallel()

		retry := retrier.New(mocks.NoopLogger,
			retrier.WithAttempts(2),
			retrier.WithDelay(time.Millisecond),
		)

		calls := 0
		err := retry.Retry(context.Background(), "dummy", func() error {
			calls++
			return notes.NewFailure(notes.CodeInternetIssue, nil, "dummy")
		})

		require.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("stops when the context is canceled", func(t *testing.T) {
		t.Parallel()

		retry := retrier.New(mocks.NoopLogger,
			retrier.WithAttempts(100),
			retrier.WithDelay(10*time.Millisecond),
		)

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := retry.Retry(ctx, "dummy", func() error {
			calls++
			cancel()
			return mocks.GenericError
		})

		require.Error(t, err)
		assert.Less(t, calls, 100)
	})
}
