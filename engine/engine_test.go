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

package engine_test

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmnotes/notes-sync/engine"
	"github.com/osmnotes/notes-sync/testing/mocks"
)

func TestEngine_Run(t *testing.T) {
	t.Run("finished component stops the others", func(t *testing.T) {
		t.Parallel()

		block := make(chan struct{})
		var stopped bool

		sig := make(chan os.Signal, 1)
		err := engine.New(mocks.NoopLogger, "test", sig).
			Component(
				"finisher",
				func() error {
					return nil
				},
				func() {},
			).
			Component(
				"blocker",
				func() error {
					<-block
					return nil
				},
				func() {
					stopped = true
					close(block)
				},
			).
			Run()

		require.NoError(t, err)
		assert.True(t, stopped)
	})

	t.Run("component failure is returned", func(t *testing.T) {
		t.Parallel()

		block := make(chan struct{})

		sig := make(chan os.Signal, 1)
		err := engine.New(mocks.NoopLogger, "test", sig).
			Component(
				"failer",
				func() error {
					return mocks.GenericError
				},
				func() {},
			).
			Component(
				"blocker",
				func() error {
					<-block
					return nil
				},
				func() {
					close(block)
				},
			).
			Run()

		assert.ErrorIs(t, err, mocks.GenericError)
	})

	t.Run("signal stops all components", func(t *testing.T) {
		t.Parallel()

		block := make(chan struct{})

		sig := make(chan os.Signal, 1)
		done := make(chan error, 1)
		go func() {
			done <- engine.New(mocks.NoopLogger, "test", sig).
				Component(
					"blocker",
					func() error {
						<-block
						return nil
					},
					func() {
						close(block)
					},
				).
				Run()
		}()

		sig <- syscall.SIGTERM

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("engine did not stop on signal")
		}
	})

	t.Run("failure behind a clean finisher is not lost", func(t *testing.T) {
		t.Parallel()

		block := make(chan struct{})

		sig := make(chan os.Signal, 1)
		err := engine.New(mocks.NoopLogger, "test", sig).
			Component(
				"finisher",
				func() error {
					return nil
				},
				func() {},
			).
			Component(
				"failer",
				func() error {
					<-block
					return mocks.GenericError
				},
				func() {
					close(block)
				},
			).
			Run()

		assert.ErrorIs(t, err, mocks.GenericError)
	})
}
