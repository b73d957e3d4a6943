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

package locker_test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/locker"
	"github.com/osmnotes/notes-sync/testing/mocks"
)

func TestLocker_Acquire(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		t.Parallel()

		lock := locker.New(mocks.NoopLogger, t.TempDir())

		handle, err := lock.Acquire("dummy", "daemon", "/tmp/dummy")
		require.NoError(t, err)
		require.NotNil(t, handle)

		// The lock file records the owner for diagnosis.
		data, err := os.ReadFile(handle.Path())
		require.NoError(t, err)
		var owner locker.Owner
		require.NoError(t, json.Unmarshal(data, &owner))
		assert.Equal(t, os.Getpid(), owner.PID)
		assert.Equal(t, "daemon", owner.Role)
		assert.Equal(t, "/tmp/dummy", owner.TempDir)

		require.NoError(t, lock.Release(handle))
		_, err = os.Stat(handle.Path())
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("second acquire is refused with the contention code", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		lock := locker.New(mocks.NoopLogger, dir)

		handle, err := lock.Acquire("dummy", "daemon", "")
		require.NoError(t, err)
		defer func() {
			_ = lock.Release(handle)
		}()

		_, err = lock.Acquire("dummy", "bootstrap", "")
		require.Error(t, err)
		assert.Equal(t, notes.CodePlanetProcessRunning, notes.CodeOf(err))
	})

	t.Run("release allows reacquisition", func(t *testing.T) {
		t.Parallel()

		lock := locker.New(mocks.NoopLogger, t.TempDir())

		handle, err := lock.Acquire("dummy", "daemon", "")
		require.NoError(t, err)
		require.NoError(t, lock.Release(handle))

		handle, err = lock.Acquire("dummy", "bootstrap", "")
		require.NoError(t, err)
		require.NoError(t, lock.Release(handle))
	})

	t.Run("crashed owner metadata is reclaimed", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		lock := locker.New(mocks.NoopLogger, dir)

		// A lock file without a live flock simulates a crashed process; the
		// flock dies with the process, only the metadata remains.
		stale := locker.Owner{PID: 999999999, Role: "daemon"}
		data, err := json.Marshal(stale)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(dir+"/dummy.lock", data, 0o644))

		handle, err := lock.Acquire("dummy", "daemon", "")
		require.NoError(t, err)
		require.NotNil(t, handle)
		require.NoError(t, lock.Release(handle))
	})

	t.Run("replica writers contend on the shared lock name", func(t *testing.T) {
		t.Parallel()

		lock := locker.New(mocks.NoopLogger, t.TempDir())

		handle, err := lock.Acquire(notes.ReplicaLockName, "daemon", "")
		require.NoError(t, err)
		defer func() {
			_ = lock.Release(handle)
		}()

		// The boundary update and the bootstrap use the same name, so they
		// are refused while the daemon holds the lock.
		_, err = lock.Acquire(notes.ReplicaLockName, "boundaries", "")
		require.Error(t, err)
		assert.Equal(t, notes.CodePlanetProcessRunning, notes.CodeOf(err))

		_, err = lock.Acquire(notes.ReplicaLockName, "bootstrap", "")
		require.Error(t, err)
		assert.Equal(t, notes.CodePlanetProcessRunning, notes.CodeOf(err))
	})

	t.Run("different names do not contend", func(t *testing.T) {
		t.Parallel()

		lock := locker.New(mocks.NoopLogger, t.TempDir())

		first, err := lock.Acquire("dummy_a", "daemon", "")
		require.NoError(t, err)
		second, err := lock.Acquire("dummy_b", "daemon", "")
		require.NoError(t, err)

		require.NoError(t, lock.Release(first))
		require.NoError(t, lock.Release(second))
	})

	t.Run("handoff is recorded in the lock file", func(t *testing.T) {
		t.Parallel()

		lock := locker.New(mocks.NoopLogger, t.TempDir())

		handle, err := lock.Acquire("dummy", "daemon", "")
		require.NoError(t, err)
		defer func() {
			_ = lock.Release(handle)
		}()

		require.NoError(t, lock.Handoff(handle, "bootstrap"))

		data, err := os.ReadFile(handle.Path())
		require.NoError(t, err)
		var owner locker.Owner
		require.NoError(t, json.Unmarshal(data, &owner))
		assert.Equal(t, "bootstrap", owner.Role)
		assert.True(t, owner.Handoff)
	})
}
