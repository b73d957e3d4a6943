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

package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/daemon"
	"github.com/osmnotes/notes-sync/service/marker"
	"github.com/osmnotes/notes-sync/service/synchronizer"
	"github.com/osmnotes/notes-sync/testing/mocks"
)

// The prometheus collectors register on the process-wide default registry, so
// all tests share one instance.
var testMetrics = daemon.NewMetrics()

func baselineTransitions(t *testing.T, sync *mocks.Synchronizer, gate *mocks.Gate, probe *mocks.API, options ...daemon.Option) *daemon.Transitions {
	t.Helper()

	options = append([]daemon.Option{
		daemon.WithShutdownFile(filepath.Join(t.TempDir(), "shutdown")),
		daemon.WithCycleInterval(time.Millisecond),
	}, options...)

	return daemon.NewTransitions(context.Background(), mocks.NoopLogger,
		mocks.BaselineReloader(t), mocks.BaselineStore(t), sync, gate, probe, testMetrics, options...)
}

// atStatus drives a fresh state into the wanted status for a single edge test.
func atStatus(t *testing.T, tr *daemon.Transitions, want daemon.Status) *daemon.State {
	t.Helper()

	state := daemon.EmptyState()
	for state.Snapshot().Status != want.String() {
		switch state.Snapshot().Status {
		case daemon.StatusInitialize.String():
			require.NoError(t, tr.InitializeDaemon(state))
		case daemon.StatusBootstrap.String():
			require.NoError(t, tr.BootstrapReplica(state))
		case daemon.StatusSynchronize.String():
			require.NoError(t, tr.SynchronizeNotes(state))
		case daemon.StatusSleep.String():
			require.NoError(t, tr.SleepDaemon(state))
		default:
			t.Fatalf("cannot reach status %s from %s", want, state.Snapshot().Status)
		}
	}
	return state
}

func TestTransitions_InitializeDaemon(t *testing.T) {
	t.Run("clean start moves to bootstrap", func(t *testing.T) {
		t.Parallel()

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t))
		state := daemon.EmptyState()

		require.NoError(t, tr.InitializeDaemon(state))
		assert.Equal(t, daemon.StatusBootstrap.String(), state.Snapshot().Status)
	})

	t.Run("previous failure refuses startup", func(t *testing.T) {
		t.Parallel()

		gate := mocks.BaselineGate(t)
		gate.CheckFunc = func(string) (*marker.Record, error) {
			record := marker.Record{
				Script:         "notes_daemon",
				Code:           notes.CodeDataValidation,
				Kind:           "data_validation",
				Message:        "broken document",
				RequiredAction: "inspect the document",
			}
			return &record, nil
		}

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), gate, mocks.BaselineAPI(t))
		state := daemon.EmptyState()

		err := tr.InitializeDaemon(state)
		require.Error(t, err)
		assert.Equal(t, notes.CodePreviousExecutionFailed, notes.CodeOf(err))
	})

	t.Run("network marker self-heals when the API is live", func(t *testing.T) {
		t.Parallel()

		var cleared bool
		gate := mocks.BaselineGate(t)
		gate.CheckFunc = func(string) (*marker.Record, error) {
			record := marker.Record{Code: notes.CodeInternetIssue, Kind: "internet_issue"}
			return &record, nil
		}
		gate.ClearFunc = func(string) error {
			cleared = true
			return nil
		}

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), gate, mocks.BaselineAPI(t))
		state := daemon.EmptyState()

		require.NoError(t, tr.InitializeDaemon(state))
		assert.True(t, cleared)
		assert.Equal(t, daemon.StatusBootstrap.String(), state.Snapshot().Status)
	})

	t.Run("network marker stays fatal while the API is down", func(t *testing.T) {
		t.Parallel()

		gate := mocks.BaselineGate(t)
		gate.CheckFunc = func(string) (*marker.Record, error) {
			record := marker.Record{Code: notes.CodeInternetIssue, Kind: "internet_issue"}
			return &record, nil
		}
		probe := mocks.BaselineAPI(t)
		probe.LiveFunc = func(context.Context) bool {
			return false
		}

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), gate, probe)

		err := tr.InitializeDaemon(daemon.EmptyState())
		require.Error(t, err)
		assert.Equal(t, notes.CodePreviousExecutionFailed, notes.CodeOf(err))
	})

	t.Run("stale shutdown flag is removed on startup", func(t *testing.T) {
		t.Parallel()

		flag := filepath.Join(t.TempDir(), "shutdown")
		require.NoError(t, os.WriteFile(flag, nil, 0o644))

		tr := daemon.NewTransitions(context.Background(), mocks.NoopLogger,
			mocks.BaselineReloader(t), mocks.BaselineStore(t),
			mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t), testMetrics,
			daemon.WithShutdownFile(flag),
			daemon.WithCycleInterval(time.Millisecond),
		)

		require.NoError(t, tr.InitializeDaemon(daemon.EmptyState()))
		_, err := os.Stat(flag)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("wrong status is rejected", func(t *testing.T) {
		t.Parallel()

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t))
		state := atStatus(t, tr, daemon.StatusSynchronize)

		assert.Error(t, tr.InitializeDaemon(state))
	})
}

func TestTransitions_BootstrapReplica(t *testing.T) {
	bootstrapTransitions := func(t *testing.T, boot *mocks.Reloader, store *mocks.Store) *daemon.Transitions {
		t.Helper()
		return daemon.NewTransitions(context.Background(), mocks.NoopLogger,
			boot, store, mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t), testMetrics,
			daemon.WithShutdownFile(filepath.Join(t.TempDir(), "shutdown")),
			daemon.WithCycleInterval(time.Millisecond),
		)
	}

	t.Run("ready replica passes straight through", func(t *testing.T) {
		t.Parallel()

		boot := mocks.BaselineReloader(t)
		boot.BootstrapFunc = func(context.Context) error {
			t.Fatal("no bootstrap for a ready replica")
			return nil
		}
		boot.ReloadFunc = func(context.Context) error {
			t.Fatal("no reload for a ready replica")
			return nil
		}

		tr := bootstrapTransitions(t, boot, mocks.BaselineStore(t))
		state := atStatus(t, tr, daemon.StatusBootstrap)

		require.NoError(t, tr.BootstrapReplica(state))
		assert.Equal(t, daemon.StatusSynchronize.String(), state.Snapshot().Status)
	})

	t.Run("missing base tables trigger a full bootstrap", func(t *testing.T) {
		t.Parallel()

		var bootstrapped bool
		boot := mocks.BaselineReloader(t)
		boot.BootstrapFunc = func(context.Context) error {
			bootstrapped = true
			return nil
		}
		store := mocks.BaselineStore(t)
		store.BaseTablesExistFunc = func(context.Context) (bool, error) {
			return false, nil
		}

		tr := bootstrapTransitions(t, boot, store)
		state := atStatus(t, tr, daemon.StatusBootstrap)

		require.NoError(t, tr.BootstrapReplica(state))
		assert.True(t, bootstrapped)
		assert.Equal(t, daemon.StatusSynchronize.String(), state.Snapshot().Status)
	})

	t.Run("missing watermark triggers a reload", func(t *testing.T) {
		t.Parallel()

		var reloaded bool
		boot := mocks.BaselineReloader(t)
		boot.ReloadFunc = func(context.Context) error {
			reloaded = true
			return nil
		}
		store := mocks.BaselineStore(t)
		store.WatermarkFunc = func(context.Context) (time.Time, error) {
			return time.Time{}, notes.NewFailure(notes.CodeNoWatermark, nil, "no watermark")
		}

		tr := bootstrapTransitions(t, boot, store)
		state := atStatus(t, tr, daemon.StatusBootstrap)

		require.NoError(t, tr.BootstrapReplica(state))
		assert.True(t, reloaded)
		assert.Equal(t, daemon.StatusSynchronize.String(), state.Snapshot().Status)
	})

	t.Run("failed bootstrap stops the machine", func(t *testing.T) {
		t.Parallel()

		boot := mocks.BaselineReloader(t)
		boot.BootstrapFunc = func(context.Context) error {
			return mocks.GenericError
		}
		store := mocks.BaselineStore(t)
		store.BaseTablesExistFunc = func(context.Context) (bool, error) {
			return false, nil
		}

		tr := bootstrapTransitions(t, boot, store)
		state := atStatus(t, tr, daemon.StatusBootstrap)

		err := tr.BootstrapReplica(state)
		assert.ErrorIs(t, err, mocks.GenericError)
	})

	t.Run("watermark check error stops the machine", func(t *testing.T) {
		t.Parallel()

		store := mocks.BaselineStore(t)
		store.WatermarkFunc = func(context.Context) (time.Time, error) {
			return time.Time{}, mocks.GenericError
		}

		tr := bootstrapTransitions(t, mocks.BaselineReloader(t), store)
		state := atStatus(t, tr, daemon.StatusBootstrap)

		err := tr.BootstrapReplica(state)
		assert.ErrorIs(t, err, mocks.GenericError)
	})

	t.Run("wrong status is rejected", func(t *testing.T) {
		t.Parallel()

		tr := bootstrapTransitions(t, mocks.BaselineReloader(t), mocks.BaselineStore(t))
		state := atStatus(t, tr, daemon.StatusSynchronize)

		assert.Error(t, tr.BootstrapReplica(state))
	})
}

func TestTransitions_SynchronizeNotes(t *testing.T) {
	t.Run("successful cycle records the watermark and sleeps", func(t *testing.T) {
		t.Parallel()

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t))
		state := atStatus(t, tr, daemon.StatusSynchronize)

		require.NoError(t, tr.SynchronizeNotes(state))

		snapshot := state.Snapshot()
		assert.Equal(t, daemon.StatusSleep.String(), snapshot.Status)
		assert.Equal(t, uint64(1), snapshot.Cycle)
		assert.Zero(t, snapshot.ConsecutiveErrors)
		assert.Equal(t, mocks.GenericOpenedAt, snapshot.Watermark)
	})

	t.Run("failed cycle increments the breaker and sleeps", func(t *testing.T) {
		t.Parallel()

		sync := mocks.BaselineSynchronizer(t)
		sync.SyncFunc = func(context.Context) (synchronizer.Stats, error) {
			return synchronizer.Stats{}, mocks.GenericError
		}

		tr := baselineTransitions(t, sync, mocks.BaselineGate(t), mocks.BaselineAPI(t))
		state := atStatus(t, tr, daemon.StatusSynchronize)

		require.NoError(t, tr.SynchronizeNotes(state))

		snapshot := state.Snapshot()
		assert.Equal(t, daemon.StatusSleep.String(), snapshot.Status)
		assert.Equal(t, 1, snapshot.ConsecutiveErrors)
		assert.NotEmpty(t, snapshot.LastError)
	})

	t.Run("breaker limit stops the machine with the error", func(t *testing.T) {
		t.Parallel()

		sync := mocks.BaselineSynchronizer(t)
		sync.SyncFunc = func(context.Context) (synchronizer.Stats, error) {
			return synchronizer.Stats{}, mocks.GenericError
		}

		tr := baselineTransitions(t, sync, mocks.BaselineGate(t), mocks.BaselineAPI(t),
			daemon.WithMaxConsecutiveErrors(2),
		)
		state := atStatus(t, tr, daemon.StatusSynchronize)

		require.NoError(t, tr.SynchronizeNotes(state))
		assert.Equal(t, 1, state.Snapshot().ConsecutiveErrors)

		require.NoError(t, tr.SleepDaemon(state))
		err := tr.SynchronizeNotes(state)
		assert.ErrorIs(t, err, mocks.GenericError)
	})

	t.Run("canceled context means shutdown, not an error", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		sync := mocks.BaselineSynchronizer(t)
		sync.SyncFunc = func(context.Context) (synchronizer.Stats, error) {
			return synchronizer.Stats{}, ctx.Err()
		}

		tr := baselineTransitions(t, sync, mocks.BaselineGate(t), mocks.BaselineAPI(t))
		state := atStatus(t, tr, daemon.StatusSynchronize)

		require.NoError(t, tr.SynchronizeNotes(state))
		assert.Equal(t, daemon.StatusShutdown.String(), state.Snapshot().Status)
	})

	t.Run("successful cycle resets the breaker", func(t *testing.T) {
		t.Parallel()

		var fail bool
		sync := mocks.BaselineSynchronizer(t)
		sync.SyncFunc = func(context.Context) (synchronizer.Stats, error) {
			if fail {
				return synchronizer.Stats{}, mocks.GenericError
			}
			return synchronizer.Stats{Watermark: mocks.GenericOpenedAt}, nil
		}

		tr := baselineTransitions(t, sync, mocks.BaselineGate(t), mocks.BaselineAPI(t))
		state := atStatus(t, tr, daemon.StatusSynchronize)

		fail = true
		require.NoError(t, tr.SynchronizeNotes(state))
		assert.Equal(t, 1, state.Snapshot().ConsecutiveErrors)

		require.NoError(t, tr.SleepDaemon(state))
		fail = false
		require.NoError(t, tr.SynchronizeNotes(state))
		assert.Zero(t, state.Snapshot().ConsecutiveErrors)
	})
}

func TestTransitions_SleepDaemon(t *testing.T) {
	t.Run("interval elapsed moves back to synchronize", func(t *testing.T) {
		t.Parallel()

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t))
		state := atStatus(t, tr, daemon.StatusSleep)

		require.NoError(t, tr.SleepDaemon(state))
		assert.Equal(t, daemon.StatusSynchronize.String(), state.Snapshot().Status)
	})

	t.Run("shutdown flag stops the loop", func(t *testing.T) {
		t.Parallel()

		flag := filepath.Join(t.TempDir(), "shutdown")

		tr := daemon.NewTransitions(context.Background(), mocks.NoopLogger,
			mocks.BaselineReloader(t), mocks.BaselineStore(t),
			mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t), testMetrics,
			daemon.WithShutdownFile(flag),
			daemon.WithCycleInterval(time.Millisecond),
		)
		state := atStatus(t, tr, daemon.StatusSleep)

		require.NoError(t, os.WriteFile(flag, nil, 0o644))
		require.NoError(t, tr.SleepDaemon(state))
		assert.Equal(t, daemon.StatusShutdown.String(), state.Snapshot().Status)
	})

	t.Run("reloaded interval applies to the next sleep", func(t *testing.T) {
		t.Parallel()

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t),
			daemon.WithCycleInterval(time.Hour),
		)
		state := atStatus(t, tr, daemon.StatusSleep)

		tr.SetCycleInterval(time.Millisecond)

		done := make(chan error, 1)
		go func() {
			done <- tr.SleepDaemon(state)
		}()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("sleep did not pick up the reloaded interval")
		}
		assert.Equal(t, daemon.StatusSynchronize.String(), state.Snapshot().Status)
	})

	t.Run("canceled context wakes the sleep into shutdown", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		tr := daemon.NewTransitions(ctx, mocks.NoopLogger,
			mocks.BaselineReloader(t), mocks.BaselineStore(t),
			mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t), testMetrics,
			daemon.WithShutdownFile(filepath.Join(t.TempDir(), "shutdown")),
			daemon.WithCycleInterval(time.Hour),
		)
		state := atStatus(t, tr, daemon.StatusSleep)
		cancel()

		require.NoError(t, tr.SleepDaemon(state))
		assert.Equal(t, daemon.StatusShutdown.String(), state.Snapshot().Status)
	})
}

func TestTransitions_ShutdownDaemon(t *testing.T) {
	t.Parallel()

	flag := filepath.Join(t.TempDir(), "shutdown")

	tr := daemon.NewTransitions(context.Background(), mocks.NoopLogger,
		mocks.BaselineReloader(t), mocks.BaselineStore(t),
		mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t), testMetrics,
		daemon.WithShutdownFile(flag),
		daemon.WithCycleInterval(time.Millisecond),
	)
	state := atStatus(t, tr, daemon.StatusSleep)

	require.NoError(t, os.WriteFile(flag, nil, 0o644))
	require.NoError(t, tr.SleepDaemon(state))
	require.NoError(t, tr.ShutdownDaemon(state))

	_, err := os.Stat(flag)
	assert.True(t, os.IsNotExist(err))
}

func TestFSM_Run(t *testing.T) {
	t.Run("runs edges until shutdown", func(t *testing.T) {
		t.Parallel()

		flag := filepath.Join(t.TempDir(), "shutdown")

		var cycles int
		sync := mocks.BaselineSynchronizer(t)
		sync.SyncFunc = func(context.Context) (synchronizer.Stats, error) {
			cycles++
			if cycles == 3 {
				require.NoError(t, os.WriteFile(flag, nil, 0o644))
			}
			return synchronizer.Stats{Watermark: mocks.GenericOpenedAt}, nil
		}

		tr := daemon.NewTransitions(context.Background(), mocks.NoopLogger,
			mocks.BaselineReloader(t), mocks.BaselineStore(t),
			sync, mocks.BaselineGate(t), mocks.BaselineAPI(t), testMetrics,
			daemon.WithShutdownFile(flag),
			daemon.WithCycleInterval(time.Millisecond),
		)

		state := daemon.EmptyState()
		fsm := daemon.NewFSM(state)
		fsm.Add(daemon.WithStatus(daemon.StatusInitialize), tr.InitializeDaemon)
		fsm.Add(daemon.WithStatus(daemon.StatusBootstrap), tr.BootstrapReplica)
		fsm.Add(daemon.WithStatus(daemon.StatusSynchronize), tr.SynchronizeNotes)
		fsm.Add(daemon.WithStatus(daemon.StatusSleep), tr.SleepDaemon)
		fsm.Add(daemon.WithStatus(daemon.StatusShutdown), tr.ShutdownDaemon)

		require.NoError(t, fsm.Run())
		assert.Equal(t, 3, cycles)
	})

	t.Run("transition error stops the machine", func(t *testing.T) {
		t.Parallel()

		gate := mocks.BaselineGate(t)
		gate.CheckFunc = func(string) (*marker.Record, error) {
			return nil, mocks.GenericError
		}

		tr := baselineTransitions(t, mocks.BaselineSynchronizer(t), gate, mocks.BaselineAPI(t))

		state := daemon.EmptyState()
		fsm := daemon.NewFSM(state)
		fsm.Add(daemon.WithStatus(daemon.StatusInitialize), tr.InitializeDaemon)

		err := fsm.Run()
		assert.ErrorIs(t, err, mocks.GenericError)
	})

	t.Run("stop halts a sleeping machine", func(t *testing.T) {
		t.Parallel()

		tr := daemon.NewTransitions(context.Background(), mocks.NoopLogger,
			mocks.BaselineReloader(t), mocks.BaselineStore(t),
			mocks.BaselineSynchronizer(t), mocks.BaselineGate(t), mocks.BaselineAPI(t), testMetrics,
			daemon.WithShutdownFile(filepath.Join(t.TempDir(), "shutdown")),
			daemon.WithCycleInterval(time.Hour),
		)

		state := daemon.EmptyState()
		fsm := daemon.NewFSM(state)
		fsm.Add(daemon.WithStatus(daemon.StatusInitialize), tr.InitializeDaemon)
		fsm.Add(daemon.WithStatus(daemon.StatusBootstrap), tr.BootstrapReplica)
		fsm.Add(daemon.WithStatus(daemon.StatusSynchronize), tr.SynchronizeNotes)
		fsm.Add(daemon.WithStatus(daemon.StatusSleep), tr.SleepDaemon)
		fsm.Add(daemon.WithStatus(daemon.StatusShutdown), tr.ShutdownDaemon)

		done := make(chan error, 1)
		go func() {
			done <- fsm.Run()
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, fsm.Stop(context.Background()))

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("machine did not stop")
		}
	})
}
