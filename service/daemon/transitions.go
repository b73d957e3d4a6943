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

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/marker"
	"github.com/osmnotes/notes-sync/service/synchronizer"
)

// Synchronizer runs one incremental sync cycle.
type Synchronizer interface {
	Sync(ctx context.Context) (synchronizer.Stats, error)
}

// Bootstrapper builds the replica from the planet dump when the daemon finds
// an empty or partial database at startup.
type Bootstrapper interface {
	Bootstrap(ctx context.Context) error
	Reload(ctx context.Context) error
}

// Store is the storage surface the daemon needs to decide whether the replica
// is ready for incremental synchronization.
type Store interface {
	BaseTablesExist(ctx context.Context) (bool, error)
	Watermark(ctx context.Context) (time.Time, error)
}

// Gate is the failure-marker surface of the previous-failure gate.
type Gate interface {
	Check(script string) (*marker.Record, error)
	Clear(script string) error
}

// Prober reports whether the notes API is reachable, used to self-heal
// network-kind markers.
type Prober interface {
	Live(ctx context.Context) bool
}

// Transitions is what applies transitions to the state of an FSM.
type Transitions struct {
	mu      sync.Mutex
	cfg     Config
	log     zerolog.Logger
	ctx     context.Context
	boot    Bootstrapper
	store   Store
	sync    Synchronizer
	gate    Gate
	probe   Prober
	metrics *Metrics
}

// NewTransitions returns a Transitions component using the given dependencies
// and using the given options.
func NewTransitions(ctx context.Context, log zerolog.Logger, boot Bootstrapper, store Store, sync Synchronizer, gate Gate, probe Prober, metrics *Metrics, options ...Option) *Transitions {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	t := Transitions{
		cfg:     cfg,
		log:     log.With().Str("component", "daemon_transitions").Logger(),
		ctx:     ctx,
		boot:    boot,
		store:   store,
		sync:    sync,
		gate:    gate,
		probe:   probe,
		metrics: metrics,
	}

	return &t
}

// SetCycleInterval changes the interval between sync cycles while the daemon
// runs. Used by the configuration reload on SIGHUP.
func (t *Transitions) SetCycleInterval(interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.CycleInterval = interval
}

func (t *Transitions) cycleInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.CycleInterval
}

// InitializeDaemon applies the previous-failure gate before the first cycle.
// A network-kind marker self-heals when the API is reachable again; any other
// marker refuses startup and needs an operator to clear it.
func (t *Transitions) InitializeDaemon(s *State) error {
	if status(s) != StatusInitialize {
		return fmt.Errorf("invalid status for initializing daemon (%s)", status(s))
	}

	// A flag left behind by a crashed shutdown must not stop the fresh run.
	err := os.Remove(t.cfg.ShutdownFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove stale shutdown flag: %w", err)
	}

	record, err := t.gate.Check(t.cfg.Script)
	if err != nil {
		return fmt.Errorf("could not check failure marker: %w", err)
	}
	if record != nil {
		if record.Code == notes.CodeInternetIssue && t.probe.Live(t.ctx) {
			t.log.Info().
				Str("kind", record.Kind).
				Time("failed_at", record.Timestamp).
				Msg("network restored, clearing failure marker")
			err = t.gate.Clear(t.cfg.Script)
			if err != nil {
				return fmt.Errorf("could not clear failure marker: %w", err)
			}
		} else {
			failure := notes.NewFailure(
				notes.CodePreviousExecutionFailed,
				nil,
				"previous execution failed (kind: %s, message: %s)",
				record.Kind, record.Message,
			).WithAction(record.RequiredAction)
			return failure
		}
	}

	setStatus(s, StatusBootstrap)
	return nil
}

// BootstrapReplica makes sure the replica can be synchronized incrementally
// before the first cycle. A missing schema triggers a full bootstrap, a schema
// without a watermark triggers a reload from the planet dump, and a ready
// replica passes straight through.
func (t *Transitions) BootstrapReplica(s *State) error {
	if status(s) != StatusBootstrap {
		return fmt.Errorf("invalid status for bootstrapping replica (%s)", status(s))
	}

	exists, err := t.store.BaseTablesExist(t.ctx)
	if err != nil {
		return fmt.Errorf("could not check base tables: %w", err)
	}
	if !exists {
		t.log.Info().Msg("base tables missing, bootstrapping replica")
		err = t.boot.Bootstrap(t.ctx)
		if err != nil {
			return fmt.Errorf("could not bootstrap replica: %w", err)
		}
		setStatus(s, StatusSynchronize)
		return nil
	}

	_, err = t.store.Watermark(t.ctx)
	if err != nil {
		if notes.CodeOf(err) != notes.CodeNoWatermark {
			return fmt.Errorf("could not check watermark: %w", err)
		}
		t.log.Info().Msg("no watermark, reloading replica from planet dump")
		err = t.boot.Reload(t.ctx)
		if err != nil {
			return fmt.Errorf("could not reload replica: %w", err)
		}
	}

	setStatus(s, StatusSynchronize)
	return nil
}

// SynchronizeNotes runs one sync cycle. A failed cycle increments the breaker
// and lets the daemon sleep; hitting the breaker limit stops the machine with
// the cycle's error.
func (t *Transitions) SynchronizeNotes(s *State) error {
	if status(s) != StatusSynchronize {
		return fmt.Errorf("invalid status for synchronizing notes (%s)", status(s))
	}

	s.mu.Lock()
	s.cycle++
	s.cycleStart = time.Now()
	s.mu.Unlock()

	stats, err := t.sync.Sync(t.ctx)
	t.metrics.Cycle(stats, err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.status = StatusShutdown
			return nil
		}
		s.consecutiveErrors++
		s.lastError = err.Error()
		if s.consecutiveErrors >= t.cfg.MaxConsecutiveErrors {
			return fmt.Errorf("too many consecutive cycle errors (count: %d): %w", s.consecutiveErrors, err)
		}
		t.log.Error().
			Err(err).
			Int("consecutive_errors", s.consecutiveErrors).
			Msg("sync cycle failed")
		s.status = StatusSleep
		return nil
	}

	s.consecutiveErrors = 0
	s.lastError = ""
	s.watermark = stats.Watermark
	s.status = StatusSleep
	return nil
}

// SleepDaemon waits out the rest of the cycle interval, honoring the shutdown
// flag file and context cancellation.
func (t *Transitions) SleepDaemon(s *State) error {
	if status(s) != StatusSleep {
		return fmt.Errorf("invalid status for sleeping (%s)", status(s))
	}

	if t.shutdownRequested() {
		setStatus(s, StatusShutdown)
		return nil
	}

	s.mu.Lock()
	remaining := t.cycleInterval() - time.Since(s.cycleStart)
	s.mu.Unlock()

	if remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-t.ctx.Done():
			setStatus(s, StatusShutdown)
			return nil
		case <-s.done:
			setStatus(s, StatusShutdown)
			return nil
		case <-timer.C:
		}
	}

	if t.shutdownRequested() {
		setStatus(s, StatusShutdown)
		return nil
	}

	setStatus(s, StatusSynchronize)
	return nil
}

// ShutdownDaemon leaves the machine cleanly and removes the shutdown flag.
func (t *Transitions) ShutdownDaemon(s *State) error {
	if status(s) != StatusShutdown {
		return fmt.Errorf("invalid status for shutting down (%s)", status(s))
	}

	err := os.Remove(t.cfg.ShutdownFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.log.Warn().Err(err).Msg("could not remove shutdown flag")
	}

	t.log.Info().Msg("daemon shutting down")
	s.halt()
	return nil
}

// shutdownRequested checks the well-known flag file that lets operators stop
// the daemon between cycles without signaling.
func (t *Transitions) shutdownRequested() bool {
	_, err := os.Stat(t.cfg.ShutdownFile)
	return err == nil
}

func status(s *State) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func setStatus(s *State, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}
