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

package locker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Owner is the metadata written into the lock file so an operator can
// diagnose contention without tracing processes.
type Owner struct {
	PID       int       `json:"pid"`
	Role      string    `json:"role"`
	StartedAt time.Time `json:"started_at"`
	TempDir   string    `json:"temp_dir"`
	Handoff   bool      `json:"handoff"`
}

// Handle represents a held lock. It must be released by the same process that
// acquired it, except across an explicit handoff.
type Handle struct {
	path  string
	flock *flock.Flock
	owner Owner
}

// Path returns the lock file path backing the handle.
func (h *Handle) Path() string {
	return h.path
}

// Locker hands out per-name advisory file locks under a well-known directory,
// guaranteeing at most one writer per process name on the host.
type Locker struct {
	log zerolog.Logger
	dir string
}

// New creates a locker that keeps its lock files in the given directory.
func New(log zerolog.Logger, dir string) *Locker {

	l := Locker{
		log: log.With().Str("component", "locker").Logger(),
		dir: dir,
	}

	return &l
}

// Acquire takes the advisory lock for the given process name and records the
// caller as owner. A lock file whose recorded PID is no longer alive is
// reclaimed; a live owner is always respected and surfaces as a failure with
// the writer-contention code.
func (l *Locker) Acquire(name string, role string, tempDir string) (*Handle, error) {

	err := os.MkdirAll(l.dir, 0o777)
	if err != nil {
		return nil, fmt.Errorf("could not create lock directory: %w", err)
	}

	path := filepath.Join(l.dir, name+".lock")
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("could not try lock: %w", err)
	}
	if !locked {
		owner, readErr := readOwner(path)
		if readErr == nil && !pidAlive(owner.PID) {
			// The flock syscall lock dies with its process, so a held flock
			// with a dead recorded PID cannot normally happen; treat it as
			// contention rather than guessing.
			l.log.Warn().Int("pid", owner.PID).Str("path", path).Msg("lock held but recorded owner is dead")
		}
		return nil, busyError(path, owner)
	}

	// We hold the flock; the file may still carry metadata from a crashed
	// owner, which is safe to overwrite.
	stale, readErr := readOwner(path)
	if readErr == nil && stale.PID != 0 && !pidAlive(stale.PID) {
		l.log.Info().Int("stale_pid", stale.PID).Str("path", path).Msg("reclaiming stale lock file")
	}

	owner := Owner{
		PID:       os.Getpid(),
		Role:      role,
		StartedAt: time.Now().UTC(),
		TempDir:   tempDir,
	}
	err = writeOwner(path, owner)
	if err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("could not write lock owner metadata: %w", err)
	}

	h := Handle{
		path:  path,
		flock: fl,
		owner: owner,
	}

	l.log.Debug().Str("name", name).Str("role", role).Msg("process lock acquired")

	return &h, nil
}

// Handoff records in the lock file that the owner is about to delegate the
// locked work, so a later diagnosis can tell the transition apart from a
// stale owner.
func (l *Locker) Handoff(handle *Handle, role string) error {
	handle.owner.Role = role
	handle.owner.Handoff = true
	err := writeOwner(handle.path, handle.owner)
	if err != nil {
		return fmt.Errorf("could not record lock handoff: %w", err)
	}
	return nil
}

// Release unlocks and removes the lock file.
func (l *Locker) Release(handle *Handle) error {
	err := handle.flock.Unlock()
	if err != nil {
		return fmt.Errorf("could not release lock: %w", err)
	}
	err = os.Remove(handle.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not remove lock file: %w", err)
	}
	l.log.Debug().Str("path", handle.path).Msg("process lock released")
	return nil
}

func busyError(path string, owner Owner) error {
	err := notes.NewFailure(
		notes.CodePlanetProcessRunning,
		nil,
		"process lock busy (path: %s, owner_pid: %d, owner_role: %s)",
		path, owner.PID, owner.Role,
	).WithAction("wait for the running process to finish or investigate the recorded owner")
	return err
}

func readOwner(path string) (Owner, error) {
	var owner Owner
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, fmt.Errorf("could not read lock file: %w", err)
	}
	err = json.Unmarshal(data, &owner)
	if err != nil {
		return Owner{}, fmt.Errorf("could not decode lock owner: %w", err)
	}
	return owner, nil
}

func writeOwner(path string, owner Owner) error {
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode lock owner: %w", err)
	}
	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return fmt.Errorf("could not write lock file: %w", err)
	}
	return nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
