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

package marker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Record is the machine-readable content of a failure marker. It carries
// enough context to reproduce the failure without access to the dead process.
type Record struct {
	Script         string     `json:"script"`
	Code           notes.Code `json:"code"`
	Kind           string     `json:"kind"`
	Message        string     `json:"message"`
	RequiredAction string     `json:"required_action"`
	PID            int        `json:"pid"`
	TempDir        string     `json:"temp_dir"`
	Timestamp      time.Time  `json:"timestamp"`
}

// Marker persists crash-safe failure records under a well-known directory and
// gates re-runs while one is present. Writes fall back to a per-script temp
// path when the primary directory is unavailable.
type Marker struct {
	log zerolog.Logger
	dir string
}

// New creates a marker store rooted at the given directory.
func New(log zerolog.Logger, dir string) *Marker {

	m := Marker{
		log: log.With().Str("component", "marker").Logger(),
		dir: dir,
	}

	return &m
}

// Write persists a failure record for the given script name. The primary path
// is best-effort; on error the record is written to the fallback path so that
// the gate still engages after a crash.
func (m *Marker) Write(script string, failure notes.Failure, tempDir string) error {

	record := Record{
		Script:         script,
		Code:           failure.Code,
		Kind:           failure.Code.String(),
		Message:        failure.Error(),
		RequiredAction: failure.RequiredAction,
		PID:            os.Getpid(),
		TempDir:        tempDir,
		Timestamp:      time.Now().UTC(),
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode failure record: %w", err)
	}

	err = os.MkdirAll(m.dir, 0o777)
	if err == nil {
		err = os.WriteFile(m.primaryPath(script), data, 0o644)
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("could not write primary failure marker, using fallback")
		fallbackErr := os.WriteFile(m.fallbackPath(script), data, 0o644)
		if fallbackErr != nil {
			return fmt.Errorf("could not write failure marker: %w", fallbackErr)
		}
	}

	m.log.Error().
		Str("script", script).
		Int("code", int(record.Code)).
		Str("kind", record.Kind).
		Str("message", record.Message).
		Msg("failure marker written")

	return nil
}

// Check returns the present failure record for the script, or nil when no
// marker exists.
func (m *Marker) Check(script string) (*Record, error) {
	for _, path := range []string{m.primaryPath(script), m.fallbackPath(script)} {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("could not read failure marker: %w", err)
		}
		var record Record
		err = json.Unmarshal(data, &record)
		if err != nil {
			return nil, fmt.Errorf("could not decode failure marker (path: %s): %w", path, err)
		}
		return &record, nil
	}
	return nil, nil
}

// Gate refuses a run while a failure marker is present for the script. The
// returned failure carries the recorded required action so the refusal tells
// the operator what to do before clearing the marker.
func (m *Marker) Gate(script string) error {
	record, err := m.Check(script)
	if err != nil {
		return fmt.Errorf("could not check failure marker: %w", err)
	}
	if record == nil {
		return nil
	}
	failure := notes.NewFailure(
		notes.CodePreviousExecutionFailed,
		nil,
		"previous execution failed (kind: %s, message: %s)",
		record.Kind, record.Message,
	).WithAction(record.RequiredAction)
	return failure
}

// Clear removes any present marker for the script.
func (m *Marker) Clear(script string) error {
	for _, path := range []string{m.primaryPath(script), m.fallbackPath(script)} {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not remove failure marker: %w", err)
		}
	}
	return nil
}

func (m *Marker) primaryPath(script string) string {
	return filepath.Join(m.dir, script+"_failed")
}

func (m *Marker) fallbackPath(script string) string {
	return filepath.Join(os.TempDir(), script+"_failed")
}
