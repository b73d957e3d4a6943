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

package splitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/codec/osmxml"
)

// Splitter streams a large XML document into N well-formed part files, each
// carrying a contiguous range of note elements under the original root.
type Splitter struct {
	log zerolog.Logger
	cfg Config
}

// New creates a splitter with the default part cap, overridable through
// options.
func New(log zerolog.Logger, options ...Option) *Splitter {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	s := Splitter{
		log: log.With().Str("component", "splitter").Logger(),
		cfg: cfg,
	}

	return &s
}

// Parts computes the part count for a document: the requested worker count,
// raised as needed so that no part exceeds the per-part cap.
func (s *Splitter) Parts(total int, workers int) int {
	if total == 0 {
		return 0
	}
	if workers < 1 {
		workers = 1
	}
	needed := (total + s.cfg.PartSizeCap - 1) / s.cfg.PartSizeCap
	if needed > workers {
		return needed
	}
	return workers
}

// Split streams the document into part files under the given directory and
// returns their paths in note order. The total note count comes from the
// validator so that parts can be sized evenly up front.
func (s *Splitter) Split(ctx context.Context, path string, format osmxml.Format, total int, workers int, dir string) ([]string, error) {

	parts := s.Parts(total, workers)
	if parts == 0 {
		return nil, nil
	}
	perPart := (total + parts - 1) / parts

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open document: %w", err)
	}
	defer file.Close()

	err = os.MkdirAll(dir, 0o777)
	if err != nil {
		return nil, fmt.Errorf("could not create part directory: %w", err)
	}

	dec := osmxml.NewDecoder(file, format)

	var paths []string
	var current *partWriter
	count := 0
	for {
		select {
		case <-ctx.Done():
			if current != nil {
				_ = current.abort()
			}
			return nil, fmt.Errorf("split interrupted: %w", ctx.Err())
		default:
		}

		record, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if current != nil {
				_ = current.abort()
			}
			return nil, fmt.Errorf("could not decode note during split: %w", err)
		}

		if current == nil {
			partPath := filepath.Join(dir, fmt.Sprintf("part_%05d.xml", len(paths)+1))
			current, err = newPartWriter(partPath)
			if err != nil {
				return nil, fmt.Errorf("could not create part file: %w", err)
			}
		}

		err = current.encode(record)
		if err != nil {
			_ = current.abort()
			return nil, fmt.Errorf("could not write note to part: %w", err)
		}
		count++

		if count == perPart {
			err = current.close()
			if err != nil {
				return nil, fmt.Errorf("could not finalize part: %w", err)
			}
			paths = append(paths, current.path)
			current = nil
			count = 0
		}
	}

	if current != nil {
		err = current.close()
		if err != nil {
			return nil, fmt.Errorf("could not finalize last part: %w", err)
		}
		paths = append(paths, current.path)
	}

	s.log.Info().
		Str("path", path).
		Int("total", total).
		Int("parts", len(paths)).
		Int("per_part", perPart).
		Msg("document split into parts")

	return paths, nil
}

// partWriter wraps one part file with its XML encoder.
type partWriter struct {
	path string
	file *os.File
	enc  *osmxml.Encoder
}

func newPartWriter(path string) (*partWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create file: %w", err)
	}
	enc, err := osmxml.NewEncoder(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("could not create encoder: %w", err)
	}
	w := partWriter{
		path: path,
		file: file,
		enc:  enc,
	}
	return &w, nil
}

func (w *partWriter) encode(record *osmxml.Record) error {
	return w.enc.Encode(record)
}

func (w *partWriter) close() error {
	err := w.enc.Close()
	if err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *partWriter) abort() error {
	_ = w.file.Close()
	return os.Remove(w.path)
}
