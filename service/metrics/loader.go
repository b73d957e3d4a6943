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

package metrics

import (
	"context"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/metrics/rcrowley"
	"github.com/osmnotes/notes-sync/service/initializer"
	"github.com/osmnotes/notes-sync/service/loader"
)

// Loader wraps the parallel load and records its duration and row volumes.
type Loader struct {
	load   initializer.Loader
	time   *rcrowley.Time
	volume *rcrowley.Volume
}

func NewLoader(load initializer.Loader, time *rcrowley.Time, volume *rcrowley.Volume) *Loader {
	l := Loader{
		load:   load,
		time:   time,
		volume: volume,
	}
	return &l
}

func (l *Loader) Load(ctx context.Context, parts []string, format osmxml.Format, dir string) (loader.Stats, error) {
	stop := l.time.Duration("load")
	defer stop()
	stats, err := l.load.Load(ctx, parts, format, dir)
	if err != nil {
		return loader.Stats{}, err
	}
	l.volume.Count("notes", stats.Notes)
	l.volume.Count("comments", stats.Comments)
	l.volume.Count("text", stats.Texts)
	return stats, nil
}
