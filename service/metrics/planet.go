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
	"os"

	"github.com/osmnotes/notes-sync/metrics/rcrowley"
	"github.com/osmnotes/notes-sync/service/initializer"
)

// Planet wraps a dump source and records stage durations and downloaded bytes.
type Planet struct {
	planet initializer.Planet
	time   *rcrowley.Time
	volume *rcrowley.Volume
}

func NewPlanet(planet initializer.Planet, time *rcrowley.Time, volume *rcrowley.Volume) *Planet {
	p := Planet{
		planet: planet,
		time:   time,
		volume: volume,
	}
	return &p
}

func (p *Planet) Download(ctx context.Context, dir string) (string, error) {
	stop := p.time.Duration("download")
	defer stop()
	path, err := p.planet.Download(ctx, dir)
	if err != nil {
		return "", err
	}
	info, statErr := os.Stat(path)
	if statErr == nil {
		p.volume.Count("archive_bytes", info.Size())
	}
	return path, nil
}

func (p *Planet) Extract(ctx context.Context, archive string) (string, error) {
	stop := p.time.Duration("extract")
	defer stop()
	path, err := p.planet.Extract(ctx, archive)
	if err != nil {
		return "", err
	}
	info, statErr := os.Stat(path)
	if statErr == nil {
		p.volume.Count("dump_bytes", info.Size())
	}
	return path, nil
}
