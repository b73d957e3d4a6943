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

package mocks

import (
	"context"
	"testing"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/boundary"
	"github.com/osmnotes/notes-sync/service/consolidator"
	"github.com/osmnotes/notes-sync/service/loader"
	"github.com/osmnotes/notes-sync/service/marker"
	"github.com/osmnotes/notes-sync/service/storage"
	"github.com/osmnotes/notes-sync/service/synchronizer"
)

type Loader struct {
	LoadFunc func(ctx context.Context, parts []string, format osmxml.Format, dir string) (loader.Stats, error)
}

func BaselineLoader(t *testing.T) *Loader {
	t.Helper()

	l := Loader{
		LoadFunc: func(_ context.Context, parts []string, _ osmxml.Format, _ string) (loader.Stats, error) {
			return loader.Stats{Parts: len(parts), Notes: 1, Comments: 1, Texts: 1}, nil
		},
	}

	return &l
}

func (l *Loader) Load(ctx context.Context, parts []string, format osmxml.Format, dir string) (loader.Stats, error) {
	return l.LoadFunc(ctx, parts, format, dir)
}

type Merger struct {
	ConsolidateFunc func(ctx context.Context, src storage.Source) (consolidator.Stats, error)
}

func BaselineMerger(t *testing.T) *Merger {
	t.Helper()

	m := Merger{
		ConsolidateFunc: func(context.Context, storage.Source) (consolidator.Stats, error) {
			return consolidator.Stats{Notes: 1, Comments: 1, Texts: 1, Watermark: GenericOpenedAt}, nil
		},
	}

	return &m
}

func (m *Merger) Consolidate(ctx context.Context, src storage.Source) (consolidator.Stats, error) {
	return m.ConsolidateFunc(ctx, src)
}

type Boundaries struct {
	ImportAllFunc func(ctx context.Context) (boundary.Stats, error)
}

func BaselineBoundaries(t *testing.T) *Boundaries {
	t.Helper()

	b := Boundaries{
		ImportAllFunc: func(context.Context) (boundary.Stats, error) {
			return boundary.Stats{Upstream: 1, Added: 1}, nil
		},
	}

	return &b
}

func (b *Boundaries) ImportAll(ctx context.Context) (boundary.Stats, error) {
	return b.ImportAllFunc(ctx)
}

type Reloader struct {
	BootstrapFunc func(ctx context.Context) error
	ReloadFunc    func(ctx context.Context) error
}

func BaselineReloader(t *testing.T) *Reloader {
	t.Helper()

	r := Reloader{
		BootstrapFunc: func(context.Context) error {
			return nil
		},
		ReloadFunc: func(context.Context) error {
			return nil
		},
	}

	return &r
}

func (r *Reloader) Bootstrap(ctx context.Context) error {
	return r.BootstrapFunc(ctx)
}

func (r *Reloader) Reload(ctx context.Context) error {
	return r.ReloadFunc(ctx)
}

type Synchronizer struct {
	SyncFunc func(ctx context.Context) (synchronizer.Stats, error)
}

func BaselineSynchronizer(t *testing.T) *Synchronizer {
	t.Helper()

	s := Synchronizer{
		SyncFunc: func(context.Context) (synchronizer.Stats, error) {
			return synchronizer.Stats{Watermark: GenericOpenedAt, Notes: 1, Comments: 1}, nil
		},
	}

	return &s
}

func (s *Synchronizer) Sync(ctx context.Context) (synchronizer.Stats, error) {
	return s.SyncFunc(ctx)
}

type Gate struct {
	CheckFunc func(script string) (*marker.Record, error)
	ClearFunc func(script string) error
}

func BaselineGate(t *testing.T) *Gate {
	t.Helper()

	g := Gate{
		CheckFunc: func(string) (*marker.Record, error) {
			return nil, nil
		},
		ClearFunc: func(string) error {
			return nil
		},
	}

	return &g
}

func (g *Gate) Check(script string) (*marker.Record, error) {
	return g.CheckFunc(script)
}

func (g *Gate) Clear(script string) error {
	return g.ClearFunc(script)
}

type Overpass struct {
	RelationIDsFunc   func(ctx context.Context, kind notes.BoundaryKind) ([]int64, error)
	FetchRelationFunc func(ctx context.Context, id int64, dir string) (string, uint64, error)
}

func BaselineOverpass(t *testing.T) *Overpass {
	t.Helper()

	o := Overpass{
		RelationIDsFunc: func(context.Context, notes.BoundaryKind) ([]int64, error) {
			return []int64{GenericCountryID}, nil
		},
		FetchRelationFunc: func(_ context.Context, id int64, _ string) (string, uint64, error) {
			return "boundary.json", 42, nil
		},
	}

	return &o
}

func (o *Overpass) RelationIDs(ctx context.Context, kind notes.BoundaryKind) ([]int64, error) {
	return o.RelationIDsFunc(ctx, kind)
}

func (o *Overpass) FetchRelation(ctx context.Context, id int64, dir string) (string, uint64, error) {
	return o.FetchRelationFunc(ctx, id, dir)
}

type Importer struct {
	ImportFunc func(ctx context.Context, path string) error
}

func BaselineImporter(t *testing.T) *Importer {
	t.Helper()

	i := Importer{
		ImportFunc: func(context.Context, string) error {
			return nil
		},
	}

	return &i
}

func (i *Importer) Import(ctx context.Context, path string) error {
	return i.ImportFunc(ctx, path)
}
