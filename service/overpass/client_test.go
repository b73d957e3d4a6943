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

package overpass_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/OneOfOne/xxhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/overpass"
	"github.com/osmnotes/notes-sync/testing/mocks"
)

func TestClient_RelationIDs(t *testing.T) {
	t.Run("country ids are sorted and filtered", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			query := r.PostForm.Get("data")
			assert.Contains(t, query, `"admin_level"="2"`)
			_, _ = w.Write([]byte(`{"elements":[
				{"type":"relation","id":148838},
				{"type":"relation","id":114686},
				{"type":"node","id":99}
			]}`))
		}))
		defer srv.Close()

		client := overpass.New(mocks.NoopLogger, overpass.WithEndpoint(srv.URL))

		ids, err := client.RelationIDs(context.Background(), notes.BoundaryCountries)
		require.NoError(t, err)
		assert.Equal(t, []int64{114686, 148838}, ids)
	})

	t.Run("maritime kind switches the query", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Contains(t, r.PostForm.Get("data"), `"boundary"="maritime"`)
			_, _ = w.Write([]byte(`{"elements":[]}`))
		}))
		defer srv.Close()

		client := overpass.New(mocks.NoopLogger, overpass.WithEndpoint(srv.URL))

		ids, err := client.RelationIDs(context.Background(), notes.BoundaryMaritimes)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("unreachable endpoint carries the download code", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()

		client := overpass.New(mocks.NoopLogger, overpass.WithEndpoint(srv.URL))

		_, err := client.RelationIDs(context.Background(), notes.BoundaryCountries)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDownloadIDsFailed, notes.CodeOf(err))
	})
}

func TestClient_FetchRelation(t *testing.T) {
	t.Run("geometry is stored with its fingerprint", func(t *testing.T) {
		t.Parallel()

		elements := `[{"type":"relation","id":148838,"tags":{"name:en":"Mexico"}}]`
		document := `{"elements":` + elements + `}`
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Contains(t, r.PostForm.Get("data"), "relation(148838)")
			_, _ = w.Write([]byte(document))
		}))
		defer srv.Close()

		client := overpass.New(mocks.NoopLogger, overpass.WithEndpoint(srv.URL))
		dir := t.TempDir()

		path, hash, err := client.FetchRelation(context.Background(), mocks.GenericCountryID, dir)
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "boundary_148838.json"), path)
		assert.Equal(t, xxhash.ChecksumString64(elements), hash)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, document, string(data))
	})

	t.Run("fingerprint ignores the response envelope", func(t *testing.T) {
		t.Parallel()

		// The osm3s timestamp changes with every download; only the geometry
		// elements decide whether a boundary counts as changed.
		elements := `[{"type":"relation","id":148838,"tags":{"name:en":"Mexico"}}]`
		stamps := []string{"2022-11-21T17:13:10Z", "2022-11-22T02:06:53Z"}
		var call int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			document := fmt.Sprintf(`{"version":0.6,"osm3s":{"timestamp_osm_base":%q},"elements":%s}`,
				stamps[call%len(stamps)], elements)
			call++
			_, _ = w.Write([]byte(document))
		}))
		defer srv.Close()

		client := overpass.New(mocks.NoopLogger, overpass.WithEndpoint(srv.URL))
		dir := t.TempDir()

		_, first, err := client.FetchRelation(context.Background(), mocks.GenericCountryID, dir)
		require.NoError(t, err)
		_, second, err := client.FetchRelation(context.Background(), mocks.GenericCountryID, dir)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, xxhash.ChecksumString64(elements), first)
	})

	t.Run("server error carries the boundary code", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()

		client := overpass.New(mocks.NoopLogger, overpass.WithEndpoint(srv.URL))

		_, _, err := client.FetchRelation(context.Background(), mocks.GenericCountryID, t.TempDir())
		require.Error(t, err)
		assert.Equal(t, notes.CodeBoundaryDownloadFailed, notes.CodeOf(err))
	})
}
