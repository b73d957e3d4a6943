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

package osmapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/osmapi"
	"github.com/osmnotes/notes-sync/testing/mocks"
)

const apiResponse = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="OpenStreetMap server">
<note lon="-104.96264" lat="39.73537">
  <id>3450803</id>
  <date_created>2022-11-21 17:13:10 UTC</date_created>
  <status>open</status>
  <comments>
    <comment>
      <date>2022-11-21 17:13:10 UTC</date>
      <uid>15422751</uid>
      <user>GHOSTsama2503</user>
      <action>opened</action>
      <text>Iglesia pentecostal</text>
    </comment>
  </comments>
</note>
</osm>`

const emptyResponse = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="OpenStreetMap server">
</osm>`

func TestClient_Probe(t *testing.T) {
	t.Run("candidate found", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			assert.Equal(t, "-1", r.URL.Query().Get("closed"))
			assert.Equal(t, "updated_at", r.URL.Query().Get("sort"))
			assert.NotEmpty(t, r.URL.Query().Get("from"))
			_, _ = w.Write([]byte(apiResponse))
		}))
		defer srv.Close()

		client := osmapi.New(mocks.NoopLogger, osmapi.WithEndpoint(srv.URL))

		found, err := client.Probe(context.Background(), mocks.GenericOpenedAt)
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("no candidates", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(emptyResponse))
		}))
		defer srv.Close()

		client := osmapi.New(mocks.NoopLogger, osmapi.WithEndpoint(srv.URL))

		found, err := client.Probe(context.Background(), mocks.GenericOpenedAt)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("unreachable endpoint is a network failure", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		srv.Close()

		client := osmapi.New(mocks.NoopLogger, osmapi.WithEndpoint(srv.URL))

		_, err := client.Probe(context.Background(), mocks.GenericOpenedAt)
		require.Error(t, err)
		assert.Equal(t, notes.CodeInternetIssue, notes.CodeOf(err))
	})

	t.Run("unexpected status is an error", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := osmapi.New(mocks.NoopLogger, osmapi.WithEndpoint(srv.URL))

		_, err := client.Probe(context.Background(), mocks.GenericOpenedAt)
		assert.Error(t, err)
	})
}

func TestClient_Live(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(emptyResponse))
	}))
	defer srv.Close()

	client := osmapi.New(mocks.NoopLogger, osmapi.WithEndpoint(srv.URL))
	assert.True(t, client.Live(context.Background()))

	srv.Close()
	assert.False(t, client.Live(context.Background()))
}

func TestClient_Fetch(t *testing.T) {
	t.Run("plain body is written verbatim", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "10000", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(apiResponse))
		}))
		defer srv.Close()

		client := osmapi.New(mocks.NoopLogger, osmapi.WithEndpoint(srv.URL))
		destination := filepath.Join(t.TempDir(), "delta.xml")

		require.NoError(t, client.Fetch(context.Background(), mocks.GenericOpenedAt, destination))

		data, err := os.ReadFile(destination)
		require.NoError(t, err)
		assert.Equal(t, apiResponse, string(data))
	})

	t.Run("gzip body is decompressed on the fly", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			_, _ = zw.Write([]byte(apiResponse))
			_ = zw.Close()
		}))
		defer srv.Close()

		client := osmapi.New(mocks.NoopLogger, osmapi.WithEndpoint(srv.URL))
		destination := filepath.Join(t.TempDir(), "delta.xml")

		require.NoError(t, client.Fetch(context.Background(), mocks.GenericOpenedAt, destination))

		data, err := os.ReadFile(destination)
		require.NoError(t, err)
		assert.Equal(t, apiResponse, string(data))
	})
}
