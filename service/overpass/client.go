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

package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
)

// countryQuery enumerates sovereign country relations; maritimeQuery
// enumerates territorial waters, EEZ, contiguous and fishing zones.
const (
	countryQuery = `[out:json][timeout:300];
relation["type"="boundary"]["boundary"="administrative"]["admin_level"="2"];
out ids;`
	maritimeQuery = `[out:json][timeout:300];
relation["type"="boundary"]["boundary"="maritime"]["border_type"~"territorial_waters|eez|contiguous_zone|fishery_zone"];
out ids;`
)

// Client issues Overpass queries: one id enumeration per boundary kind and
// one geometry fetch per relation id. All calls are best-effort; retrying is
// the caller's concern.
type Client struct {
	log  zerolog.Logger
	http *http.Client
	cfg  Config
}

// New creates an Overpass client with the default endpoint, overridable
// through options.
func New(log zerolog.Logger, options ...Option) *Client {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	c := Client{
		log:  log.With().Str("component", "overpass").Logger(),
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}

	return &c
}

// RelationIDs returns the sorted relation IDs of the given boundary kind.
func (c *Client) RelationIDs(ctx context.Context, kind notes.BoundaryKind) ([]int64, error) {

	query := countryQuery
	if kind == notes.BoundaryMaritimes {
		query = maritimeQuery
	}

	body, err := c.post(ctx, query)
	if err != nil {
		failure := notes.NewFailure(notes.CodeDownloadIDsFailed, err, "could not download boundary ids (kind: %s)", kind).
			WithAction("check Overpass availability and retry")
		return nil, failure
	}
	defer body.Close()

	var response struct {
		Elements []struct {
			Type string `json:"type"`
			ID   int64  `json:"id"`
		} `json:"elements"`
	}
	err = json.NewDecoder(body).Decode(&response)
	if err != nil {
		return nil, fmt.Errorf("could not decode id list: %w", err)
	}

	ids := make([]int64, 0, len(response.Elements))
	for _, element := range response.Elements {
		if element.Type != "relation" {
			continue
		}
		ids = append(ids, element.ID)
	}
	sort.Slice(ids, func(i int, j int) bool { return ids[i] < ids[j] })

	c.log.Info().Str("kind", string(kind)).Int("ids", len(ids)).Msg("boundary ids downloaded")

	return ids, nil
}

// FetchRelation downloads the full geometry of one relation into the given
// directory and returns the file path together with the geometry fingerprint
// used for change detection.
func (c *Client) FetchRelation(ctx context.Context, id int64, dir string) (string, uint64, error) {

	query := fmt.Sprintf(`[out:json][timeout:300];relation(%d);(._;>;);out body;`, id)
	body, err := c.post(ctx, query)
	if err != nil {
		failure := notes.NewFailure(notes.CodeBoundaryDownloadFailed, err, "could not download boundary (id: %d)", id).
			WithAction("check Overpass availability and retry")
		return "", 0, failure
	}
	defer body.Close()

	err = os.MkdirAll(dir, 0o777)
	if err != nil {
		return "", 0, fmt.Errorf("could not create boundary directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("boundary_%d.json", id))
	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("could not create boundary file: %w", err)
	}
	defer file.Close()

	_, err = io.Copy(file, body)
	if err != nil {
		return "", 0, fmt.Errorf("could not write boundary file: %w", err)
	}

	hash, err := fingerprint(path)
	if err != nil {
		return "", 0, fmt.Errorf("could not fingerprint boundary (id: %d): %w", id, err)
	}

	return path, hash, nil
}

// fingerprint hashes only the geometry elements of an Overpass document. The
// response envelope carries the server's current osm3s timestamp, which would
// make identical geometries look changed on every download.
func fingerprint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("could not read boundary file: %w", err)
	}
	var document struct {
		Elements json.RawMessage `json:"elements"`
	}
	err = json.Unmarshal(data, &document)
	if err != nil {
		return 0, fmt.Errorf("could not decode boundary file: %w", err)
	}
	return xxhash.Checksum64(document.Elements), nil
}

// post submits one Overpass QL query.
func (c *Client) post(ctx context.Context, query string) (io.ReadCloser, error) {

	form := url.Values{}
	form.Set("data", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach Overpass: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		return nil, fmt.Errorf("unexpected Overpass status (status: %d)", res.StatusCode)
	}

	return res.Body, nil
}
