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

package osmapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/models/notes"
)

// Client talks to the OSM Notes API. All requests carry the mandatory
// User-Agent and enforce connect and total timeouts.
type Client struct {
	log  zerolog.Logger
	http *http.Client
	cfg  Config
}

// New creates an API client with the default endpoint and timeouts,
// overridable through options.
func New(log zerolog.Logger, options ...Option) *Client {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	c := Client{
		log: log.With().Str("component", "osmapi").Logger(),
		http: &http.Client{
			Transport: &http.Transport{
				// We negotiate gzip ourselves so large deltas stream through
				// the faster decoder.
				DisableCompression: true,
			},
		},
		cfg: cfg,
	}

	return &c
}

// Probe issues a bounded request for a single note updated after the given
// instant. It reports whether any update candidate exists, without recording
// anything.
func (c *Client) Probe(ctx context.Context, since time.Time) (bool, error) {

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	body, err := c.get(ctx, c.searchURL(since, 1))
	if err != nil {
		return false, err
	}
	defer body.Close()

	dec := osmxml.NewDecoder(body, osmxml.FormatAPI)
	_, err = dec.Next()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not decode probe response: %w", err)
	}

	return true, nil
}

// Live reports whether the API is reachable at all. Used by the failure
// marker's self-heal gate for network-kind markers.
func (c *Client) Live(ctx context.Context) bool {
	probeTime := time.Now().UTC().Add(-time.Minute)
	_, err := c.Probe(ctx, probeTime)
	return err == nil
}

// Fetch downloads the incremental delta of all notes updated after the given
// instant into the destination file.
func (c *Client) Fetch(ctx context.Context, since time.Time, destination string) error {

	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	body, err := c.get(ctx, c.searchURL(since, c.cfg.FetchLimit))
	if err != nil {
		return err
	}
	defer body.Close()

	file, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("could not create delta file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, body)
	if err != nil {
		return fmt.Errorf("could not download delta: %w", err)
	}

	c.log.Info().
		Time("since", since).
		Int64("bytes", written).
		Str("destination", destination).
		Msg("API delta downloaded")

	return nil
}

// searchURL builds the search endpoint URL for updates after the instant.
func (c *Client) searchURL(since time.Time, limit int) string {
	values := url.Values{}
	values.Set("limit", strconv.Itoa(limit))
	values.Set("closed", "-1")
	values.Set("sort", "updated_at")
	values.Set("from", since.UTC().Format(time.RFC3339))
	return c.cfg.Endpoint + "?" + values.Encode()
}

// get issues one request and returns the decompressed body. Transport-level
// errors are classified as network failures so the daemon's self-heal gate
// can act on them.
func (c *Client) get(ctx context.Context, target string) (io.ReadCloser, error) {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept-Encoding", "gzip")

	res, err := c.http.Do(req)
	if err != nil {
		failure := notes.NewFailure(notes.CodeInternetIssue, err, "could not reach notes API (url: %s)", target).
			WithAction("check network connectivity and retry")
		return nil, failure
	}
	if res.StatusCode != http.StatusOK {
		_ = res.Body.Close()
		return nil, fmt.Errorf("unexpected API status (url: %s, status: %d)", target, res.StatusCode)
	}

	if res.Header.Get("Content-Encoding") == "gzip" {
		unzip, err := gzip.NewReader(res.Body)
		if err != nil {
			_ = res.Body.Close()
			return nil, fmt.Errorf("could not create gzip reader: %w", err)
		}
		return &gzipBody{unzip: unzip, body: res.Body}, nil
	}

	return res.Body, nil
}

// gzipBody closes both the gzip reader and the underlying response body.
type gzipBody struct {
	unzip *gzip.Reader
	body  io.ReadCloser
}

func (g *gzipBody) Read(p []byte) (int, error) {
	return g.unzip.Read(p)
}

func (g *gzipBody) Close() error {
	err := g.unzip.Close()
	bodyErr := g.body.Close()
	if err != nil {
		return err
	}
	return bodyErr
}
