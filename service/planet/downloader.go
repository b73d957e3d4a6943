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

package planet

import (
	"compress/bzip2"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
)

// Downloader fetches the Planet notes dump and extracts it to plain XML. An
// interrupted download resumes from the partial file through a range request.
type Downloader struct {
	log  zerolog.Logger
	http *http.Client
	cfg  Config
}

// New creates a Planet downloader with the production dump URL, overridable
// through options.
func New(log zerolog.Logger, options ...Option) *Downloader {

	cfg := DefaultConfig
	for _, option := range options {
		option(&cfg)
	}

	d := Downloader{
		log:  log.With().Str("component", "planet").Logger(),
		http: &http.Client{Timeout: cfg.Timeout},
		cfg:  cfg,
	}

	return &d
}

// Download fetches the compressed dump into the given directory and returns
// the path of the archive. A partial file from an earlier run is resumed, not
// restarted.
func (d *Downloader) Download(ctx context.Context, dir string) (string, error) {

	err := os.MkdirAll(dir, 0o777)
	if err != nil {
		return "", fmt.Errorf("could not create dump directory: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(d.cfg.DumpURL))
	var offset int64
	info, err := os.Stat(path)
	if err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.DumpURL, nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	res, err := d.http.Do(req)
	if err != nil {
		failure := notes.NewFailure(notes.CodeInternetIssue, err, "could not reach planet server (url: %s)", d.cfg.DumpURL).
			WithAction("check network connectivity and retry")
		return "", failure
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusPartialContent:
		// Server honored the resume; append to the partial file.
	case http.StatusOK:
		// Range ignored or fresh download; start over.
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		// Partial file already covers the full dump.
		d.log.Info().Str("path", path).Msg("planet dump already complete")
		return path, nil
	default:
		failure := notes.NewFailure(notes.CodePlanetDumpFailed, nil, "unexpected planet status (url: %s, status: %d)", d.cfg.DumpURL, res.StatusCode).
			WithAction("check the planet dump URL and retry")
		return "", failure
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return "", fmt.Errorf("could not open dump file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, res.Body)
	if err != nil {
		failure := notes.NewFailure(notes.CodeInternetIssue, err, "planet download interrupted (url: %s)", d.cfg.DumpURL).
			WithAction("retry to resume the partial download")
		return "", failure
	}

	d.log.Info().
		Str("path", path).
		Int64("resumed_at", offset).
		Int64("bytes", written).
		Msg("planet dump downloaded")

	if d.cfg.VerifyChecksum {
		err = d.verify(ctx, path)
		if err != nil {
			return "", err
		}
	}

	return path, nil
}

// Extract decompresses the bzip2 archive next to itself and returns the path
// of the plain XML document.
func (d *Downloader) Extract(_ context.Context, archive string) (string, error) {

	in, err := os.Open(archive)
	if err != nil {
		return "", fmt.Errorf("could not open dump archive: %w", err)
	}
	defer in.Close()

	path := strings.TrimSuffix(archive, ".bz2")
	if path == archive {
		path = archive + ".xml"
	}
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("could not create extracted file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, bzip2.NewReader(in))
	if err != nil {
		failure := notes.NewFailure(notes.CodePlanetDumpFailed, err, "could not extract planet dump (archive: %s)", archive).
			WithAction("delete the partial archive and download again")
		return "", failure
	}

	d.log.Info().Str("path", path).Int64("bytes", written).Msg("planet dump extracted")

	return path, nil
}

// verify downloads the MD5 sidecar and compares it against the local archive.
func (d *Downloader) verify(ctx context.Context, path string) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.DumpURL+".md5", nil)
	if err != nil {
		return fmt.Errorf("could not create checksum request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	res, err := d.http.Do(req)
	if err != nil {
		failure := notes.NewFailure(notes.CodeInternetIssue, err, "could not download checksum (url: %s)", d.cfg.DumpURL+".md5").
			WithAction("check network connectivity and retry")
		return failure
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		// The sidecar is best-effort; a missing one does not invalidate the
		// dump itself.
		d.log.Warn().Int("status", res.StatusCode).Msg("checksum sidecar unavailable, skipping verification")
		return nil
	}

	sidecar, err := io.ReadAll(io.LimitReader(res.Body, 1024))
	if err != nil {
		return fmt.Errorf("could not read checksum: %w", err)
	}
	fields := strings.Fields(string(sidecar))
	if len(fields) == 0 {
		return fmt.Errorf("empty checksum sidecar")
	}
	want := strings.ToLower(fields[0])

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open dump file: %w", err)
	}
	defer file.Close()

	hash := md5.New()
	_, err = io.Copy(hash, file)
	if err != nil {
		return fmt.Errorf("could not hash dump file: %w", err)
	}
	got := hex.EncodeToString(hash.Sum(nil))

	if got != want {
		failure := notes.NewFailure(notes.CodePlanetDumpFailed, nil, "planet dump checksum mismatch (want: %s, got: %s)", want, got).
			WithAction("delete the corrupt archive and download again")
		return failure
	}

	d.log.Info().Str("md5", got).Msg("planet dump checksum verified")

	return nil
}
