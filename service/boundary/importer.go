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

package boundary

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/osmnotes/notes-sync/models/notes"
)

// GeometryImporter shells out to ogr2ogr to translate one downloaded Overpass
// document into rows of the import staging table. The OSM JSON driver handles
// the multipolygon assembly that would otherwise have to be reimplemented.
type GeometryImporter struct {
	log     zerolog.Logger
	command string
	dsn     string
}

// NewGeometryImporter verifies the importer command is installed and returns
// an importer bound to the given database connection string.
func NewGeometryImporter(log zerolog.Logger, command string, dsn string) (*GeometryImporter, error) {

	resolved, err := exec.LookPath(command)
	if err != nil {
		failure := notes.NewFailure(notes.CodeMissingLibrary, err, "geometry importer not installed (command: %s)", command).
			WithAction("install GDAL so the ogr2ogr command is available")
		return nil, failure
	}

	g := GeometryImporter{
		log:     log.With().Str("component", "importer").Logger(),
		command: resolved,
		dsn:     dsn,
	}

	return &g, nil
}

// Import translates one geometry document into the import staging table. The
// table is expected to be empty; the caller truncates it between boundaries.
func (g *GeometryImporter) Import(ctx context.Context, path string) error {

	args := []string{
		"-f", "PostgreSQL",
		"PG:" + g.dsn,
		path,
		"multipolygons",
		"-nln", "import",
		"-append",
		"-t_srs", "EPSG:4326",
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.command, args...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("importer failed (path: %s): %w: %s", path, err, stderr.String())
	}

	g.log.Debug().Str("path", path).Msg("geometry imported")

	return nil
}
