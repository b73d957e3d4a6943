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

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/boundary"
	"github.com/osmnotes/notes-sync/service/locker"
	"github.com/osmnotes/notes-sync/service/marker"
	"github.com/osmnotes/notes-sync/service/overpass"
	"github.com/osmnotes/notes-sync/service/retrier"
	"github.com/osmnotes/notes-sync/service/storage"
)

const (
	success = 0
)

const script = "notes_boundaries"

func main() {
	os.Exit(run())
}

func run() int {

	// Signal catching for clean shutdown.
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	// Command line parameter initialization.
	var (
		flagBase      bool
		flagDatabase  string
		flagLevel     string
		flagWorkDir   string
		flagLockDir   string
		flagMarkerDir string
		flagOverpass  string
		flagImporter  string
		flagBaseline  string
		flagMaritimes bool
		flagHelp      bool
	)

	pflag.BoolVarP(&flagBase, "base", "b", false, "import the full boundary set instead of refreshing")
	pflag.StringVarP(&flagDatabase, "database", "d", envString("DATABASE_URL", "postgres://localhost:5432/notes"), "PostgreSQL connection string")
	pflag.StringVarP(&flagLevel, "level", "l", envString("LOG_LEVEL", "info"), "log output level")
	pflag.StringVar(&flagWorkDir, "work-dir", "/tmp/notes-sync/boundaries", "directory for downloaded geometries")
	pflag.StringVar(&flagLockDir, "lock-dir", "/tmp/notes-sync/locks", "directory for process lock files")
	pflag.StringVar(&flagMarkerDir, "marker-dir", "/tmp/notes-sync/markers", "directory for failure markers")
	pflag.StringVar(&flagOverpass, "overpass", notes.DefaultOverpassEndpoint, "Overpass interpreter endpoint")
	pflag.StringVar(&flagImporter, "importer", "ogr2ogr", "geometry importer command")
	pflag.StringVar(&flagBaseline, "baseline", "", "fallback boundary GeoJSON file for Overpass outages")
	pflag.BoolVar(&flagMaritimes, "maritimes", true, "include maritime zone boundaries")
	pflag.BoolVarP(&flagHelp, "help", "h", false, "print usage")

	pflag.Parse()

	if flagHelp {
		pflag.Usage()
		return int(notes.CodeHelp)
	}

	// Logger initialization.
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	level, err := zerolog.ParseLevel(flagLevel)
	if err != nil {
		log.Error().Str("level", flagLevel).Err(err).Msg("could not parse log level")
		return int(notes.CodeInvalidArgument)
	}
	log = log.Level(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sig
		log.Info().Msg("boundary update stopping")
		cancel()
		<-sig
		log.Warn().Msg("forcing exit")
		os.Exit(1)
	}()

	// A failure marker from a previous run blocks the update before it
	// acquires any resource; an operator has to clear it first.
	mark := marker.New(log, flagMarkerDir)
	err = mark.Gate(script)
	if err != nil {
		log.Error().Err(err).Msg("previous execution failed, refusing to run")
		return int(notes.CodeOf(err))
	}

	// The boundary update re-geotags notes, so it contends on the same lock
	// as the daemon and the bootstrap.
	lock := locker.New(log, flagLockDir)
	handle, err := lock.Acquire(notes.ReplicaLockName, "boundaries", flagWorkDir)
	if err != nil {
		log.Error().Err(err).Msg("could not acquire process lock")
		return int(notes.CodeOf(err))
	}
	defer func() {
		err := lock.Release(handle)
		if err != nil {
			log.Error().Err(err).Msg("could not release process lock")
		}
	}()

	store, err := storage.Connect(ctx, log, flagDatabase)
	if err != nil {
		log.Error().Err(err).Msg("could not connect to database")
		return int(notes.CodeOf(err))
	}
	defer store.Close()

	retry := retrier.New(log)
	over := overpass.New(log, overpass.WithEndpoint(flagOverpass))
	importer, err := boundary.NewGeometryImporter(log, flagImporter, flagDatabase)
	if err != nil {
		log.Error().Err(err).Msg("could not initialize geometry importer")
		return int(notes.CodeOf(err))
	}
	manager := boundary.New(log, over, store, importer, retry,
		boundary.WithWorkDir(flagWorkDir),
		boundary.WithMaritimes(flagMaritimes),
		boundary.WithBaseline(flagBaseline),
	)

	var stats boundary.Stats
	if flagBase {
		log.Info().Msg("importing full boundary set")
		stats, err = manager.ImportAll(ctx)
	} else {
		log.Info().Msg("refreshing boundary set")
		stats, err = manager.Refresh(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("boundary update failed")
		failure := failureOf(err)
		markErr := mark.Write(script, failure, flagWorkDir)
		if markErr != nil {
			log.Error().Err(markErr).Msg("could not write failure marker")
		}
		return int(failure.Code)
	}

	log.Info().
		Int("upstream", stats.Upstream).
		Int("added", stats.Added).
		Int("changed", stats.Changed).
		Int("removed", stats.Removed).
		Int64("failed", stats.Failed).
		Int64("reassigned", stats.Reassigned).
		Msg("boundary update complete")

	return success
}

// failureOf normalizes any error into a typed failure for the marker.
func failureOf(err error) notes.Failure {
	var failure notes.Failure
	if errors.As(err, &failure) {
		return failure
	}
	return notes.NewFailure(notes.CodeGeneral, err, "unclassified boundary failure").
		WithAction("inspect the boundary update log")
}

func envString(name string, fallback string) string {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	return value
}
