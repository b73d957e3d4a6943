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
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/osmnotes/notes-sync/metrics/output"
	"github.com/osmnotes/notes-sync/metrics/rcrowley"
	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/boundary"
	"github.com/osmnotes/notes-sync/service/consolidator"
	"github.com/osmnotes/notes-sync/service/initializer"
	"github.com/osmnotes/notes-sync/service/loader"
	"github.com/osmnotes/notes-sync/service/locker"
	"github.com/osmnotes/notes-sync/service/marker"
	"github.com/osmnotes/notes-sync/service/metrics"
	"github.com/osmnotes/notes-sync/service/overpass"
	"github.com/osmnotes/notes-sync/service/planet"
	"github.com/osmnotes/notes-sync/service/retrier"
	"github.com/osmnotes/notes-sync/service/splitter"
	"github.com/osmnotes/notes-sync/service/storage"
	"github.com/osmnotes/notes-sync/service/validator"
)

const (
	success = 0
)

const script = "notes_bootstrap"

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
		flagThreads   int
		flagSkipValid bool
		flagSkipCtry  bool
		flagWorkDir   string
		flagLockDir   string
		flagMarkerDir string
		flagPlanetURL string
		flagImporter  string
		flagBaseline  string
		flagMetrics   bool
		flagInterval  time.Duration
		flagHelp      bool
	)

	pflag.BoolVarP(&flagBase, "base", "b", false, "rebuild the schema from scratch before loading")
	pflag.StringVarP(&flagDatabase, "database", "d", envString("DATABASE_URL", "postgres://localhost:5432/notes"), "PostgreSQL connection string")
	pflag.StringVarP(&flagLevel, "level", "l", envString("LOG_LEVEL", "info"), "log output level")
	pflag.IntVarP(&flagThreads, "threads", "t", int(envInt("MAX_THREADS", 4)), "worker pool upper bound")
	pflag.BoolVar(&flagSkipValid, "skip-validation", envBool("SKIP_XML_VALIDATION", false), "skip XML validation of trusted inputs")
	pflag.BoolVar(&flagSkipCtry, "skip-countries", envBool("SKIP_AUTO_LOAD_COUNTRIES", false), "skip the boundary import (test affordance)")
	pflag.StringVar(&flagWorkDir, "work-dir", "/tmp/notes-sync/bootstrap", "directory for the dump and its parts")
	pflag.StringVar(&flagLockDir, "lock-dir", "/tmp/notes-sync/locks", "directory for process lock files")
	pflag.StringVar(&flagMarkerDir, "marker-dir", "/tmp/notes-sync/markers", "directory for failure markers")
	pflag.StringVar(&flagPlanetURL, "planet", notes.DefaultPlanetURL, "planet notes dump URL")
	pflag.StringVar(&flagImporter, "importer", "ogr2ogr", "geometry importer command")
	pflag.StringVar(&flagBaseline, "baseline", "", "fallback boundary GeoJSON file for Overpass outages")
	pflag.BoolVarP(&flagMetrics, "metrics", "m", false, "enable metrics collection and output")
	pflag.DurationVar(&flagInterval, "metrics-interval", 5*time.Minute, "interval of metrics output to log")
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
		log.Info().Msg("bootstrap stopping")
		cancel()
		<-sig
		log.Warn().Msg("forcing exit")
		os.Exit(1)
	}()

	// A failure marker from a previous run blocks the bootstrap before it
	// acquires any resource; an operator has to clear it first.
	mark := marker.New(log, flagMarkerDir)
	err = mark.Gate(script)
	if err != nil {
		log.Error().Err(err).Msg("previous execution failed, refusing to run")
		return int(notes.CodeOf(err))
	}

	// All replica writers contend on the same lock name: only one process may
	// write the replica at a time.
	lock := locker.New(log, flagLockDir)
	handle, err := lock.Acquire(notes.ReplicaLockName, "bootstrap", flagWorkDir)
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

	// The metrics output runs regardless of whether metrics are enabled; it
	// just does nothing when no collectors are registered.
	mout := output.New(log, flagInterval)

	retry := retrier.New(log)
	validate := validator.New(log, validator.WithSkip(flagSkipValid))
	split := splitter.New(log)
	merge := consolidator.New(log, store, retry)

	var dump initializer.Planet
	dump = planet.New(log, planet.WithDumpURL(flagPlanetURL))
	var load initializer.Loader
	load = loader.New(log, split, store, loader.WithMaxWorkers(flagThreads))
	if flagMetrics {
		stages := rcrowley.NewTime("bootstrap")
		volume := rcrowley.NewVolume("load")
		mout.Register(stages)
		mout.Register(volume)
		dump = metrics.NewPlanet(dump, stages, volume)
		load = metrics.NewLoader(load, stages, volume)
	}

	over := overpass.New(log)
	importer, err := boundary.NewGeometryImporter(log, flagImporter, flagDatabase)
	if err != nil {
		log.Error().Err(err).Msg("could not initialize geometry importer")
		return int(notes.CodeOf(err))
	}
	boundaries := boundary.New(log, over, store, importer, retry,
		boundary.WithBaseline(flagBaseline),
	)

	init := initializer.New(log, dump, validate, split, load, merge, boundaries, store,
		initializer.WithWorkDir(flagWorkDir),
		initializer.WithMaxThreads(flagThreads),
		initializer.WithSkipBoundaries(flagSkipCtry),
	)

	if flagMetrics {
		mout.Run()
		defer mout.Stop()
	}

	if flagBase {
		log.Info().Msg("bootstrapping replica from scratch")
		err = init.Bootstrap(ctx)
	} else {
		log.Info().Msg("reloading replica from planet dump")
		err = init.Reload(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("bootstrap failed")
		failure := failureOf(err)
		markErr := mark.Write(script, failure, flagWorkDir)
		if markErr != nil {
			log.Error().Err(markErr).Msg("could not write failure marker")
		}
		return int(failure.Code)
	}

	return success
}

// failureOf normalizes any error into a typed failure for the marker.
func failureOf(err error) notes.Failure {
	var failure notes.Failure
	if errors.As(err, &failure) {
		return failure
	}
	return notes.NewFailure(notes.CodeGeneral, err, "unclassified bootstrap failure").
		WithAction("inspect the bootstrap log")
}

func envString(name string, fallback string) string {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	return value
}

func envInt(name string, fallback int64) int64 {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(name string, fallback bool) bool {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
