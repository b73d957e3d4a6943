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
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/ziflex/lecho/v2"

	"github.com/osmnotes/notes-sync/engine"
	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/boundary"
	"github.com/osmnotes/notes-sync/service/consolidator"
	"github.com/osmnotes/notes-sync/service/daemon"
	"github.com/osmnotes/notes-sync/service/initializer"
	"github.com/osmnotes/notes-sync/service/loader"
	"github.com/osmnotes/notes-sync/service/locker"
	"github.com/osmnotes/notes-sync/service/marker"
	"github.com/osmnotes/notes-sync/service/osmapi"
	"github.com/osmnotes/notes-sync/service/overpass"
	"github.com/osmnotes/notes-sync/service/planet"
	"github.com/osmnotes/notes-sync/service/retrier"
	"github.com/osmnotes/notes-sync/service/splitter"
	"github.com/osmnotes/notes-sync/service/storage"
	"github.com/osmnotes/notes-sync/service/synchronizer"
	"github.com/osmnotes/notes-sync/service/validator"
)

const (
	success = 0
)

const script = "notes_daemon"

func main() {
	os.Exit(run())
}

func run() int {

	// Signal catching for clean shutdown.
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	// Command line parameter initialization. Environment variables provide
	// the defaults so the daemon can be configured either way.
	var (
		flagDatabase  string
		flagLevel     string
		flagPort      uint16
		flagInterval  time.Duration
		flagMaxNotes  int64
		flagThreads   int
		flagSkipValid bool
		flagClean     bool
		flagLockDir   string
		flagMarkerDir string
		flagWorkDir   string
		flagAPI       string
		flagImporter  string
		flagHelp      bool
	)

	pflag.StringVarP(&flagDatabase, "database", "d", envString("DATABASE_URL", "postgres://localhost:5432/notes"), "PostgreSQL connection string")
	pflag.StringVarP(&flagLevel, "level", "l", envString("LOG_LEVEL", "info"), "log output level")
	pflag.Uint16VarP(&flagPort, "port", "p", 8580, "port for the status and metrics API")
	pflag.DurationVarP(&flagInterval, "interval", "i", envDuration("DAEMON_SLEEP_INTERVAL", notes.DefaultCycleInterval), "target cycle interval")
	pflag.Int64Var(&flagMaxNotes, "max-notes", envInt("MAX_NOTES", 10_000), "delta size that escalates to a full reload")
	pflag.IntVarP(&flagThreads, "threads", "t", int(envInt("MAX_THREADS", 4)), "worker pool upper bound for reloads")
	pflag.BoolVar(&flagSkipValid, "skip-validation", envBool("SKIP_XML_VALIDATION", false), "skip XML validation of trusted inputs")
	pflag.BoolVar(&flagClean, "clean", envBool("CLEAN", true), "remove temp artifacts on success")
	pflag.StringVar(&flagLockDir, "lock-dir", "/tmp/notes-sync/locks", "directory for process lock files")
	pflag.StringVar(&flagMarkerDir, "marker-dir", "/tmp/notes-sync/markers", "directory for failure markers")
	pflag.StringVar(&flagWorkDir, "work-dir", "/tmp/notes-sync/daemon", "directory for cycle artifacts")
	pflag.StringVar(&flagAPI, "api", notes.DefaultAPIEndpoint, "notes API search endpoint")
	pflag.StringVar(&flagImporter, "importer", "ogr2ogr", "geometry importer command")
	pflag.BoolVarP(&flagHelp, "help", "h", false, "print usage")

	pflag.Parse()

	if flagHelp {
		pflag.Usage()
		return int(notes.CodeHelp)
	}

	// Logger initialization. The level goes through the global filter so a
	// configuration reload can change it while the daemon runs.
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	level, err := zerolog.ParseLevel(flagLevel)
	if err != nil {
		log.Error().Str("level", flagLevel).Err(err).Msg("could not parse log level")
		return int(notes.CodeInvalidArgument)
	}
	zerolog.SetGlobalLevel(level)
	elog := lecho.From(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// All replica writers contend on the same lock name, so neither a second
	// daemon nor a batch run can write alongside this one.
	lock := locker.New(log, flagLockDir)
	handle, err := lock.Acquire(notes.ReplicaLockName, "daemon", flagWorkDir)
	if err != nil {
		log.Error().Err(err).Msg("could not acquire process lock")
		return exitCode(err)
	}
	defer func() {
		err := lock.Release(handle)
		if err != nil {
			log.Error().Err(err).Msg("could not release process lock")
		}
	}()

	mark := marker.New(log, flagMarkerDir)

	store, err := storage.Connect(ctx, log, flagDatabase)
	if err != nil {
		log.Error().Err(err).Msg("could not connect to database")
		return exitCode(err)
	}
	defer store.Close()

	// Shared pipeline components.
	retry := retrier.New(log)
	validate := validator.New(log, validator.WithSkip(flagSkipValid))
	split := splitter.New(log)
	api := osmapi.New(log, osmapi.WithEndpoint(flagAPI))
	merge := consolidator.New(log, store, retry)

	// Full-reload path for oversized deltas.
	dump := planet.New(log)
	load := loader.New(log, split, store, loader.WithMaxWorkers(flagThreads))
	over := overpass.New(log)
	importer, err := boundary.NewGeometryImporter(log, flagImporter, flagDatabase)
	if err != nil {
		log.Error().Err(err).Msg("could not initialize geometry importer")
		return exitCode(err)
	}
	boundaries := boundary.New(log, over, store, importer, retry)
	reload := initializer.New(log, dump, validate, split, load, merge, boundaries, store,
		initializer.WithWorkDir(flagWorkDir),
		initializer.WithMaxThreads(flagThreads),
	)

	sync := synchronizer.New(log, api, validate, split, store, merge, reload, retry,
		synchronizer.WithWorkDir(flagWorkDir),
		synchronizer.WithMaxNotes(flagMaxNotes),
		synchronizer.WithClean(flagClean),
	)

	// Initialize the transitions with the dependencies and add them to the
	// FSM.
	metrics := daemon.NewMetrics()
	transitions := daemon.NewTransitions(ctx, log, reload, store, sync, mark, api, metrics,
		daemon.WithScript(script),
		daemon.WithCycleInterval(flagInterval),
	)
	state := daemon.EmptyState()
	fsm := daemon.NewFSM(state)
	fsm.Add(daemon.WithStatus(daemon.StatusInitialize), transitions.InitializeDaemon)
	fsm.Add(daemon.WithStatus(daemon.StatusBootstrap), transitions.BootstrapReplica)
	fsm.Add(daemon.WithStatus(daemon.StatusSynchronize), transitions.SynchronizeNotes)
	fsm.Add(daemon.WithStatus(daemon.StatusSleep), transitions.SleepDaemon)
	fsm.Add(daemon.WithStatus(daemon.StatusShutdown), transitions.ShutdownDaemon)

	// Status and metrics API.
	controller := daemon.NewController(state)
	server := echo.New()
	server.HideBanner = true
	server.HidePort = true
	server.Logger = elog
	server.Use(lecho.Middleware(lecho.Config{Logger: elog}))
	server.GET("/status", controller.Status)
	server.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// SIGUSR1 logs the same snapshot the status endpoint serves; SIGHUP
	// re-reads the environment-derived knobs without interrupting the cycle.
	info := make(chan os.Signal, 1)
	signal.Notify(info, syscall.SIGUSR1, syscall.SIGHUP)
	go func() {
		for s := range info {
			if s == syscall.SIGHUP {
				reloadLevel, levelErr := zerolog.ParseLevel(envString("LOG_LEVEL", flagLevel))
				if levelErr != nil {
					log.Error().Err(levelErr).Msg("could not parse reloaded log level")
				} else {
					zerolog.SetGlobalLevel(reloadLevel)
				}
				interval := envDuration("DAEMON_SLEEP_INTERVAL", flagInterval)
				transitions.SetCycleInterval(interval)
				maxNotes := envInt("MAX_NOTES", flagMaxNotes)
				clean := envBool("CLEAN", flagClean)
				sync.Reconfigure(maxNotes, clean)
				log.Info().
					Dur("interval", interval).
					Int64("max_notes", maxNotes).
					Bool("clean", clean).
					Msg("SIGHUP received, configuration reloaded")
				continue
			}
			snapshot := state.Snapshot()
			log.Info().
				Str("status", snapshot.Status).
				Uint64("cycle", snapshot.Cycle).
				Int("consecutive_errors", snapshot.ConsecutiveErrors).
				Time("watermark", snapshot.Watermark).
				Msg("daemon status")
		}
	}()

	err = engine.New(log, "Notes Sync Daemon", sig).
		Component(
			"daemon",
			func() error {
				return fsm.Run()
			},
			func() {
				cancel()
				_ = fsm.Stop(context.Background())
			},
		).
		Component(
			"status API",
			func() error {
				err := server.Start(fmt.Sprint(":", flagPort))
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = server.Shutdown(shutdownCtx)
			},
		).
		Run()
	if err != nil {
		log.Error().Err(err).Msg("daemon failed")
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
	return notes.NewFailure(notes.CodeGeneral, err, "unclassified daemon failure").
		WithAction("inspect the daemon log")
}

// exitCode maps an error chain to its process exit code.
func exitCode(err error) int {
	return int(notes.CodeOf(err))
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

func envDuration(name string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
