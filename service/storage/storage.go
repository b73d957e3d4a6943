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

package storage

import (
	"context"
	"embed"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

//go:embed ddl/*.sql
var scripts embed.FS

// Store is the PostgreSQL access layer. It owns connection pooling and the
// SQL surface; policy (when to create, load, merge) lives with the services
// that call it.
type Store struct {
	log  zerolog.Logger
	pool *pgxpool.Pool
}

// New creates a store on top of an existing connection pool.
func New(log zerolog.Logger, pool *pgxpool.Pool) *Store {

	s := Store{
		log:  log.With().Str("component", "storage").Logger(),
		pool: pool,
	}

	return &s
}

// Connect builds a connection pool for the given DSN and wraps it in a store.
func Connect(ctx context.Context, log zerolog.Logger, dsn string) (*Store, error) {

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("could not create connection pool: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not reach database: %w", err)
	}

	return New(log, pool), nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for callers that need raw access, such as
// the parallel loader's per-worker transactions.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// ExecScript runs one embedded DDL script by its stable name.
func (s *Store) ExecScript(ctx context.Context, name string) error {
	data, err := scripts.ReadFile("ddl/" + name)
	if err != nil {
		return fmt.Errorf("could not read DDL script (name: %s): %w", name, err)
	}
	_, err = s.pool.Exec(ctx, string(data))
	if err != nil {
		return fmt.Errorf("could not execute DDL script (name: %s): %w", name, err)
	}
	s.log.Debug().Str("script", name).Msg("DDL script executed")
	return nil
}

// ScriptNames lists the embedded DDL scripts in execution order.
func ScriptNames() []string {
	entries, err := scripts.ReadDir("ddl")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
