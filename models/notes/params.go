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

package notes

import (
	"time"
)

// UserAgent identifies this replica against the OSM API and Overpass, as
// required by their usage policies.
const UserAgent = "notes-sync/1.0 (github.com/osmnotes/notes-sync)"

// ReplicaLockName is the process lock shared by every binary that writes the
// replica. The daemon, the bootstrap and the boundary update all contend on
// it, so at most one writer touches the note tables at a time.
const ReplicaLockName = "notes_replica"

// Default upstream endpoints.
const (
	DefaultAPIEndpoint      = "https://api.openstreetmap.org/api/0.6/notes/search"
	DefaultPlanetURL        = "https://planet.openstreetmap.org/notes/planet-notes-latest.osn.bz2"
	DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"
)

// Default resource envelope, overridable through configuration.
const (
	DefaultRetryAttempts        = 3
	DefaultRetryDelay           = 2 * time.Second
	DefaultPartSizeCap          = 100_000
	DefaultCycleInterval        = 60 * time.Second
	DefaultMaxConsecutiveErrors = 5
	DefaultGapThreshold         = 100
	DefaultProbeTimeout         = 10 * time.Second
	DefaultFetchTimeout         = 30 * time.Minute
)

// NotesEpoch is the instant before which no note timestamp can legitimately
// exist; the notes feature went live on this day.
var NotesEpoch = time.Date(2013, time.April, 23, 0, 0, 0, 0, time.UTC)
