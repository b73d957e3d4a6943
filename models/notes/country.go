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

// Country is a sovereign country or maritime-zone boundary used to geotag
// notes. The ID is the Overpass relation ID. Updated and UpdateFailed are
// transient flags driven by the boundary refresh state machine.
type Country struct {
	ID                int64
	NameEN            string
	NameLocal         string
	GeometryHash      uint64
	Updated           bool
	UpdateFailed      bool
	LastUpdateAttempt *time.Time
}

// BoundaryKind distinguishes the two Overpass queries used to enumerate
// boundary relations.
type BoundaryKind string

const (
	BoundaryCountries BoundaryKind = "countries"
	BoundaryMaritimes BoundaryKind = "maritimes"
)

// DisputedAreaIDs lists well-known relation IDs of disputed and Antarctic
// areas that the Overpass country query does not return but which must be
// part of the boundary set regardless.
var DisputedAreaIDs = []int64{
	2185386, // Western Sahara
	2108121, // Kashmir
	3244713, // Antarctica mainland
	3245621, // Antarctic islands
	192756,  // Taiwan
}

// BoundaryDiff describes the outcome of comparing the current Overpass
// boundary set against the local revision. IDs listed in Added are present
// upstream but not locally; IDs in Changed have a different geometry
// fingerprint; IDs in Removed exist locally but are gone upstream.
type BoundaryDiff struct {
	Added   []int64
	Changed []int64
	Removed []int64
}

// Empty returns true when the diff carries no work.
func (d BoundaryDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Affected returns the union of added and changed boundary IDs, which is the
// set that drives re-geotagging.
func (d BoundaryDiff) Affected() []int64 {
	affected := make([]int64, 0, len(d.Added)+len(d.Changed))
	affected = append(affected, d.Added...)
	affected = append(affected, d.Changed...)
	return affected
}
