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

// Watermark is the maximum updated_at instant observed across notes and
// comments. It is the lower bound of the next API fetch and is monotonically
// non-decreasing across successful cycles.
type Watermark struct {
	Timestamp time.Time
}

// GapRecord captures an observed integrity defect: notes created inside the
// recent window that have no comments. Produced by the consolidator after
// each cycle, consumed by operators.
type GapRecord struct {
	ObservedAt  time.Time
	Kind        string
	NotesTotal  int64
	NotesBroken int64
	Percentage  float64
	Unprocessed bool
}

// GapKindMissingComments is the only gap kind currently produced.
const GapKindMissingComments = "notes_without_comments"

// NewGapRecord builds a gap record from the counts of a post-cycle check.
func NewGapRecord(total int64, broken int64) GapRecord {
	var percentage float64
	if total > 0 {
		percentage = float64(broken) / float64(total) * 100
	}
	g := GapRecord{
		ObservedAt:  time.Now().UTC(),
		Kind:        GapKindMissingComments,
		NotesTotal:  total,
		NotesBroken: broken,
		Percentage:  percentage,
		Unprocessed: true,
	}
	return g
}
