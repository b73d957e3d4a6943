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

package osmxml

import (
	"fmt"
)

// Format distinguishes the two XML document schemas this system consumes.
// Planet dumps use attribute-heavy note elements under an osm-notes root; the
// API returns element-heavy notes under an osm root.
type Format uint8

const (
	FormatAPI Format = iota + 1
	FormatPlanet
)

// String implements the Stringer interface.
func (f Format) String() string {
	switch f {
	case FormatAPI:
		return "api"
	case FormatPlanet:
		return "planet"
	default:
		return fmt.Sprintf("invalid format %d", uint8(f))
	}
}

// Root returns the expected root element name for the format.
func (f Format) Root() string {
	switch f {
	case FormatAPI:
		return "osm"
	case FormatPlanet:
		return "osm-notes"
	default:
		return ""
	}
}

// Time layouts used by the two schemas. Planet documents carry ISO-8601
// instants; the API renders instants with an explicit UTC suffix.
const (
	LayoutPlanet = "2006-01-02T15:04:05Z"
	LayoutAPI    = "2006-01-02 15:04:05 MST"
)
