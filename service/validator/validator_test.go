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

package validator_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmnotes/notes-sync/codec/osmxml"
	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/validator"
	"github.com/osmnotes/notes-sync/testing/mocks"
)

const validDocument = `<?xml version="1.0" encoding="UTF-8"?>
<osm-notes>
<note id="3450803" lat="39.73537" lon="-104.96264" created_at="2022-11-21T17:13:10Z" closed_at="2022-11-22T02:06:53Z">
<comment action="opened" timestamp="2022-11-21T17:13:10Z" uid="15422751" user="GHOSTsama2503">Iglesia pentecostal</comment>
<comment action="closed" timestamp="2022-11-22T02:06:53Z"></comment>
</note>
</osm-notes>`

func writeDocument(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "document.xml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidator_Validate(t *testing.T) {
	t.Run("valid document passes with counts", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger)
		path := writeDocument(t, validDocument)

		report, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.NoError(t, err)

		assert.Equal(t, path, report.Path)
		assert.Equal(t, osmxml.FormatPlanet, report.Format)
		assert.Equal(t, 1, report.Notes)
		assert.Equal(t, 2, report.Comments)
		assert.False(t, report.Sampled)
		assert.EqualValues(t, len(validDocument), report.Size)
	})

	t.Run("latitude out of range is rejected", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger)
		document := `<?xml version="1.0" encoding="UTF-8"?>
<osm-notes>
<note id="1" lat="90.0000001" lon="0" created_at="2022-11-21T17:13:10Z">
<comment action="opened" timestamp="2022-11-21T17:13:10Z"></comment>
</note>
</osm-notes>`
		path := writeDocument(t, document)

		_, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
	})

	t.Run("missing coordinates are rejected", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger)
		document := `<?xml version="1.0" encoding="UTF-8"?>
<osm-notes>
<note id="5" created_at="2022-11-21T17:13:10Z">
<comment action="opened" timestamp="2022-11-21T17:13:10Z"></comment>
</note>
</osm-notes>`
		path := writeDocument(t, document)

		_, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
	})

	t.Run("instant in the future is rejected", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger)
		document := `<?xml version="1.0" encoding="UTF-8"?>
<osm-notes>
<note id="1" lat="0" lon="0" created_at="2999-01-01T00:00:00Z">
<comment action="opened" timestamp="2999-01-01T00:00:00Z"></comment>
</note>
</osm-notes>`
		path := writeDocument(t, document)

		_, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
	})

	t.Run("instant before the notes epoch is rejected", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger)
		document := `<?xml version="1.0" encoding="UTF-8"?>
<osm-notes>
<note id="1" lat="0" lon="0" created_at="2001-01-01T00:00:00Z">
<comment action="opened" timestamp="2001-01-01T00:00:00Z"></comment>
</note>
</osm-notes>`
		path := writeDocument(t, document)

		_, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
	})

	t.Run("first comment must be the opening action", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger)
		document := `<?xml version="1.0" encoding="UTF-8"?>
<osm-notes>
<note id="1" lat="0" lon="0" created_at="2022-11-21T17:13:10Z">
<comment action="commented" timestamp="2022-11-21T17:13:10Z"></comment>
</note>
</osm-notes>`
		path := writeDocument(t, document)

		_, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
	})

	t.Run("missing XML declaration is rejected", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger)
		path := writeDocument(t, `<osm-notes></osm-notes>`)

		_, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
	})

	t.Run("missing document is a validation failure", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger)

		_, err := valid.Validate(context.Background(), filepath.Join(t.TempDir(), "absent.xml"), osmxml.FormatPlanet)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
	})

	t.Run("skip mode only checks existence", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger, validator.WithSkip(true))
		path := writeDocument(t, `not xml at all`)

		report, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.NoError(t, err)
		assert.Zero(t, report.Notes)

		_, err = valid.Validate(context.Background(), filepath.Join(t.TempDir(), "absent.xml"), osmxml.FormatPlanet)
		require.Error(t, err)
		assert.Equal(t, notes.CodeDataValidation, notes.CodeOf(err))
	})

	t.Run("large document switches to sampled checks", func(t *testing.T) {
		t.Parallel()

		valid := validator.New(mocks.NoopLogger,
			validator.WithSizeThreshold(1),
			validator.WithSampleEvery(2),
		)
		path := writeDocument(t, validDocument)

		report, err := valid.Validate(context.Background(), path, osmxml.FormatPlanet)
		require.NoError(t, err)
		assert.True(t, report.Sampled)
		assert.Equal(t, 1, report.Notes)
	})
}
