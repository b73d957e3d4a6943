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

package mocks

import (
	"context"
	"testing"
	"time"

	"github.com/osmnotes/notes-sync/models/notes"
	"github.com/osmnotes/notes-sync/service/storage"
)

// Store mocks the full storage surface; each orchestrator only calls the
// subset its interface names.
type Store struct {
	PutLockFunc                 func(ctx context.Context, token string) error
	RemoveLockFunc              func(ctx context.Context, token string) error
	StagingMaxInstantFunc       func(ctx context.Context, src storage.Source) (time.Time, error)
	MergeNotesFunc              func(ctx context.Context, src storage.Source) (int64, error)
	MergeCommentsFunc           func(ctx context.Context, src storage.Source) (int64, error)
	MergeTextsFunc              func(ctx context.Context, src storage.Source) (int64, error)
	GeotagNewNotesFunc          func(ctx context.Context) (int64, error)
	SetWatermarkFunc            func(ctx context.Context, timestamp time.Time) error
	AnalyzeMainTablesFunc       func(ctx context.Context) error
	GapCountsFunc               func(ctx context.Context, window time.Duration) (int64, int64, error)
	InsertGapRecordFunc         func(ctx context.Context, record notes.GapRecord) error
	WatermarkFunc               func(ctx context.Context) (time.Time, error)
	RefreshWatermarkFunc        func(ctx context.Context) (time.Time, error)
	LoadCSVFunc                 func(ctx context.Context, target storage.CopyTarget, notesCSV string, commentsCSV string, textCSV string) (storage.CopyStats, error)
	CreateSyncPartitionsFunc    func(ctx context.Context, n int) error
	DropSyncStagingFunc         func(ctx context.Context) error
	TruncateAPIStagingFunc      func(ctx context.Context) error
	DropAPIStagingFunc          func(ctx context.Context) error
	CreateBaseSchemaFunc        func(ctx context.Context) error
	DropBaseTablesFunc          func(ctx context.Context) error
	BaseTablesExistFunc         func(ctx context.Context) (bool, error)
	CreateSpatialFunctionFunc   func(ctx context.Context) error
	GeotagAllNotesFunc          func(ctx context.Context) (int64, error)
	VacuumMainTablesFunc        func(ctx context.Context) error
	CountryFingerprintsFunc     func(ctx context.Context) (map[int64]uint64, error)
	MarkCountriesForUpdateFunc  func(ctx context.Context) error
	TruncateImportFunc          func(ctx context.Context) error
	UpsertCountryFromImportFunc func(ctx context.Context, country notes.Country) error
	ClearCountryFlagsFunc       func(ctx context.Context, ids []int64) error
	MarkFailedCountriesFunc     func(ctx context.Context) (int64, error)
	DeleteCountriesFunc         func(ctx context.Context, ids []int64) error
	CountryCountFunc            func(ctx context.Context) (int64, error)
	PromoteBaselineImportFunc   func(ctx context.Context) (int64, error)
	ReassignNotesFunc           func(ctx context.Context, ids []int64) (int64, error)
}

func BaselineStore(t *testing.T) *Store {
	t.Helper()

	s := Store{
		PutLockFunc: func(context.Context, string) error {
			return nil
		},
		RemoveLockFunc: func(context.Context, string) error {
			return nil
		},
		StagingMaxInstantFunc: func(context.Context, storage.Source) (time.Time, error) {
			return GenericOpenedAt, nil
		},
		MergeNotesFunc: func(context.Context, storage.Source) (int64, error) {
			return 1, nil
		},
		MergeCommentsFunc: func(context.Context, storage.Source) (int64, error) {
			return 1, nil
		},
		MergeTextsFunc: func(context.Context, storage.Source) (int64, error) {
			return 1, nil
		},
		GeotagNewNotesFunc: func(context.Context) (int64, error) {
			return 1, nil
		},
		SetWatermarkFunc: func(context.Context, time.Time) error {
			return nil
		},
		AnalyzeMainTablesFunc: func(context.Context) error {
			return nil
		},
		GapCountsFunc: func(context.Context, time.Duration) (int64, int64, error) {
			return 1, 0, nil
		},
		InsertGapRecordFunc: func(context.Context, notes.GapRecord) error {
			return nil
		},
		WatermarkFunc: func(context.Context) (time.Time, error) {
			return GenericOpenedAt, nil
		},
		RefreshWatermarkFunc: func(context.Context) (time.Time, error) {
			return GenericOpenedAt, nil
		},
		LoadCSVFunc: func(context.Context, storage.CopyTarget, string, string, string) (storage.CopyStats, error) {
			return storage.CopyStats{Notes: 1, Comments: 1, Texts: 1}, nil
		},
		CreateSyncPartitionsFunc: func(context.Context, int) error {
			return nil
		},
		DropSyncStagingFunc: func(context.Context) error {
			return nil
		},
		TruncateAPIStagingFunc: func(context.Context) error {
			return nil
		},
		DropAPIStagingFunc: func(context.Context) error {
			return nil
		},
		CreateBaseSchemaFunc: func(context.Context) error {
			return nil
		},
		DropBaseTablesFunc: func(context.Context) error {
			return nil
		},
		BaseTablesExistFunc: func(context.Context) (bool, error) {
			return true, nil
		},
		CreateSpatialFunctionFunc: func(context.Context) error {
			return nil
		},
		GeotagAllNotesFunc: func(context.Context) (int64, error) {
			return 1, nil
		},
		VacuumMainTablesFunc: func(context.Context) error {
			return nil
		},
		CountryFingerprintsFunc: func(context.Context) (map[int64]uint64, error) {
			return map[int64]uint64{GenericCountryID: 42}, nil
		},
		MarkCountriesForUpdateFunc: func(context.Context) error {
			return nil
		},
		TruncateImportFunc: func(context.Context) error {
			return nil
		},
		UpsertCountryFromImportFunc: func(context.Context, notes.Country) error {
			return nil
		},
		ClearCountryFlagsFunc: func(context.Context, []int64) error {
			return nil
		},
		MarkFailedCountriesFunc: func(context.Context) (int64, error) {
			return 0, nil
		},
		DeleteCountriesFunc: func(context.Context, []int64) error {
			return nil
		},
		CountryCountFunc: func(context.Context) (int64, error) {
			return 1, nil
		},
		PromoteBaselineImportFunc: func(context.Context) (int64, error) {
			return 1, nil
		},
		ReassignNotesFunc: func(context.Context, []int64) (int64, error) {
			return 1, nil
		},
	}

	return &s
}

func (s *Store) PutLock(ctx context.Context, token string) error {
	return s.PutLockFunc(ctx, token)
}

func (s *Store) RemoveLock(ctx context.Context, token string) error {
	return s.RemoveLockFunc(ctx, token)
}

func (s *Store) StagingMaxInstant(ctx context.Context, src storage.Source) (time.Time, error) {
	return s.StagingMaxInstantFunc(ctx, src)
}

func (s *Store) MergeNotes(ctx context.Context, src storage.Source) (int64, error) {
	return s.MergeNotesFunc(ctx, src)
}

func (s *Store) MergeComments(ctx context.Context, src storage.Source) (int64, error) {
	return s.MergeCommentsFunc(ctx, src)
}

func (s *Store) MergeTexts(ctx context.Context, src storage.Source) (int64, error) {
	return s.MergeTextsFunc(ctx, src)
}

func (s *Store) GeotagNewNotes(ctx context.Context) (int64, error) {
	return s.GeotagNewNotesFunc(ctx)
}

func (s *Store) SetWatermark(ctx context.Context, timestamp time.Time) error {
	return s.SetWatermarkFunc(ctx, timestamp)
}

func (s *Store) AnalyzeMainTables(ctx context.Context) error {
	return s.AnalyzeMainTablesFunc(ctx)
}

func (s *Store) GapCounts(ctx context.Context, window time.Duration) (int64, int64, error) {
	return s.GapCountsFunc(ctx, window)
}

func (s *Store) InsertGapRecord(ctx context.Context, record notes.GapRecord) error {
	return s.InsertGapRecordFunc(ctx, record)
}

func (s *Store) Watermark(ctx context.Context) (time.Time, error) {
	return s.WatermarkFunc(ctx)
}

func (s *Store) RefreshWatermark(ctx context.Context) (time.Time, error) {
	return s.RefreshWatermarkFunc(ctx)
}

func (s *Store) LoadCSV(ctx context.Context, target storage.CopyTarget, notesCSV string, commentsCSV string, textCSV string) (storage.CopyStats, error) {
	return s.LoadCSVFunc(ctx, target, notesCSV, commentsCSV, textCSV)
}

func (s *Store) CreateSyncPartitions(ctx context.Context, n int) error {
	return s.CreateSyncPartitionsFunc(ctx, n)
}

func (s *Store) DropSyncStaging(ctx context.Context) error {
	return s.DropSyncStagingFunc(ctx)
}

func (s *Store) TruncateAPIStaging(ctx context.Context) error {
	return s.TruncateAPIStagingFunc(ctx)
}

func (s *Store) DropAPIStaging(ctx context.Context) error {
	return s.DropAPIStagingFunc(ctx)
}

func (s *Store) CreateBaseSchema(ctx context.Context) error {
	return s.CreateBaseSchemaFunc(ctx)
}

func (s *Store) DropBaseTables(ctx context.Context) error {
	return s.DropBaseTablesFunc(ctx)
}

func (s *Store) BaseTablesExist(ctx context.Context) (bool, error) {
	return s.BaseTablesExistFunc(ctx)
}

func (s *Store) CreateSpatialFunction(ctx context.Context) error {
	return s.CreateSpatialFunctionFunc(ctx)
}

func (s *Store) GeotagAllNotes(ctx context.Context) (int64, error) {
	return s.GeotagAllNotesFunc(ctx)
}

func (s *Store) VacuumMainTables(ctx context.Context) error {
	return s.VacuumMainTablesFunc(ctx)
}

func (s *Store) CountryFingerprints(ctx context.Context) (map[int64]uint64, error) {
	return s.CountryFingerprintsFunc(ctx)
}

func (s *Store) MarkCountriesForUpdate(ctx context.Context) error {
	return s.MarkCountriesForUpdateFunc(ctx)
}

func (s *Store) TruncateImport(ctx context.Context) error {
	return s.TruncateImportFunc(ctx)
}

func (s *Store) UpsertCountryFromImport(ctx context.Context, country notes.Country) error {
	return s.UpsertCountryFromImportFunc(ctx, country)
}

func (s *Store) ClearCountryFlags(ctx context.Context, ids []int64) error {
	return s.ClearCountryFlagsFunc(ctx, ids)
}

func (s *Store) MarkFailedCountries(ctx context.Context) (int64, error) {
	return s.MarkFailedCountriesFunc(ctx)
}

func (s *Store) DeleteCountries(ctx context.Context, ids []int64) error {
	return s.DeleteCountriesFunc(ctx, ids)
}

func (s *Store) CountryCount(ctx context.Context) (int64, error) {
	return s.CountryCountFunc(ctx)
}

func (s *Store) PromoteBaselineImport(ctx context.Context) (int64, error) {
	return s.PromoteBaselineImportFunc(ctx)
}

func (s *Store) ReassignNotes(ctx context.Context, ids []int64) (int64, error) {
	return s.ReassignNotesFunc(ctx, ids)
}
