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
)

type API struct {
	ProbeFunc func(ctx context.Context, since time.Time) (bool, error)
	FetchFunc func(ctx context.Context, since time.Time, destination string) error
	LiveFunc  func(ctx context.Context) bool
}

func BaselineAPI(t *testing.T) *API {
	t.Helper()

	a := API{
		ProbeFunc: func(context.Context, time.Time) (bool, error) {
			return true, nil
		},
		FetchFunc: func(context.Context, time.Time, string) error {
			return nil
		},
		LiveFunc: func(context.Context) bool {
			return true
		},
	}

	return &a
}

func (a *API) Probe(ctx context.Context, since time.Time) (bool, error) {
	return a.ProbeFunc(ctx, since)
}

func (a *API) Fetch(ctx context.Context, since time.Time, destination string) error {
	return a.FetchFunc(ctx, since, destination)
}

func (a *API) Live(ctx context.Context) bool {
	return a.LiveFunc(ctx)
}
