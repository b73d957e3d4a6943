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
)

type Retrier struct {
	RetryFunc func(ctx context.Context, description string, op func() error) error
}

func BaselineRetrier(t *testing.T) *Retrier {
	t.Helper()

	r := Retrier{
		RetryFunc: func(_ context.Context, _ string, op func() error) error {
			return op()
		},
	}

	return &r
}

func (r *Retrier) Retry(ctx context.Context, description string, op func() error) error {
	return r.RetryFunc(ctx, description, op)
}
