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
	"fmt"
)

// PutLock takes the database-level logical lock for the given process token
// by calling the stored procedure. The token makes a stuck session visible to
// operators.
func (s *Store) PutLock(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `CALL put_lock($1)`, token)
	if err != nil {
		return fmt.Errorf("could not take logical lock (token: %s): %w", token, err)
	}
	return nil
}

// RemoveLock releases the database-level logical lock for the token.
func (s *Store) RemoveLock(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `CALL remove_lock($1)`, token)
	if err != nil {
		return fmt.Errorf("could not release logical lock (token: %s): %w", token, err)
	}
	return nil
}
