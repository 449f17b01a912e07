// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"context"
	"os"
	"time"

	"github.com/jpillora/backoff"
	"github.com/juju/errors"
)

// RunWithRetry runs f until it succeeds, retryCnt attempts are made at most
// (negative means unlimited) and the waits between them follow b. A nil b
// waits one second between attempts.
func RunWithRetry(ctx context.Context, retryCnt int, b *backoff.Backoff, f func() error) error {
	var (
		err error
	)
	if b == nil {
		b = &backoff.Backoff{Min: time.Second, Max: time.Second}
	}
	for i := 0; retryCnt < 0 || i < retryCnt; i++ {
		err = f()
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return errors.Annotatef(ctx.Err(), "last error %v", err)
		case <-time.After(b.Duration()):
		}
	}
	return errors.Trace(err)
}

// IsFileExist returns true if the file exists.
func IsFileExist(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// RemoveIfExist removes the file and reports whether there was one
func RemoveIfExist(name string) (bool, error) {
	if !IsFileExist(name) {
		return false, nil
	}
	if err := os.Remove(name); err != nil {
		return false, errors.Annotatef(err, "remove %s", name)
	}
	return true, nil
}
