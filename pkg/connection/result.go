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

package connection

import (
	"strings"
	"time"
)

// Row is one fetched row, textual values are returned as string
type Row []interface{}

// ExecutionResult is the normalized outcome of one statement. Statement
// errors are data: they land in ErrorMessage and leave Rows nil.
type ExecutionResult struct {
	Columns []string `json:"columns,omitempty"`
	// Rows is nil for mutating statements and failed statements
	Rows         []Row         `json:"rows"`
	AffectedRows int64         `json:"affected_rows"`
	Elapsed      time.Duration `json:"-"`
	ErrorMessage string        `json:"error_message,omitempty"`

	err error
}

// ElapsedSeconds returns the elapsed time in seconds
func (r *ExecutionResult) ElapsedSeconds() float64 {
	return r.Elapsed.Seconds()
}

// Err returns the driver error behind ErrorMessage
func (r *ExecutionResult) Err() error {
	return r.err
}

// Failed reports whether the statement was rejected
func (r *ExecutionResult) Failed() bool {
	return r.ErrorMessage != ""
}

var mutatingPrefixes = []string{"INSERT", "UPDATE", "DELETE", "CREATE"}

// IsMutating reports whether the statement goes through the commit path,
// decided by its leading keyword only
func IsMutating(stmt string) bool {
	s := strings.ToUpper(strings.TrimSpace(stmt))
	for _, p := range mutatingPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func failedResult(err error) *ExecutionResult {
	return &ExecutionResult{ErrorMessage: err.Error(), err: err}
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
