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

package backend

import (
	"github.com/juju/errors"
)

var (
	// ErrUnknownBackendKind is returned for kinds outside the supported set or
	// missing from the configuration
	ErrUnknownBackendKind = errors.New("unknown backend kind")
	// ErrUnsupportedBackendKind is returned when no driver is available for a kind
	ErrUnsupportedBackendKind = errors.New("unsupported backend kind")
	// ErrMissingEntry is returned when a required configuration entry is absent
	ErrMissingEntry = errors.New("missing configuration entry")
)

// ConfigError is a failure caused by the configuration, it is the only kind of
// error the public entry points return instead of folding it into a report
type ConfigError struct {
	Subject string
	Err     error
}

func newConfigError(subject string, err error) *ConfigError {
	return &ConfigError{Subject: subject, Err: err}
}

// NewUnsupportedError creates the error for a kind without available driver
func NewUnsupportedError(kind Kind) error {
	return newConfigError(kind.String(), ErrUnsupportedBackendKind)
}

// NewMissingEntryError creates the error for a missing configuration entry
func NewMissingEntryError(subject string) error {
	return newConfigError(subject, ErrMissingEntry)
}

// Error implements error
func (e *ConfigError) Error() string {
	return e.Subject + ": " + e.Err.Error()
}

// Unwrap returns the sentinel
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err was caused by the configuration
func IsConfigError(err error) bool {
	for err != nil {
		if _, ok := err.(*ConfigError); ok {
			return true
		}
		next := errors.Cause(err)
		if next == err {
			if u, ok := err.(interface{ Unwrap() error }); ok {
				next = u.Unwrap()
			} else {
				return false
			}
		}
		err = next
	}
	return false
}
