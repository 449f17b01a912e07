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
	"database/sql/driver"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
)

// IsErrDupEntry returns true if error code = 1062
func IsErrDupEntry(err error) bool {
	return isMySQLError(err, 1062)
}

// IsConnectionLost reports whether err means the server side of the
// connection went away, as opposed to the statement being rejected
func IsConnectionLost(err error) bool {
	err = originError(err)
	if err == nil {
		return false
	}
	switch err {
	case driver.ErrBadConn, mysql.ErrInvalidConn, io.EOF, io.ErrUnexpectedEOF:
		return true
	case context.Canceled, context.DeadlineExceeded:
		return false
	}
	_, ok := err.(net.Error)
	return ok
}

func isMySQLError(err error, code uint16) bool {
	err = originError(err)
	e, ok := err.(*mysql.MySQLError)
	return ok && e.Number == code
}

// originError return original error
func originError(err error) error {
	for {
		e := errors.Cause(err)
		if e == err {
			break
		}
		err = e
	}
	return err
}
