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

// Package timeout bounds how long a caller waits for an operation.
//
// Cancellation is advisory only. When the budget runs out the caller gets
// ErrTimedOut back immediately, but the operation keeps running in its own
// goroutine until it returns by itself. Callers must read a timeout as "no
// answer within budget", never as "the operation stopped", and must not
// reuse any session the abandoned operation may still hold. Task.Done tells
// when the abandoned operation has really finished.
package timeout

import (
	"time"

	"github.com/juju/errors"
)

// ErrTimedOut is returned when the operation did not finish within budget
var ErrTimedOut = errors.New("operation timed out")

type outcome[T any] struct {
	val T
	err error
}

// Task is the handle of an operation running in its own goroutine
type Task[T any] struct {
	ch   chan outcome[T]
	done chan struct{}
	out  outcome[T]
	got  bool
}

// Go starts op in a new goroutine. A panic in op is returned as its error.
func Go[T any](op func() (T, error)) *Task[T] {
	t := &Task[T]{
		// buffered, an abandoned goroutine never blocks on send
		ch:   make(chan outcome[T], 1),
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		var o outcome[T]
		defer func() {
			if r := recover(); r != nil {
				o.err = errors.Errorf("operation panicked: %v", r)
			}
			t.ch <- o
		}()
		o.val, o.err = op()
	}()
	return t
}

// Wait waits up to d for the operation. On expiry it returns ErrTimedOut
// and the operation is left running. A non-positive d waits forever.
// Wait is not safe for concurrent use.
func (t *Task[T]) Wait(d time.Duration) (T, error) {
	if t.got {
		return t.out.val, t.out.err
	}
	if d <= 0 {
		t.out, t.got = <-t.ch, true
		return t.out.val, t.out.err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case o := <-t.ch:
		t.out, t.got = o, true
		return o.val, o.err
	case <-timer.C:
		var zero T
		return zero, errors.Annotatef(ErrTimedOut, "no answer within %s", d)
	}
}

// Done is closed once the operation has returned, whether or not anyone
// still waits for it
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Do runs op and waits up to d for it
func Do[T any](d time.Duration, op func() (T, error)) (T, error) {
	return Go(op).Wait(d)
}

// IsTimedOut reports whether err comes from an expired budget
func IsTimedOut(err error) bool {
	return errors.Cause(err) == ErrTimedOut
}

// Seconds converts a budget in seconds, as given by callers, to a duration
func Seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

