//----------------------------------------------------------------------
// This file is part of fundebazi.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// fundebazi is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// fundebazi is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package fundebazi

import (
	"context"
)

// Service is a request source driven by the loop. ServeOne handles at
// most one pending request and reports whether it did any work; it must
// not block when nothing is pending.
type Service interface {
	ServeOne() bool
}

// Waker is notified when a service has queued work.
type Waker interface {
	Wake()
}

// Loop is the cooperative event loop. All handlers of all services run
// on the goroutine calling Run, one request at a time; transport
// goroutines only queue work and wait for it.
type Loop struct {
	services []Service
	jobs     chan func()   // ad-hoc calls (see Call)
	wake     chan struct{} // pending work signal
	done     chan struct{} // closed when Run returns
}

// NewLoop creates an idle loop.
func NewLoop() *Loop {
	return &Loop{
		jobs: make(chan func(), 4),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Add a service. Services are polled in the order they were added.
// Must not be called after Run.
func (l *Loop) Add(svc Service) {
	l.services = append(l.services, svc)
}

// Wake the loop if it is parked.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to finish. It returns false
// if the loop has stopped.
func (l *Loop) Call(fn func()) bool {
	ch := make(chan struct{})
	job := func() {
		fn()
		close(ch)
	}
	select {
	case l.jobs <- job:
		l.Wake()
	case <-l.done:
		return false
	}
	select {
	case <-ch:
		return true
	case <-l.done:
		// the job may still have run if Run exited right after it
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
}

// Step advances every service by at most one request and runs at most
// one queued call. It returns true if anything was done.
func (l *Loop) Step() (busy bool) {
	for _, svc := range l.services {
		if svc.ServeOne() {
			busy = true
		}
	}
	select {
	case job := <-l.jobs:
		job()
		busy = true
	default:
	}
	return
}

// Run the loop until the context is cancelled. When all services are
// idle the loop parks until woken.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if l.Step() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}
