//----------------------------------------------------------------------
// This file is part of wifista.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifista is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifista is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifista

import (
	"context"
	"sync"
	"sync/atomic"
)

// Completion is a single-slot signal joining the asynchronous outcome of
// a connection attempt with one waiting caller. The first Signal wins,
// all later ones are ignored.
type Completion struct {
	once    sync.Once
	ch      chan struct{}
	outcome Outcome
	calls   atomic.Int32 // number of Signal calls
}

// NewCompletion creates an unsignaled completion.
func NewCompletion() *Completion {
	return &Completion{
		ch: make(chan struct{}),
	}
}

// Signal the outcome. Returns true if this call raised the signal.
func (c *Completion) Signal(o Outcome) (won bool) {
	c.calls.Add(1)
	c.once.Do(func() {
		c.outcome = o
		close(c.ch)
		won = true
	})
	return
}

// Done returns a channel closed when the signal is raised.
func (c *Completion) Done() <-chan struct{} {
	return c.ch
}

// Fired returns true if the signal was raised.
func (c *Completion) Fired() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Raised returns how often Signal was called.
func (c *Completion) Raised() int {
	return int(c.calls.Load())
}

// Wait for the signal. Returns the signaled outcome or the context error.
func (c *Completion) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.ch:
		return c.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
