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
	"errors"
	"fmt"
)

// Reason classifies why a station operation or connection attempt failed.
type Reason int

// failure reasons
const (
	ReasonNone             Reason = iota // no failure
	ReasonRadioInit                      // radio could not be initialized
	ReasonInvalidConfig                  // connection config rejected
	ReasonConnectRequest                 // connect request failed
	ReasonRetriesExhausted               // retry ceiling exceeded
	ReasonTimeout                        // no terminal outcome in time
	ReasonCanceled                       // attempt abandoned by caller
	ReasonBusy                           // another attempt is outstanding
	ReasonHardware                       // indicator hardware failure
	ReasonRadio                          // radio driver failure
)

// String returns a human-readable reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonRadioInit:
		return "radio init failed"
	case ReasonInvalidConfig:
		return "invalid config"
	case ReasonConnectRequest:
		return "connect request failed"
	case ReasonRetriesExhausted:
		return "retries exhausted"
	case ReasonTimeout:
		return "timeout"
	case ReasonCanceled:
		return "canceled"
	case ReasonBusy:
		return "busy"
	case ReasonHardware:
		return "hardware failure"
	case ReasonRadio:
		return "radio failure"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Error classes (use with errors.Is)
var (
	ErrRadioInit        = errors.New("radio init failed")
	ErrInvalidConfig    = errors.New("invalid config")
	ErrConnectRequest   = errors.New("connect request failed")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrTimeout          = errors.New("connect timed out")
	ErrCanceled         = errors.New("connect canceled")
	ErrBusy             = errors.New("connect already in progress")
	ErrHardware         = errors.New("hardware failure")
	ErrRadio            = errors.New("radio failure")
)

// sentinel for each failure reason
var reasonErrs = map[Reason]error{
	ReasonRadioInit:        ErrRadioInit,
	ReasonInvalidConfig:    ErrInvalidConfig,
	ReasonConnectRequest:   ErrConnectRequest,
	ReasonRetriesExhausted: ErrRetriesExhausted,
	ReasonTimeout:          ErrTimeout,
	ReasonCanceled:         ErrCanceled,
	ReasonBusy:             ErrBusy,
	ReasonHardware:         ErrHardware,
	ReasonRadio:            ErrRadio,
}

// Error is a classified failure of a station operation.
type Error struct {
	Op     string // operation ("start", "connect", ...)
	Reason Reason // failure class
	Err    error  // underlying cause or nil
}

// NewError creates a classified error for an operation.
func NewError(op string, reason Reason, err error) *Error {
	return &Error{
		Op:     op,
		Reason: reason,
		Err:    err,
	}
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// Unwrap returns the class sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	var list []error
	if s, ok := reasonErrs[e.Reason]; ok {
		list = append(list, s)
	}
	if e.Err != nil {
		list = append(list, e.Err)
	}
	return list
}

// ReasonOf returns the failure reason of err (ReasonNone if unclassified).
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}
