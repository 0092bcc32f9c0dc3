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
	"fmt"
	"net/netip"

	"github.com/google/uuid"
)

// Status of a connection attempt
type Status uint8

// attempt status
const (
	Pending   Status = iota // still in progress
	Connected               // address acquired
	Failed                  // terminal failure
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", s)
}

// Outcome of a connection attempt.
type Outcome struct {
	Attempt uuid.UUID  // attempt identifier
	Status  Status     // attempt status
	IP      netip.Addr // acquired address (Connected)
	Err     *Error     // failure (Failed)
}

// connectedOutcome for an attempt
func connectedOutcome(id uuid.UUID, ip netip.Addr) Outcome {
	return Outcome{
		Attempt: id,
		Status:  Connected,
		IP:      ip,
	}
}

// failedOutcome for an attempt
func failedOutcome(id uuid.UUID, reason Reason, err error) Outcome {
	return Outcome{
		Attempt: id,
		Status:  Failed,
		Err:     NewError("connect", reason, err),
	}
}

// Reason returns the failure reason (ReasonNone unless Failed).
func (o Outcome) Reason() Reason {
	if o.Err == nil {
		return ReasonNone
	}
	return o.Err.Reason
}

// Error returns the failure as error value (nil unless Failed).
func (o Outcome) Error() error {
	if o.Err == nil {
		return nil
	}
	return o.Err
}

// String returns a human-readable outcome.
func (o Outcome) String() string {
	switch o.Status {
	case Connected:
		return fmt.Sprintf("Connected(%s)", o.IP)
	case Failed:
		return fmt.Sprintf("Failed(%s)", o.Reason())
	}
	return o.Status.String()
}
