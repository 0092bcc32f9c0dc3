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

import "errors"

// Radio driver errors. Drivers wrap or return these so the station can
// tell benign conditions from real failures.
var (
	ErrNotInit     = errors.New("radio not initialized")
	ErrNotStarted  = errors.New("radio not started")
	ErrRadioConfig = errors.New("radio rejected config")
)

// Mode of the radio
type Mode uint8

// radio modes
const (
	ModeNull    Mode = iota // radio off
	ModeStation             // client of an access point
)

// RadioConfig holds driver initialization parameters.
type RadioConfig struct {
	Hostname    string // DHCP host name
	RequestedIP string // address requested via DHCP, static fallback
	Country     string // regulatory domain (optional)
}

// Radio is the capability of a station radio and its network interface.
// All calls are non-blocking: the outcome of Connect is reported through
// events on the bus the driver was created with (LinkConnected,
// LinkDisconnected, AddressAcquired).
type Radio interface {
	// Init allocates the radio and its network interface.
	Init(cfg *RadioConfig) error
	// Deinit releases the radio and the network interface.
	Deinit() error
	// SetMode selects the radio role.
	SetMode(m Mode) error
	// SetCredentials applies the network config.
	SetCredentials(cfg *Config) error
	// Start the radio (emits LinkStarted).
	Start() error
	// Stop the radio (emits LinkStopped).
	Stop() error
	// Connect requests association with the configured network.
	Connect() error
	// Disconnect from the current network.
	Disconnect() error
}

// benign returns true for driver errors that only report the radio is
// already down.
func benign(err error) bool {
	return errors.Is(err, ErrNotStarted) || errors.Is(err, ErrNotInit)
}
