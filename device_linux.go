//go:build !rp2350

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
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
)

// HostDevice (for testing purposes): a simulated radio and a logging
// indicator.
type HostDevice struct {
	sim    *SimRadio
	logger *slog.Logger
	mtx    sync.Mutex
	color  Color
}

// InitDevice returns a host device. Its radio joins on the first request
// and gets a loopback address.
func InitDevice(bus Poster, logger *slog.Logger) Device {
	dev := &HostDevice{
		sim:    NewSimRadio(bus),
		logger: logger,
	}
	dev.sim.Join = FailFirst(0, netip.MustParseAddr("127.0.0.1"))
	return dev
}

// Sim returns the simulated radio for scripting.
func (dev *HostDevice) Sim() *SimRadio {
	return dev.sim
}

// Configure the indicator (not applicable)
func (dev *HostDevice) Configure() error {
	return nil
}

// SetColor logs color changes.
func (dev *HostDevice) SetColor(r, g, b uint8) error {
	c := Color{r, g, b}
	dev.mtx.Lock()
	changed := c != dev.color
	dev.color = c
	dev.mtx.Unlock()
	if changed && dev.logger != nil {
		dev.logger.Debug("LED", slog.String("color", c.String()))
	}
	return nil
}

// Radio returns the simulated radio.
func (dev *HostDevice) Radio() Radio {
	return dev.sim
}

// Listen returns a TCP listener on the given port.
func (dev *HostDevice) Listen(port uint16) (net.Listener, error) {
	cfg := new(net.ListenConfig)
	return cfg.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
}
