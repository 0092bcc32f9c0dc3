//go:build rp2350

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

package main

import (
	"context"
	"log/slog"
	"machine"
	"strconv"
	"time"

	"github.com/bfix/wifista"
)

// WiFi credentials and 9p port (set with -ldflags "-X main.SSID=...")
var (
	SSID   string
	Passwd string
	Host   string
	IP     string
	Port   string = "564"
)

// join the network and serve the status namespace via 9p
func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelDebug}))
	time.Sleep(2 * time.Second)

	// access device
	bus := wifista.NewEventLoop()
	dev := wifista.InitDevice(bus, logger)
	light, err := wifista.NewStatusLight(dev, 250*time.Millisecond, logger)
	if err != nil {
		// run without status light
		logger.Error("status light", slog.String("err", err.Error()))
	} else {
		defer light.Trap(30 * time.Second)
	}
	port, err := strconv.ParseUint(Port, 10, 16)
	if err != nil {
		logger.Error("invalid port", slog.String("port", Port))
		return
	}

	// connect to WiFi
	st := wifista.NewStation(dev.Radio(), bus,
		wifista.WithLogger(logger),
		wifista.WithStateHook(light.Set),
		wifista.WithRadioConfig(&wifista.RadioConfig{
			Hostname:    Host,
			RequestedIP: IP,
		}),
	)
	defer st.Shutdown()
	cfg := wifista.NewConfig(SSID, Passwd)
	for {
		out, err := st.Connect(context.Background(), cfg, true)
		if err == nil {
			logger.Info("connected", slog.String("ip", out.IP.String()))
			break
		}
		logger.Error("connect failed", slog.String("outcome", out.String()), slog.String("err", err.Error()))
		switch wifista.ReasonOf(err) {
		case wifista.ReasonInvalidConfig, wifista.ReasonRadioInit:
			return
		}
		time.Sleep(10 * time.Second)
	}

	// serve status via 9p
	ns, err := wifista.NewStatusNamespace(st, light, "sys", "sys")
	if err != nil {
		logger.Error("namespace", slog.String("err", err.Error()))
		return
	}
	lst, err := dev.Listen(uint16(port))
	if err != nil {
		logger.Error("listen", slog.String("err", err.Error()))
		return
	}
	for {
		err := ns.Serve(context.Background(), lst)
		logger.Warn("serve", slog.String("err", err.Error()))
		time.Sleep(time.Second)
	}

	// srv tcp!<host>!9fs wifi
	// mount /srv/wifi /n/wifi
	// cat /n/wifi/wifi/state
}
