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
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/bfix/wifista"
)

// CLI of the station simulator
var CLI struct {
	Config    string `short:"c" help:"Settings file (YAML)" type:"existingfile"`
	SSID      string `help:"Network name"`
	Password  string `help:"Network password"`
	MaxRetry  int    `help:"Retry ceiling (overrides settings)" default:"-1"`
	Timeout   string `help:"Connect timeout (overrides settings)"`
	FailFirst int    `help:"Number of joins the simulated radio fails" default:"0"`
	Address   string `help:"Address assigned to the simulated station" default:"127.0.0.1"`
	Port      uint16 `short:"p" help:"Serve status via 9p on this port (0 = don't serve)" default:"5640"`
	Verbose   bool   `short:"v" help:"Enable verbose logging"`
}

func main() {
	kong.Parse(&CLI, kong.Description("Simulate a WiFi station node."))

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	if err := run(logger); err != nil {
		logger.Error("simulation failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

// settings from file and command line
func settings() (*wifista.Settings, error) {
	set := wifista.DefaultSettings()
	if len(CLI.Config) > 0 {
		f, err := os.Open(CLI.Config)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if set, err = wifista.ReadSettings(f); err != nil {
			return nil, err
		}
	}
	if len(CLI.SSID) > 0 {
		pw := CLI.Password
		if len(pw) == 0 {
			pw = set.Wifi.Password
		}
		set.Wifi = *wifista.NewConfig(CLI.SSID, pw)
	}
	if CLI.MaxRetry >= 0 {
		set.MaxRetry = CLI.MaxRetry
	}
	if len(CLI.Timeout) > 0 {
		d, err := time.ParseDuration(CLI.Timeout)
		if err != nil {
			return nil, err
		}
		set.Timeout = d
	}
	return set, nil
}

// run the simulated node
func run(logger *slog.Logger) error {
	set, err := settings()
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(CLI.Address)
	if err != nil {
		return err
	}

	bus := wifista.NewEventLoop()
	defer bus.Close()
	dev := wifista.InitDevice(bus, logger)
	if host, ok := dev.(*wifista.HostDevice); ok {
		host.Sim().Join = wifista.FailFirst(CLI.FailFirst, addr)
	}
	light, err := wifista.NewStatusLight(dev, 250*time.Millisecond, logger)
	if err != nil {
		return err
	}
	defer light.Close()

	st := wifista.NewStation(dev.Radio(), bus,
		wifista.WithMaxRetry(set.MaxRetry),
		wifista.WithTimeout(set.Timeout),
		wifista.WithLogger(logger),
		wifista.WithStateHook(light.Set),
		wifista.WithRadioConfig(&wifista.RadioConfig{
			Hostname:    set.Hostname,
			RequestedIP: set.StaticIP,
		}),
	)
	defer func() {
		if err := st.Shutdown(); err != nil {
			logger.Error("shutdown", slog.String("err", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out, err := st.Connect(ctx, &set.Wifi, true)
	fmt.Println(out)
	if err != nil {
		return err
	}
	if CLI.Port == 0 {
		return nil
	}

	// serve status via 9p
	ns, err := wifista.NewStatusNamespace(st, light, "sys", "sys")
	if err != nil {
		return err
	}
	lst, err := dev.Listen(CLI.Port)
	if err != nil {
		return err
	}
	logger.Info("serving status", slog.Int("port", int(CLI.Port)))
	return ns.Serve(ctx, lst)
}
