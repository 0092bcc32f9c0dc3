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
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Indicator is a single-pixel status light.
type Indicator interface {
	// Configure the indicator hardware.
	Configure() error
	// SetColor of the pixel.
	SetColor(r, g, b uint8) error
}

// Color of the status light
type Color struct {
	R, G, B uint8
}

// status colors
var (
	ColorOff   = Color{0, 0, 0}
	ColorBlue  = Color{0, 0, 40}
	ColorAmber = Color{45, 30, 0}
	ColorGreen = Color{0, 60, 0}
	ColorRed   = Color{60, 0, 0}
	ColorExcp  = Color{60, 0, 60}
)

// String returns the color as "r g b".
func (c Color) String() string {
	return fmt.Sprintf("%d %d %d", c.R, c.G, c.B)
}

//----------------------------------------------------------------------

// StatusLight shows the station state on an indicator:
//
//	idle        off
//	starting    blue
//	connecting  blinking amber
//	connected   green
//	failed      blinking red
//
// Indicator failures are logged and counted; they never reach the
// station.
type StatusLight struct {
	ind      Indicator
	logger   *slog.Logger
	curr     atomic.Int32 // current station state
	excp     atomic.Bool  // exception trapped
	failures atomic.Int32 // failed indicator updates
	shown    atomic.Value // last color sent to the indicator
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewStatusLight configures the indicator and starts rendering the
// station state every period.
func NewStatusLight(ind Indicator, period time.Duration, logger *slog.Logger) (*StatusLight, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		}))
	}
	if err := ind.Configure(); err != nil {
		return nil, NewError("indicator", ReasonHardware, err)
	}
	sl := &StatusLight{
		ind:    ind,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	sl.shown.Store(ColorOff)
	go sl.run(period)
	return sl, nil
}

// Set the station state to show. Suitable as station state hook.
func (sl *StatusLight) Set(state State) {
	if sl != nil {
		sl.curr.Store(int32(state))
	}
}

// Get the state currently shown.
func (sl *StatusLight) Get() State {
	return State(sl.curr.Load())
}

// Color returns the color last sent to the indicator.
func (sl *StatusLight) Color() Color {
	return sl.shown.Load().(Color)
}

// Failures returns the number of failed indicator updates.
func (sl *StatusLight) Failures() int {
	return int(sl.failures.Load())
}

// Trap critical failures (panic); use deferred. A trapped panic is shown
// permanently.
func (sl *StatusLight) Trap(t time.Duration) {
	if r := recover(); r != nil {
		sl.logger.Error("EXCP", slog.Any("panic", r))
		sl.excp.Store(true)
	}
	time.Sleep(t)
}

// Close stops rendering and switches the light off.
func (sl *StatusLight) Close() {
	sl.once.Do(func() {
		close(sl.stop)
		<-sl.done
		sl.show(ColorOff)
	})
}

// render loop
func (sl *StatusLight) run(period time.Duration) {
	defer close(sl.done)
	tick := time.NewTicker(period)
	defer tick.Stop()
	phase := false
	for {
		sl.show(sl.color(phase))
		phase = !phase
		select {
		case <-sl.stop:
			return
		case <-tick.C:
		}
	}
}

// color for the current state in the given blink phase.
func (sl *StatusLight) color(phase bool) Color {
	if sl.excp.Load() {
		return ColorExcp
	}
	switch State(sl.curr.Load()) {
	case StateStarting:
		return ColorBlue
	case StateConnecting:
		if phase {
			return ColorOff
		}
		return ColorAmber
	case StateConnected:
		return ColorGreen
	case StateFailed:
		if phase {
			return ColorOff
		}
		return ColorRed
	}
	return ColorOff
}

// show a color on the indicator.
func (sl *StatusLight) show(c Color) {
	if err := sl.ind.SetColor(c.R, c.G, c.B); err != nil {
		if sl.failures.Add(1) == 1 {
			sl.logger.Warn("indicator update failed", slog.String("err", err.Error()))
		}
		return
	}
	sl.shown.Store(c)
}
