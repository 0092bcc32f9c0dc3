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
	"cmp"
	"net/netip"
	"slices"
	"sync"
)

// 802.11 reason codes used by the simulation
const (
	ReasonAssocLeave uint8 = 8   // left the network
	ReasonNoAPFound  uint8 = 201 // no matching access point
)

// JoinFunc decides the result of the n-th connect request (counting
// from 1): an address if the join succeeds, ok=false if it fails.
type JoinFunc func(n int, cfg *Config) (ip netip.Addr, ok bool)

// FailFirst returns a JoinFunc failing the first k requests and
// succeeding with ip afterwards.
func FailFirst(k int, ip netip.Addr) JoinFunc {
	return func(n int, _ *Config) (netip.Addr, bool) {
		return ip, n > k
	}
}

// NeverJoin fails all requests.
func NeverJoin(int, *Config) (netip.Addr, bool) {
	return netip.Addr{}, false
}

// SimAP is a simulated access point in range of the radio.
type SimAP struct {
	SSID    string
	Channel uint8
	Auth    AuthMode
	RSSI    int8
}

// SimRadio is a simulated station radio. It follows the call protocol
// of a real driver (init before start, start before connect) and reports
// join results as events. Without a JoinFunc, connect requests are only
// counted and events must be injected with Drop and Assign.
type SimRadio struct {
	// Join decides the result of connect requests (optional)
	Join JoinFunc

	// APs in range; if empty, every network is found
	APs []SimAP

	// injected driver failures
	InitErr    error
	StartErr   error
	CredErr    error
	ConnectErr error

	bus       Poster
	mtx       sync.Mutex
	inited    bool
	started   bool
	connected bool
	mode      Mode
	cfg       *Config
	requests  int
	calls     []string
	ap        *SimAP
}

// NewSimRadio creates a simulated radio posting to the bus.
func NewSimRadio(bus Poster) *SimRadio {
	return &SimRadio{
		bus: bus,
	}
}

// Init allocates the (simulated) interface.
func (r *SimRadio) Init(_ *RadioConfig) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, "init")
	if r.InitErr != nil {
		return r.InitErr
	}
	r.inited = true
	return nil
}

// Deinit releases the interface.
func (r *SimRadio) Deinit() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, "deinit")
	if !r.inited {
		return ErrNotInit
	}
	r.inited = false
	r.started = false
	r.connected = false
	r.mode = ModeNull
	r.cfg = nil
	return nil
}

// SetMode of the radio.
func (r *SimRadio) SetMode(m Mode) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, "mode")
	if !r.inited {
		return ErrNotInit
	}
	r.mode = m
	return nil
}

// SetCredentials stores the network config.
func (r *SimRadio) SetCredentials(cfg *Config) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, "credentials")
	if !r.inited {
		return ErrNotInit
	}
	if r.CredErr != nil {
		return r.CredErr
	}
	c := *cfg
	r.cfg = &c
	return nil
}

// Start the radio.
func (r *SimRadio) Start() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, "start")
	if !r.inited {
		return ErrNotInit
	}
	if r.StartErr != nil {
		return r.StartErr
	}
	r.started = true
	return r.bus.Post(WifiEvent, LinkStarted, nil)
}

// Stop the radio.
func (r *SimRadio) Stop() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, "stop")
	if !r.inited {
		return ErrNotInit
	}
	if !r.started {
		return ErrNotStarted
	}
	r.started = false
	r.connected = false
	return r.bus.Post(WifiEvent, LinkStopped, nil)
}

// Connect issues a (simulated) join.
func (r *SimRadio) Connect() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, "connect")
	if !r.started {
		return ErrNotStarted
	}
	if r.ConnectErr != nil {
		return r.ConnectErr
	}
	r.requests++
	if r.Join == nil {
		return nil
	}
	ap := r.scan()
	if ap == nil {
		return r.drop(ReasonNoAPFound)
	}
	if ip, ok := r.Join(r.requests, r.cfg); ok {
		r.ap = ap
		return r.assign(ip)
	}
	return r.drop(ReasonNoAPFound)
}

// scan for the access point to join (lock held). Candidates must match
// the SSID, the auth threshold and the minimum signal strength; a fast
// scan takes the first candidate, a full scan ranks them.
func (r *SimRadio) scan() *SimAP {
	if r.cfg == nil {
		return &SimAP{Channel: 6, RSSI: -50}
	}
	cfg := r.cfg
	if len(r.APs) == 0 {
		return &SimAP{
			SSID:    cfg.SSID,
			Channel: 6,
			Auth:    cfg.AuthThreshold,
			RSSI:    -50,
		}
	}
	var found []SimAP
	for _, ap := range r.APs {
		if ap.SSID != cfg.SSID || !cfg.AuthThreshold.Accepts(ap.Auth) || ap.RSSI < cfg.MinRSSI {
			continue
		}
		if cfg.ScanMethod == ScanFast {
			return &ap
		}
		found = append(found, ap)
	}
	if len(found) == 0 {
		return nil
	}
	slices.SortStableFunc(found, func(a, b SimAP) int {
		if cfg.SortMethod == SortBySecurity && a.Auth != b.Auth {
			return cmp.Compare(b.Auth, a.Auth)
		}
		return cmp.Compare(b.RSSI, a.RSSI)
	})
	return &found[0]
}

// Associated returns the access point of the last successful join.
func (r *SimRadio) Associated() (SimAP, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.ap == nil {
		return SimAP{}, false
	}
	return *r.ap, true
}

// Disconnect from the network.
func (r *SimRadio) Disconnect() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.calls = append(r.calls, "disconnect")
	if !r.inited {
		return ErrNotInit
	}
	if !r.started {
		return ErrNotStarted
	}
	if !r.connected {
		return nil
	}
	return r.drop(ReasonAssocLeave)
}

// Drop injects a disconnect event.
func (r *SimRadio) Drop(reason uint8) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.drop(reason)
}

// Assign injects a successful join with the given address.
func (r *SimRadio) Assign(ip netip.Addr) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.assign(ip)
}

// Requests returns the number of accepted connect requests.
func (r *SimRadio) Requests() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.requests
}

// Calls returns the driver calls made so far.
func (r *SimRadio) Calls() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return append([]string(nil), r.calls...)
}

// Running returns true if the radio is initialized and started.
func (r *SimRadio) Running() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.inited && r.started
}

// post a disconnect (lock held)
func (r *SimRadio) drop(reason uint8) error {
	r.connected = false
	info := &DisconnectInfo{
		Reason: reason,
		RSSI:   -127,
	}
	if r.cfg != nil {
		info.SSID = r.cfg.SSID
	}
	return r.bus.Post(WifiEvent, LinkDisconnected, info)
}

// post link and address events (lock held)
func (r *SimRadio) assign(ip netip.Addr) error {
	r.connected = true
	link := &LinkInfo{
		Channel: 6,
	}
	if r.ap != nil {
		link.SSID = r.ap.SSID
		link.Channel = r.ap.Channel
		link.AuthMode = r.ap.Auth
	} else if r.cfg != nil {
		link.SSID = r.cfg.SSID
		link.AuthMode = r.cfg.AuthThreshold
	}
	if err := r.bus.Post(WifiEvent, LinkConnected, link); err != nil {
		return err
	}
	info := &IPInfo{
		IP:      ip,
		Netmask: netip.AddrFrom4([4]byte{255, 255, 255, 0}),
	}
	if ip.Is4() {
		a := ip.As4()
		info.Gateway = netip.AddrFrom4([4]byte{a[0], a[1], a[2], 1})
	}
	return r.bus.Post(IPEvent, AddressAcquired, info)
}
