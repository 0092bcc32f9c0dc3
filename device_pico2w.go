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

package wifista

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/soypat/cyw43439"
	"github.com/soypat/seqs/stacks"
)

const mtu = cyw43439.MTU

// Device errors
var (
	errNoStack = errors.New("network stack not ready")
	errMode    = errors.New("only station mode supported")
)

// Raspberry Pico2 W  [RP2350]
type Pico2WDevice struct {
	ref   *cyw43439.Device // reference to device
	radio *picoRadio
}

// InitDevice returns the Pico2 W device.
func InitDevice(bus Poster, logger *slog.Logger) Device {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127), // Make temporary logger that does no logging.
		}))
	}
	dev := new(Pico2WDevice)
	dev.ref = cyw43439.NewPicoWDevice()
	dev.radio = &picoRadio{
		dev:    dev.ref,
		bus:    bus,
		logger: logger,
	}
	return dev
}

// Configure the indicator: the onboard LED is driven by the radio chip,
// so there is nothing to set up.
func (dev *Pico2WDevice) Configure() error {
	return nil
}

// SetColor of the onboard LED. The LED is monochrome: any color is "on".
func (dev *Pico2WDevice) SetColor(r, g, b uint8) error {
	return dev.ref.GPIOSet(0, r|g|b != 0)
}

// Radio returns the CYW43439 station radio.
func (dev *Pico2WDevice) Radio() Radio {
	return dev.radio
}

// Listen returns a TCP listener on the given port of the device stack.
func (dev *Pico2WDevice) Listen(port uint16) (net.Listener, error) {
	stack := dev.radio.Stack()
	if stack == nil {
		return nil, errNoStack
	}
	listener, err := stacks.NewTCPListener(stack, stacks.TCPListenerConfig{
		MaxConnections: 3,
		ConnTxBufSize:  512,
		ConnRxBufSize:  512,
	})
	if err != nil {
		return nil, err
	}
	if err = listener.StartListening(port); err != nil {
		return nil, err
	}
	return listener, nil
}

//----------------------------------------------------------------------

// picoRadio drives the CYW43439 in station mode. Joining and DHCP block,
// so a connect request runs them in a goroutine and reports the result
// as events.
type picoRadio struct {
	dev    *cyw43439.Device
	bus    Poster
	logger *slog.Logger

	mtx       sync.Mutex
	rcfg      RadioConfig
	cfg       *Config
	inited    bool // chip initialized (once per boot)
	active    bool // Init called, no Deinit yet
	started   bool
	connected bool
	gen       int // connect generation; stale joins are discarded
	stack     *stacks.PortStack
	lease     *DHCPLease
	leaseMtx  sync.Mutex
}

// Init the radio chip. The chip is only initialized once per boot.
func (r *picoRadio) Init(rcfg *RadioConfig) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if rcfg != nil {
		r.rcfg = *rcfg
	}
	if !r.inited {
		wificfg := cyw43439.DefaultWifiConfig()
		r.logger.Info("initializing pico W device...")
		devInitTime := time.Now()
		if err := r.dev.Init(wificfg); err != nil {
			return err
		}
		r.logger.Info("cyw43439:Init", slog.Duration("duration", time.Since(devInitTime)))
		r.inited = true
	}
	r.active = true
	return nil
}

// Deinit releases the interface.
func (r *picoRadio) Deinit() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.active {
		return ErrNotInit
	}
	r.active = false
	r.started = false
	r.connected = false
	r.gen++
	return nil
}

// SetMode of the radio (station only).
func (r *picoRadio) SetMode(m Mode) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.active {
		return ErrNotInit
	}
	if m != ModeStation {
		return errors.Join(ErrRadioConfig, errMode)
	}
	return nil
}

// SetCredentials for the next join.
func (r *picoRadio) SetCredentials(cfg *Config) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.active {
		return ErrNotInit
	}
	if cfg.AuthThreshold > AuthWPA2PSK {
		r.logger.Warn("auth threshold not supported, joining as WPA2", slog.String("auth", cfg.AuthThreshold.String()))
	}
	// the driver joins by SSID without a scan
	if cfg.ScanMethod != ScanAll || cfg.SortMethod != SortBySignal || cfg.MinRSSI > -127 {
		r.logger.Warn("scan settings ignored",
			slog.String("scan", cfg.ScanMethod.String()),
			slog.String("sort", cfg.SortMethod.String()),
			slog.Int("minRSSI", int(cfg.MinRSSI)),
		)
	}
	c := *cfg
	r.cfg = &c
	return nil
}

// Start the radio.
func (r *picoRadio) Start() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.active {
		return ErrNotInit
	}
	r.started = true
	return r.bus.Post(WifiEvent, LinkStarted, nil)
}

// Stop the radio.
func (r *picoRadio) Stop() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.active {
		return ErrNotInit
	}
	if !r.started {
		return ErrNotStarted
	}
	r.started = false
	r.connected = false
	r.gen++
	return r.bus.Post(WifiEvent, LinkStopped, nil)
}

// Connect starts a join in the background.
func (r *picoRadio) Connect() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.started {
		return ErrNotStarted
	}
	if r.cfg == nil {
		return ErrRadioConfig
	}
	r.gen++
	go r.join(r.gen, *r.cfg)
	return nil
}

// Disconnect discards the current association.
func (r *picoRadio) Disconnect() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.active {
		return ErrNotInit
	}
	if !r.started {
		return ErrNotStarted
	}
	r.gen++
	if !r.connected {
		return nil
	}
	r.connected = false
	return r.bus.Post(WifiEvent, LinkDisconnected, &DisconnectInfo{
		Reason: ReasonAssocLeave,
	})
}

// Stack returns the network stack (nil before the first join).
func (r *picoRadio) Stack() *stacks.PortStack {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.stack
}

// current returns true if gen is the current connect generation.
func (r *picoRadio) current(gen int) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return gen == r.gen && r.started
}

// post an event for a connect generation
func (r *picoRadio) post(gen int, id EventID, payload any) {
	if !r.current(gen) {
		return
	}
	class := WifiEvent
	if id == AddressAcquired {
		class = IPEvent
	}
	if err := r.bus.Post(class, id, payload); err != nil {
		r.logger.Error("post event failed", slog.String("err", err.Error()))
	}
}

// join the network and acquire an address.
func (r *picoRadio) join(gen int, cfg Config) {
	if len(cfg.Password) == 0 {
		r.logger.Info("joining open network:", slog.String("ssid", cfg.SSID))
	} else {
		r.logger.Info("joining WPA secure network", slog.String("ssid", cfg.SSID), slog.Int("passlen", len(cfg.Password)))
	}
	if err := r.dev.JoinWPA2(cfg.SSID, cfg.Password); err != nil {
		r.logger.Error("wifi join failed", slog.String("err", err.Error()))
		r.post(gen, LinkDisconnected, &DisconnectInfo{
			SSID:   cfg.SSID,
			Reason: ReasonNoAPFound,
		})
		return
	}
	mac, _ := r.dev.HardwareAddr6()
	r.logger.Info("wifi join success!", slog.String("mac", net.HardwareAddr(mac[:]).String()))
	r.mtx.Lock()
	r.connected = true
	r.mtx.Unlock()
	r.post(gen, LinkConnected, &LinkInfo{
		SSID:     cfg.SSID,
		AuthMode: AuthWPA2PSK,
	})

	info, err := r.acquire(mac)
	if err != nil {
		r.logger.Error("DHCP failed", slog.String("err", err.Error()))
		r.mtx.Lock()
		r.connected = false
		r.mtx.Unlock()
		r.post(gen, LinkDisconnected, &DisconnectInfo{SSID: cfg.SSID})
		return
	}
	r.post(gen, AddressAcquired, info)
}

// acquire an address on the device stack. Joins may overlap, so leases
// are serialized.
func (r *picoRadio) acquire(mac [6]byte) (*IPInfo, error) {
	r.mtx.Lock()
	rcfg := r.rcfg
	if r.stack == nil {
		r.stack = stacks.NewPortStack(stacks.PortStackConfig{
			MAC:             mac,
			MaxOpenPortsUDP: 1, // DHCP client
			MaxOpenPortsTCP: 1,
			MTU:             mtu,
			Logger:          r.logger,
		})
		r.dev.RecvEthHandle(r.stack.RecvEth)
		// Begin asynchronous packet handling.
		go nicLoop(r.dev, r.stack)
		r.lease = NewDHCPLease(r.stack, r.logger)
	}
	lease := r.lease
	r.mtx.Unlock()

	var reqAddr netip.Addr
	if rcfg.RequestedIP != "" {
		var err error
		if reqAddr, err = netip.ParseAddr(rcfg.RequestedIP); err != nil {
			return nil, err
		}
	}
	r.leaseMtx.Lock()
	defer r.leaseMtx.Unlock()
	return lease.Acquire(reqAddr, rcfg.Hostname)
}

// nicLoop moves packets between the radio and the stack.
func nicLoop(dev *cyw43439.Device, stack *stacks.PortStack) {
	// Maximum number of packets to queue before sending them.
	const (
		queueSize                = 3
		maxRetriesBeforeDropping = 3
	)
	var queue [queueSize][mtu]byte
	var lenBuf [queueSize]int
	var retries [queueSize]int
	markSent := func(i int) {
		lenBuf[i] = 0
		retries[i] = 0
	}
	for {
		stallRx := true
		gotPacket, err := dev.PollOne()
		if err != nil {
			println("poll error:", err.Error())
		}
		if gotPacket {
			stallRx = false
		}

		// Queue packets to be sent.
		for i := range queue {
			if retries[i] != 0 {
				continue // Packet currently queued for retransmission.
			}
			lenBuf[i], err = stack.HandleEth(queue[i][:])
			if err != nil {
				println("stack error n(should be 0)=", lenBuf[i], "err=", err.Error())
				lenBuf[i] = 0
				continue
			}
			if lenBuf[i] == 0 {
				break
			}
		}
		if lenBuf == [queueSize]int{} {
			if stallRx {
				// Avoid busy waiting when both Rx and Tx stall.
				time.Sleep(51 * time.Millisecond)
			}
			continue
		}

		// Send queued packets.
		for i := range queue {
			n := lenBuf[i]
			if n <= 0 {
				continue
			}
			if err := dev.SendEth(queue[i][:n]); err != nil {
				// Queue packet for retransmission.
				retries[i]++
				if retries[i] > maxRetriesBeforeDropping {
					markSent(i)
					println("dropped outgoing packet:", err.Error())
				}
			} else {
				markSent(i)
			}
		}
	}
}
