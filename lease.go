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
	"net/netip"
	"time"

	"github.com/soypat/seqs/eth/dhcp"
	"github.com/soypat/seqs/stacks"
)

// DHCP errors
var (
	errDHCPReq   = errors.New("DHCP request failed")
	errDHCPReply = errors.New("no DHCP reply")
)

// DHCPLease acquires addresses for a port stack. All requests share the
// DHCP client port; a request that does not end bound releases it.
type DHCPLease struct {
	Polls    int           // number of state polls before giving up
	Interval time.Duration // time between polls

	stack  *stacks.PortStack
	client *stacks.DHCPClient
	logger *slog.Logger
}

// NewDHCPLease returns a lease handler for the stack.
func NewDHCPLease(stack *stacks.PortStack, logger *slog.Logger) *DHCPLease {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DHCPLease{
		Polls:    16,
		Interval: time.Second / 2,
		stack:    stack,
		logger:   logger,
	}
}

// Acquire an address via DHCP. If DHCP does not complete, the requested
// address (if valid) is used as static address.
func (l *DHCPLease) Acquire(reqAddr netip.Addr, hostname string) (*IPInfo, error) {
	l.Release()
	client := stacks.NewDHCPClient(l.stack, dhcp.DefaultClientPort)
	err := client.BeginRequest(stacks.DHCPRequestConfig{
		RequestedAddr: reqAddr,
		Xid:           uint32(time.Now().Nanosecond()) | 1,
		Hostname:      hostname,
	})
	if err != nil {
		return nil, errors.Join(errDHCPReq, err)
	}
	l.client = client
	for i := 0; client.State() != dhcp.StateBound; i++ {
		if i >= l.Polls {
			l.Release()
			if !reqAddr.IsValid() {
				return nil, errDHCPReply
			}
			l.logger.Info("DHCP did not complete, assigning static IP", slog.String("ip", reqAddr.String()))
			l.stack.SetAddr(reqAddr)
			return &IPInfo{IP: reqAddr}, nil
		}
		l.logger.Debug("DHCP ongoing...")
		time.Sleep(l.Interval)
	}
	ip := client.Offer()
	l.logger.Info("DHCP complete",
		slog.Uint64("cidrbits", uint64(client.CIDRBits())),
		slog.String("ourIP", ip.String()),
		slog.String("gateway", client.Gateway().String()),
		slog.String("router", client.Router().String()),
		slog.Duration("lease", client.IPLeaseTime()),
	)
	l.stack.SetAddr(ip) // It's important to set the IP address after DHCP completes.
	info := &IPInfo{
		IP:      ip,
		Gateway: client.Gateway(),
	}
	if bits := int(client.CIDRBits()); bits > 0 && bits <= 32 {
		info.Netmask = netmask(bits)
	}
	return info, nil
}

// Release aborts a pending request and frees the client port.
func (l *DHCPLease) Release() {
	if l.client == nil {
		return
	}
	l.client.Abort()
	// the port may already be closed by the stack
	_ = l.stack.CloseUDP(l.client.LocalPort())
	l.client = nil
}

// netmask of an IPv4 prefix length.
func netmask(bits int) netip.Addr {
	m := ^uint32(0) << (32 - bits)
	return netip.AddrFrom4([4]byte{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)})
}
