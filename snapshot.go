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

	"github.com/fxamacker/cbor/v2"
)

// snapshot encoding: deterministic, integer keys
var (
	snapEnc cbor.EncMode
	snapDec cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	if snapEnc, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("snapshot encoder: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}
	if snapDec, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("snapshot decoder: %v", err))
	}
}

// Snapshot of the station for status consumers.
type Snapshot struct {
	State    string `cbor:"1,keyasint"`
	Retries  int    `cbor:"2,keyasint"`
	MaxRetry int    `cbor:"3,keyasint"`
	IP       string `cbor:"4,keyasint,omitempty"`
	Attempt  string `cbor:"5,keyasint,omitempty"`
	Reason   string `cbor:"6,keyasint,omitempty"`
	SSID     string `cbor:"7,keyasint,omitempty"`
}

// Snapshot returns the current status of the station.
func (s *Station) Snapshot() *Snapshot {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	snap := &Snapshot{
		State:    s.state.String(),
		Retries:  int(s.retries.Load()),
		MaxRetry: s.maxRetry,
	}
	if s.last.Status != Pending {
		snap.Attempt = s.last.Attempt.String()
	}
	if s.curr != nil {
		snap.Attempt = s.curr.id.String()
	}
	if s.state == StateConnected {
		snap.IP = s.last.IP.String()
	}
	if r := s.last.Reason(); r != ReasonNone && s.state == StateFailed {
		snap.Reason = r.String()
	}
	if s.link != nil {
		snap.SSID = s.link.SSID
	}
	return snap
}

// EncodeSnapshot to CBOR.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	return snapEnc.Marshal(snap)
}

// DecodeSnapshot from CBOR.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	snap := new(Snapshot)
	if err := snapDec.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
