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

import "fmt"

// namespace node to create
type node struct {
	path string
	impl File // nil for directories
}

// NewStatusNamespace returns a namespace exposing the station and the
// status light (if not nil):
//
//	/wifi/state        station state
//	/wifi/ip           acquired address (empty if not connected)
//	/wifi/retries      consecutive failed associations
//	/wifi/maxretry     retry ceiling
//	/wifi/outcome      outcome of the last attempt
//	/wifi/status.cbor  CBOR encoded snapshot
//	/led/color         current indicator color ("r g b")
func NewStatusNamespace(st *Station, sl *StatusLight, user, group string) (*Namespace, error) {
	ns := NewNamespace(user, group, 0555)
	list := []node{
		{"/wifi", nil},
		{"/wifi/state", NewValueFile(st.State)},
		{"/wifi/ip", NewFuncFile(func() ([]byte, error) {
			if st.State() != StateConnected {
				return nil, nil
			}
			return []byte(st.Last().IP.String() + "\n"), nil
		})},
		{"/wifi/retries", NewValueFile(st.Retries)},
		{"/wifi/maxretry", NewTextFile(fmt.Sprintf("%d\n", st.MaxRetry()))},
		{"/wifi/outcome", NewValueFile(st.Last)},
		{"/wifi/status.cbor", NewFuncFile(func() ([]byte, error) {
			return EncodeSnapshot(st.Snapshot())
		})},
	}
	if sl != nil {
		list = append(list,
			node{"/led", nil},
			node{"/led/color", NewValueFile(sl.Color)},
		)
	}
	for _, n := range list {
		var err error
		if n.impl == nil {
			err = ns.NewDir(n.path, 0555)
		} else {
			err = ns.NewFile(n.path, 0444, n.impl)
		}
		if err != nil {
			return nil, err
		}
	}
	return ns, nil
}
