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
	"errors"
	"net"
	"strings"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot = errors.New("no root directory")
	errNoFile = errors.New("no such file or directory")
	errNoDir  = errors.New("not a directory")
	errNoAbs  = errors.New("no absolute path")
	errExists = errors.New("file exists")
)

//----------------------------------------------------------------------

// Entry in the namespace
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Name of the entry
func (e *Entry) Name() string {
	return e.ref.Name
}

// Read the content of a file entry.
func (e *Entry) Read() ([]byte, error) {
	if e.file == nil {
		return nil, errNoFile
	}
	return e.file.Read()
}

//----------------------------------------------------------------------

// Namespace is a synthetic file system served via 9p. It is populated
// before serving and read-only afterwards.
type Namespace struct {
	ninep.NopFS                   // use default handlers where needed
	user, group string            // owner of all entries
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
	nextID      uint64            // next Qid.Path
}

// NewNamespace creates a new filesystem (with root directory) for the given
// user/group with the specified permissions.
func NewNamespace(user, group string, perm uint32) *Namespace {
	ns := &Namespace{
		user:  user,
		group: group,
		dict:  make(map[uint64]*Entry),
	}
	ns.newEntry("/", perm, nil)
	return ns
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	return ns.dict[0]
}

// Create a new entry. If impl is nil, the entry is a directory.
func (ns *Namespace) newEntry(name string, perm uint32, impl File) *Entry {
	e := new(Entry)
	kind := ninep.QTFile
	if impl == nil {
		kind = ninep.QTDir
		e.children = make(map[string]*Entry)
		perm |= ninep.DMDir
	} else {
		e.file = impl
	}
	e.ref = &ninep.Dir{
		Qid: ninep.Qid{
			Path: ns.nextID,
			Vers: 0,
			Type: byte(kind),
		},
		Name: name,
		Mode: perm,
		Uid:  ns.user,
		Gid:  ns.group,
		Muid: ns.user,
	}
	ns.dict[ns.nextID] = e
	ns.nextID++
	return e
}

// Get entry with given path
func (ns *Namespace) Get(path string) (*Entry, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, errNoAbs
	}
	curr := ns.Root()
	for _, label := range strings.Split(path[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if !curr.IsDir() {
			return nil, errNoDir
		}
		next, ok := curr.children[label]
		if !ok {
			return nil, errNoFile
		}
		curr = next
	}
	return curr, nil
}

// NewDir creates a directory at the absolute path; the parent must exist.
func (ns *Namespace) NewDir(path string, perm uint32) error {
	_, err := ns.add(path, perm, nil)
	return err
}

// NewFile creates a file at the absolute path; the parent must exist.
func (ns *Namespace) NewFile(path string, perm uint32, impl File) error {
	if impl == nil {
		impl = new(NopFile)
	}
	_, err := ns.add(path, perm, impl)
	return err
}

// add entry under its parent directory
func (ns *Namespace) add(path string, perm uint32, impl File) (*Entry, error) {
	path = strings.TrimRight(path, "/")
	pos := strings.LastIndex(path, "/")
	if pos < 0 {
		return nil, errNoAbs
	}
	parent, err := ns.Get(path[:pos+1])
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, errNoDir
	}
	name := path[pos+1:]
	if _, ok := parent.children[name]; ok {
		return nil, errExists
	}
	e := ns.newEntry(name, perm, impl)
	parent.children[name] = e
	return e, nil
}

// Serve the 9p protocol on connections accepted from the listener until
// the context is done (returns nil) or accepting fails. Every connection
// gets its own server, so fids are not shared between clients.
func (ns *Namespace) Serve(ctx context.Context, lst net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		lst.Close()
	})
	defer stop()
	for {
		c, err := lst.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		srv := ninep.NewSrv(func() ninep.FS { return ns })
		go srv.ServeIO(c, c)
	}
}

// ninep FS implementation

// Attach to 9p session
func (ns *Namespace) Attach(t *ninep.Tattach) {
	if e, ok := ns.dict[0]; ok {
		t.Respond(&e.ref.Qid)
	} else {
		t.Err(errNoRoot)
	}
}

// Walk to child entry with name "next".
func (ns *Namespace) Walk(cur *ninep.Qid, next string) *ninep.Qid {
	e, ok := ns.dict[cur.Path]
	if !ok || !e.IsDir() {
		return nil
	}
	if c, ok := e.children[next]; ok {
		return &c.ref.Qid
	}
	return nil
}

// Open entry for file operation
func (ns *Namespace) Open(t *ninep.Topen, q *ninep.Qid) {
	t.Respond(q, 8192)
}

// Read from entry. Either return the content of a file
// or the listing from a directory.
func (ns *Namespace) Read(t *ninep.Tread, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
		return
	}
	if e.IsDir() {
		var kids []ninep.Dir
		for _, c := range e.children {
			kids = append(kids, *c.ref)
		}
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.file.Read()
	if err != nil {
		t.Err(err)
	} else {
		ninep.ReadBuf(t, data)
	}
}

// Stat returns information for a filesytem entry.
func (ns *Namespace) Stat(t *ninep.Tstat, q *ninep.Qid) {
	e, ok := ns.dict[q.Path]
	if !ok {
		t.Err(errNoFile)
	} else {
		t.Respond(e.ref)
	}
}
