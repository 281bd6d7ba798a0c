//----------------------------------------------------------------------
// This file is part of fundebazi.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// fundebazi is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// fundebazi is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package fundebazi

import (
	"errors"
	"log/slog"
	"maps"
	"net"
	"path"
	"slices"
	"strings"

	"git.sr.ht/~moody/ninep"
)

// Error messages
var (
	errNoRoot  = errors.New("no root directory")
	errNoFile  = errors.New("no such file or directory")
	errNoDir   = errors.New("not a directory")
	errNoAbs   = errors.New("no absolute path")
	errExists  = errors.New("file exists")
	errStopped = errors.New("firmware stopped")
)

//----------------------------------------------------------------------

// Entry in the filesystem
type Entry struct {
	ref      *ninep.Dir        // 9p reference
	children map[string]*Entry // list of children (for folders) or nil
	file     File              // file implementation or nil (for folders)
}

// IsDir returns true if entry is a directory
func (e *Entry) IsDir() bool {
	return e.children != nil
}

// Read the content of a file entry.
func (e *Entry) Read() ([]byte, error) {
	if e.file == nil {
		return nil, errNoFile
	}
	return e.file.Read()
}

//----------------------------------------------------------------------

// Namespace is a read-only synthetic file system. It is built before it
// is served and not changed afterwards; file content may be dynamic.
type Namespace struct {
	ninep.NopFS                   // use default handlers where needed
	user, group string            // owner of all entries
	dict        map[uint64]*Entry // map Qid.Path to filesystem entry
	nextID      uint64            // next identifier (Qid.Path)
}

// NewNamespace creates a new filesystem (with root directory) owned by
// the given user/group.
func NewNamespace(user, group string) *Namespace {
	ns := &Namespace{
		user:  user,
		group: group,
		dict:  make(map[uint64]*Entry),
	}
	ns.add(nil, "/", 0555, nil)
	return ns
}

// Root returns the entry of the root directory
func (ns *Namespace) Root() *Entry {
	return ns.dict[0]
}

// NewDir creates a directory at the given absolute path.
func (ns *Namespace) NewDir(p string, perm uint32) error {
	return ns.create(p, perm, nil)
}

// NewFile creates a file at the given absolute path.
func (ns *Namespace) NewFile(p string, perm uint32, impl File) error {
	if impl == nil {
		return errNoFile
	}
	return ns.create(p, perm, impl)
}

// create an entry; the parent directory must exist.
func (ns *Namespace) create(p string, perm uint32, impl File) error {
	if !strings.HasPrefix(p, "/") {
		return errNoAbs
	}
	dir, name := path.Split(path.Clean(p))
	if name == "" {
		return errExists
	}
	parent, err := ns.Get(dir)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return errNoDir
	}
	if _, ok := parent.children[name]; ok {
		return errExists
	}
	ns.add(parent, name, perm, impl)
	return nil
}

// add a new entry to parent (nil for the root).
// If impl is nil, the entry represents a directory; otherwise a file.
func (ns *Namespace) add(parent *Entry, name string, perm uint32, impl File) *Entry {
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
	ns.nextID++
	ns.dict[e.ref.Path] = e
	if parent != nil {
		parent.children[name] = e
	}
	return e
}

// Get entry with given path
func (ns *Namespace) Get(p string) (*Entry, error) {
	if !strings.HasPrefix(p, "/") {
		return nil, errNoAbs
	}
	curr := ns.Root()
	for _, label := range strings.Split(p[1:], "/") {
		if len(label) == 0 {
			continue
		}
		if !curr.IsDir() {
			return nil, errNoDir
		}
		qid := ns.Walk(&curr.ref.Qid, label)
		if qid == nil {
			return nil, errNoFile
		}
		curr = ns.dict[qid.Path]
	}
	return curr, nil
}

// Serve the 9p protocol on all connections accepted by the listener.
// Returns when the listener is closed.
func (ns *Namespace) Serve(lst net.Listener, log *slog.Logger) error {
	for {
		c, err := lst.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.Debug("9p session", slog.String("remote", c.RemoteAddr().String()))
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
	if !ok {
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
		for _, name := range slices.Sorted(maps.Keys(e.children)) {
			kids = append(kids, *e.children[name].ref)
		}
		ninep.ReadDir(t, kids)
		return
	}
	data, err := e.Read()
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
