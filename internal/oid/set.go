// Copyright (C) 2015-2016  Nexedi SA and Contributors.
//                          Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.

// Git-backup | Set "template" type, specialized to Oid
package oid

// Set<Oid>
type Set map[Oid]struct{}

func (s Set) Add(v Oid) {
    s[v] = struct{}{}
}

func (s Set) Contains(v Oid) bool {
    _, ok := s[v]
    return ok
}

// all elements of set as slice
func (s Set) Elements() []Oid {
    ev := make([]Oid, len(s))
    i := 0
    for e := range s {
        ev[i] = e
        i++
    }
    return ev
}
