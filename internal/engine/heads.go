// Copyright (C) 2025  Nexedi SA and Contributors.
//                     Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.

package engine

import (
    "sort"

    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
)

// headSet is a sorted set of topmost commit oids for one DAG (changesets
// or manifests). Adding a new head prunes its direct parents from the
// set - they are no longer topmost once a descendant is known - without
// walking full ancestry, matching the shallow, direct-parent-only pruning
// the dispatcher needs.
type headSet struct {
    ids   []oid.Oid
    dirty bool
}

// Add records id as a head, removing any of parents that were
// previously tracked as heads themselves.
func (h *headSet) Add(id oid.Oid, parents []oid.Oid) {
    prune := make(map[oid.Oid]bool, len(parents))
    for _, p := range parents {
        if !p.IsNull() {
            prune[p] = true
        }
    }
    kept := h.ids[:0]
    present := false
    for _, x := range h.ids {
        if prune[x] {
            continue
        }
        if x == id {
            present = true
        }
        kept = append(kept, x)
    }
    h.ids = kept
    if !present {
        h.ids = append(h.ids, id)
    }
    sort.Sort(oid.By(h.ids))
    h.dirty = true
}

// Sorted returns the current head set, already sorted.
func (h *headSet) Sorted() []oid.Oid { return h.ids }

func (h *headSet) Dirty() bool { return h.dirty }

func (h *headSet) ClearDirty() { h.dirty = false }
