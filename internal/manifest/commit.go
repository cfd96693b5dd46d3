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

package manifest

import (
    "fmt"
    "strings"

    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
)

// StoreCommit wraps treeOid in a synthetic commit carrying parents (the
// manifest commits this revision's hg parents were mapped to) and the
// hg manifest node the commit stands in for, verbatim, as its message.
// The fixed author/committer identity keeps these commits from ever being
// mistaken for real history: nothing a user authored ever looks like
// this.
func StoreCommit(pw *pack.Writer, treeOid oid.Oid, parents []oid.Oid, hgNode oid.Oid) (oid.Oid, error) {
    var b strings.Builder
    fmt.Fprintf(&b, "tree %s\n", treeOid)
    for _, p := range parents {
        fmt.Fprintf(&b, "parent %s\n", p)
    }
    b.WriteString("author  <cinnabar@git> 0 +0000\n")
    b.WriteString("committer  <cinnabar@git> 0 +0000\n")
    b.WriteString("\n")
    b.WriteString(hgNode.String())

    id, _, err := pw.StoreObject(pack.TypeCommit, []byte(b.String()))
    if err != nil {
        return oid.Oid{}, fmt.Errorf("manifest: store commit: %w", err)
    }
    return id, nil
}
