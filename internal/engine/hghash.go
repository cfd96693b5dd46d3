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
    "bytes"
    "crypto/sha1"

    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
)

// hgHash reproduces Mercurial's revlog node hash: sha1(min(p1,p2) ++
// max(p1,p2) ++ text), parents ordered by byte value with the null node
// (20 zero bytes) standing in for a missing parent. This is only used by
// the optional CHECK_MANIFESTS consistency check, never by the
// reconstruction path itself - reconstructed manifests already carry
// their declared node id verbatim, this just catches a corrupt or
// mis-ordered input stream before it's committed.
func hgHash(p1, p2 oid.Oid, text []byte) oid.Oid {
    a, b := p1.Bytes(), p2.Bytes()
    if bytes.Compare(a, b) > 0 {
        a, b = b, a
    }
    h := sha1.New()
    h.Write(a)
    h.Write(b)
    h.Write(text)
    id, _ := oid.FromBytes(h.Sum(nil))
    return id
}
