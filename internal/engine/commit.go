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
    "fmt"

    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
)

// HandleCommit implements `commit <ref>`. The real driver's parse_new_commit
// reads an arbitrary fast-import commit body (author/committer/data/
// from/merge lines) off the wire; that mini-language is a collaborator
// contract this engine treats as out of scope (spec.md scopes command
// transport as "a library boundary"). The only refs this dispatcher ever
// commits onto are the four metadata refs, and for those the "new
// commit" is always exactly what a metadata flush already produces, so
// `commit <ref>` is implemented as the corresponding `store metadata`
// flush followed by the ref update and (for notes refs) a reload - an
// Open Question resolution recorded in DESIGN.md.
func (e *Engine) HandleCommit(ref string) (oid.Oid, error) {
    if err := e.init(); err != nil {
        return oid.Oid{}, err
    }
    e.requireExplicitTermination = true

    which, ok := refToMetadataKind(ref)
    if !ok {
        return oid.Oid{}, fmt.Errorf("engine: commit: unsupported ref %q", ref)
    }
    id, err := e.StoreMetadata(which)
    if err != nil {
        return oid.Oid{}, err
    }
    if ref == HG2GIT_REF || ref == NOTES_REF {
        if err := e.afterReset(ref, id, true); err != nil {
            return oid.Oid{}, err
        }
    }
    return id, nil
}
