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

    "lab.nexedi.com/kirr/hg2git-helper/internal/notes"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
)

// HandleReset implements `reset <ref> <hex>`: a null hex deletes the ref,
// anything else force-updates it. Resetting HG2GIT_REF or NOTES_REF also
// reinitializes the corresponding in-memory notes map from the new tip
// (or clears it, on delete); resetting MANIFESTS_REF drops the cached
// manifest-heads seeding so it re-derives from the new tip on next use.
func (e *Engine) HandleReset(ref, hex string) error {
    if err := e.init(); err != nil {
        return err
    }
    e.requireExplicitTermination = true

    if isNullHex(hex) {
        if err := e.repo.References.Remove(ref); err != nil {
            return fmt.Errorf("engine: reset %s: %w", ref, err)
        }
        return e.afterReset(ref, oid.Oid{}, false)
    }

    id, err := oid.Parse(hex)
    if err != nil {
        return err
    }
    if err := e.updateRef(ref, id); err != nil {
        return err
    }
    return e.afterReset(ref, id, true)
}

func (e *Engine) afterReset(ref string, tip oid.Oid, has bool) error {
    var m *notes.Map
    switch ref {
    case HG2GIT_REF:
        m = e.hg2git
    case NOTES_REF:
        m = e.git2hg
    case FILES_META_REF:
        m = e.filesMeta
    case MANIFESTS_REF:
        e.manifestHeadsSeeded = false
        e.manifestHeads = &headSet{}
        e.lastManifestNode = oid.Oid{}
        e.lastManifestCommit = oid.Oid{}
        return nil
    default:
        return nil
    }
    if !has {
        m.Clear()
        return nil
    }
    if err := m.ResetFrom(tip); err != nil {
        return fmt.Errorf("engine: reset %s: %w", ref, err)
    }
    return nil
}
