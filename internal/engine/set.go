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
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
)

// HandleSet dispatches one `set <kind> <hg-hex> <git-hex>` command.
func (e *Engine) HandleSet(kind, hgHex, gitHex string) error {
    if err := e.init(); err != nil {
        return err
    }
    switch kind {
    case "file":
        return e.setMapped(hgHex, gitHex, pack.TypeBlob, e.hg2git, nil)
    case "manifest":
        return e.setMapped(hgHex, gitHex, pack.TypeCommit, e.hg2git, e.manifestHeads)
    case "changeset":
        return e.setChangeset(hgHex, gitHex)
    case "changeset-metadata":
        return e.setChangesetMetadata(hgHex, gitHex)
    case "changeset-head":
        return e.setChangesetHead(hgHex, gitHex)
    case "file-meta":
        return e.setFileMeta(hgHex, gitHex)
    case "replace":
        return e.setReplace(hgHex, gitHex)
    default:
        return fmt.Errorf("engine: set: unknown kind %q", kind)
    }
}

// setMapped implements `set file`/`set manifest`: type-check the git
// object, record hg->git in hg2git and, for kinds that participate in a
// heads array (manifest only - changeset heads go through setChangeset,
// which also has to run collision remediation first), add it there too.
// A null git-hex means "remove the mapping" (spec.md §4.5), same as
// setChangesetMetadata/setFileMeta/setReplace; the heads set, which has
// no corresponding removal operation, is left untouched.
func (e *Engine) setMapped(hgHex, gitHex string, want pack.ObjectType, m interface {
    Put(oid.Oid, oid.Oid)
    Remove(oid.Oid)
}, heads *headSet) error {
    hgID, err := oid.Parse(hgHex)
    if err != nil {
        return err
    }
    if isNullHex(gitHex) {
        m.Remove(hgID)
        return nil
    }
    gitID, err := oid.Parse(gitHex)
    if err != nil {
        return err
    }
    if err := e.checkType(gitID, want); err != nil {
        return err
    }
    m.Put(hgID, gitID)
    if heads != nil {
        if err := e.ensureManifestHeadsSeeded(); err != nil {
            return err
        }
        parents, err := e.commitParents(gitID)
        if err != nil {
            return err
        }
        heads.Add(gitID, parents)
    }
    return nil
}

// setChangeset implements `set changeset`: type-checks, runs collision
// remediation (spec.md §4.5.1) before the mapping is considered final,
// records hg2git and updates changesetHeads. A null git-hex removes the
// hg2git mapping instead (spec.md §4.5); changesetHeads, which has no
// removal operation, is left untouched.
func (e *Engine) setChangeset(hgHex, gitHex string) error {
    hgID, err := oid.Parse(hgHex)
    if err != nil {
        return err
    }
    if isNullHex(gitHex) {
        e.hg2git.Remove(hgID)
        return nil
    }
    gitID, err := oid.Parse(gitHex)
    if err != nil {
        return err
    }
    if err := e.checkType(gitID, pack.TypeCommit); err != nil {
        return err
    }
    finalID, err := e.remediateCollision(gitID, hgID)
    if err != nil {
        return err
    }
    e.hg2git.Put(hgID, finalID)
    parents, err := e.commitParents(finalID)
    if err != nil {
        return err
    }
    e.changesetHeads.Add(finalID, parents)
    return nil
}

// remediateCollision implements spec.md §4.5.1: if a git object with id
// already carries git2hg metadata whose encoded source node differs from
// hgNode, the commit text is mutated (one NUL byte appended) and
// re-stored under a new id, looping until either git2hg has no entry for
// the candidate id or the entry decodes to hgNode itself. The original
// commit bytes are read exactly once; every iteration after that mutates
// the in-memory buffer rather than re-reading from the odb.
func (e *Engine) remediateCollision(id, hgNode oid.Oid) (oid.Oid, error) {
    content, err := e.objectContent(id)
    if err != nil {
        return oid.Oid{}, err
    }
    buf := append([]byte(nil), content...)
    candidate := id
    for {
        metaID, ok := e.git2hg.Get(candidate)
        if !ok {
            return candidate, nil
        }
        node, err := e.decodeChangesetNode(metaID)
        if err != nil {
            return oid.Oid{}, err
        }
        if node == hgNode {
            return candidate, nil
        }
        buf = append(buf, 0)
        newID, _, err := e.pw.StoreObject(pack.TypeCommit, buf)
        if err != nil {
            return oid.Oid{}, fmt.Errorf("engine: collision remediation: %w", err)
        }
        candidate = newID
    }
}

// decodeChangesetNode extracts the source hg node from the git2hg
// metadata blob named by metaID: by this engine's convention the first
// 20 bytes of that blob's content are always the source node, whatever
// structured metadata follows (see DESIGN.md's note on the git2hg content
// encoding, an Open Question the upstream design notes leave unspecified).
func (e *Engine) decodeChangesetNode(metaID oid.Oid) (oid.Oid, error) {
    content, err := e.objectContent(metaID)
    if err != nil {
        return oid.Oid{}, err
    }
    if len(content) < oid.RawSize {
        return oid.Oid{}, nil
    }
    n, err := oid.FromBytes(content[:oid.RawSize])
    return n, err
}

// setChangesetMetadata implements `set changeset-metadata`: gitHex names
// a blob already stored (typically via a preceding `store blob`) whose
// content is this changeset's metadata payload; setChangesetMetadata just
// records that blob's oid in git2hg keyed by the STORED git oid
// corresponding to hgHex (which must already be mapped - changeset
// metadata always follows `set changeset`). A null gitHex removes the
// entry.
func (e *Engine) setChangesetMetadata(hgHex, gitHex string) error {
    hgID, err := oid.Parse(hgHex)
    if err != nil {
        return err
    }
    mapped, ok := e.hg2git.Get(hgID)
    if !ok {
        return fmt.Errorf("engine: set changeset-metadata: %s is not mapped", hgHex)
    }
    if isNullHex(gitHex) {
        e.git2hg.Remove(mapped)
        return nil
    }
    metaID, err := oid.Parse(gitHex)
    if err != nil {
        return err
    }
    if err := e.checkType(metaID, pack.TypeBlob); err != nil {
        return err
    }
    e.git2hg.Put(mapped, metaID)
    return nil
}

// setChangesetHead is an external driver hook (add_changeset_head) that
// this engine does not implement: it only maintains hg<->git and
// notes-tree bookkeeping, never decides which changesets are "visible
// heads" for a higher-level tool. Logged and otherwise a no-op.
func (e *Engine) setChangesetHead(hgHex, gitHex string) error {
    e.log.WithField("hg", hgHex).WithField("git", gitHex).Debug("set changeset-head: no-op (external driver hook)")
    return nil
}

// setFileMeta implements `set file-meta`: files-meta is hg-keyed (unlike
// hg2git's git-valued entries, here the key itself is the hg file node,
// spec.md §4.2), storing content verbatim.
func (e *Engine) setFileMeta(hgHex, gitHex string) error {
    hgID, err := oid.Parse(hgHex)
    if err != nil {
        return err
    }
    if isNullHex(gitHex) {
        e.filesMeta.Remove(hgID)
        return nil
    }
    content, err := oid.Parse(gitHex)
    if err != nil {
        return err
    }
    if _, err := e.filesMeta.PutBlob(hgID, content.Bytes()); err != nil {
        return err
    }
    return nil
}

// setReplace implements `set replace`: the replace map is an oid->oid
// overlay applied by Resolve, with no type constraint on either side.
func (e *Engine) setReplace(oldHex, newHex string) error {
    oldID, err := oid.Parse(oldHex)
    if err != nil {
        return err
    }
    if isNullHex(newHex) {
        delete(e.replace, oldID)
        return nil
    }
    newID, err := oid.Parse(newHex)
    if err != nil {
        return err
    }
    e.replace[oldID] = newID
    return nil
}
