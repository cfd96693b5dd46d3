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
    "strings"

    "lab.nexedi.com/kirr/hg2git-helper/internal/notes"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
)

// metadataSignature is the fixed author/committer line every metadata
// commit (hg2git, git2hg, files-meta, manifests) carries - unlike a
// per-manifest-revision commit, whose body holds the hg source node,
// these bookkeeping commits have no useful "when"/"who" and no body at
// all, so the whole signature is a constant.
const metadataSignature = "<cinnabar@git> 0 +0000"

// metadataCommit builds and stores a commit object with an empty body,
// pointing at tree, with the given parents in order - the shape every
// `store metadata <which>` flush uses to wrap a notes tree or the
// manifest skeleton into something a ref can point at.
func metadataCommit(pw *pack.Writer, treeOid oid.Oid, parents []oid.Oid) (oid.Oid, error) {
    var b strings.Builder
    fmt.Fprintf(&b, "tree %s\n", treeOid)
    for _, p := range parents {
        fmt.Fprintf(&b, "parent %s\n", p)
    }
    fmt.Fprintf(&b, "author %s\n", metadataSignature)
    fmt.Fprintf(&b, "committer %s\n", metadataSignature)
    b.WriteString("\n")
    id, _, err := pw.StoreObject(pack.TypeCommit, []byte(b.String()))
    if err != nil {
        return oid.Oid{}, fmt.Errorf("engine: metadata commit: %w", err)
    }
    return id, nil
}

// refTip returns the commit oid ref currently points at, and whether ref
// exists at all.
func (e *Engine) refTip(ref string) (oid.Oid, bool, error) {
    r, err := e.repo.References.Lookup(ref)
    if err != nil {
        return oid.Oid{}, false, fmt.Errorf("engine: ref tip %s: %w", ref, err)
    }
    if r == nil {
        return oid.Oid{}, false, nil
    }
    id, err := oid.FromBytes(r.Target()[:])
    if err != nil {
        return oid.Oid{}, false, err
    }
    return id, true, nil
}

// flushNotesCommit wraps m's current tree into a metadata commit chained
// onto ref's existing tip, updates ref, and returns the new tip - unless m
// isn't dirty, in which case it returns ref's existing tip untouched
// (spec.md §4.5 "store metadata": a flush of an unmodified map is a
// no-op that just reports what's already there).
func (e *Engine) flushNotesCommit(m *notes.Map, ref string) (oid.Oid, error) {
    tip, hasTip, err := e.refTip(ref)
    if err != nil {
        return oid.Oid{}, err
    }
    if !m.Dirty() {
        return tip, nil
    }
    treeOid, err := m.Flush()
    if err != nil {
        return oid.Oid{}, err
    }
    var parents []oid.Oid
    if hasTip {
        parents = []oid.Oid{tip}
    }
    commitOid, err := metadataCommit(e.pw, treeOid, parents)
    if err != nil {
        return oid.Oid{}, err
    }
    if err := e.updateRef(ref, commitOid); err != nil {
        return oid.Oid{}, err
    }
    m.ClearDirty()
    return commitOid, nil
}

// flushManifestsCommit is flushNotesCommit's analogue for the manifest
// skeleton: tree is always the empty tree (manifests carry no content of
// their own - every manifest revision is itself a commit, reachable only
// through manifestHeads as this commit's parents), and every head in
// manifestHeads becomes a parent, not just the single previous tip.
//
// The resulting commit's oid is also published to MANIFESTS_TIP_REF
// (SUPPLEMENTED FEATURE: a driver hook that only ever needs "the last
// manifest skeleton commit" can read one ref instead of walking
// MANIFESTS_REF's parent list every time).
func (e *Engine) flushManifestsCommit() (oid.Oid, error) {
    if err := e.ensureManifestHeadsSeeded(); err != nil {
        return oid.Oid{}, err
    }
    if !e.manifestHeads.Dirty() {
        tip, hasTip, err := e.refTip(MANIFESTS_TIP_REF)
        if err != nil {
            return oid.Oid{}, err
        }
        if hasTip {
            return tip, nil
        }
        fallback, _, ferr := e.refTip(MANIFESTS_REF)
        return fallback, ferr
    }
    emptyTree, _, err := e.pw.StoreObject(pack.TypeTree, nil)
    if err != nil {
        return oid.Oid{}, err
    }
    commitOid, err := metadataCommit(e.pw, emptyTree, e.manifestHeads.Sorted())
    if err != nil {
        return oid.Oid{}, err
    }
    if err := e.updateRef(MANIFESTS_REF, commitOid); err != nil {
        return oid.Oid{}, err
    }
    if err := e.updateRef(MANIFESTS_TIP_REF, commitOid); err != nil {
        return oid.Oid{}, err
    }
    e.manifestHeads.ClearDirty()
    return commitOid, nil
}
