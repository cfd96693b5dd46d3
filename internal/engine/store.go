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

    "lab.nexedi.com/kirr/hg2git-helper/internal/manifest"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
    "lab.nexedi.com/kirr/hg2git-helper/internal/revchunk"
)

// chunkVersion maps the "base"/"cg2" token `store file`/`store manifest`
// take to a revchunk header version: "base" streams use the implicit,
// version-1 delta base (parent1 for a standalone chunk); "cg2" streams
// carry the explicit version-2 Base field.
func chunkVersion(token string) (int, error) {
    switch token {
    case "base":
        return 1, nil
    case "cg2":
        return 2, nil
    default:
        return 0, fmt.Errorf("engine: store: unknown chunk kind %q (want base or cg2)", token)
    }
}

// deltaBase resolves the hg node a chunk's diff parts apply against:
// explicit (hdr.Base) for version 2+, else the implicit version-1 rule -
// parent1, since a standalone `store file`/`store manifest` command is
// always the first (and only) chunk of its own sequence.
func deltaBase(version int, hdr revchunk.Header) oid.Oid {
    if version >= 2 {
        return hdr.Base
    }
    return hdr.P1
}

// StoreFile implements `store file <base|cg2> <length>`: raw is the
// length-prefixed chunk payload already read by the dispatcher.
func (e *Engine) StoreFile(token string, raw []byte) (oid.Oid, error) {
    if err := e.init(); err != nil {
        return oid.Oid{}, err
    }
    version, err := chunkVersion(token)
    if err != nil {
        return oid.Oid{}, err
    }
    hdr, rest, err := revchunk.ParseHeader(version, raw)
    if err != nil {
        return oid.Oid{}, err
    }
    parts, err := revchunk.ParseDiff(rest)
    if err != nil {
        return oid.Oid{}, err
    }
    base := deltaBase(version, hdr)
    return e.applyFileChunk(hdr, base, parts)
}

// applyFileChunk is the shared reconstruction step behind both a
// standalone `store file` command and a file section inside `store
// changegroup`.
func (e *Engine) applyFileChunk(hdr revchunk.Header, base oid.Oid, parts []revchunk.DiffPart) (oid.Oid, error) {
    return e.recon.Reconstruct(hdr, base, parts, nil)
}

// StoreManifest implements `store manifest <base|cg2> <length>`.
func (e *Engine) StoreManifest(token string, raw []byte) (oid.Oid, error) {
    if err := e.init(); err != nil {
        return oid.Oid{}, err
    }
    version, err := chunkVersion(token)
    if err != nil {
        return oid.Oid{}, err
    }
    hdr, rest, err := revchunk.ParseHeader(version, raw)
    if err != nil {
        return oid.Oid{}, err
    }
    parts, err := revchunk.ParseDiff(rest)
    if err != nil {
        return oid.Oid{}, err
    }
    base := deltaBase(version, hdr)
    return e.applyManifestChunk(hdr, base, parts)
}

// applyManifestChunk implements one manifest revision's reconstruction,
// spec.md §4.4: reset the manifest skeleton to base if it isn't already
// there, apply the diff, optionally verify the resulting text's hg hash,
// flush the resulting tree and wrap it in a commit recording hgNode and
// its (hg2git-mapped) parents, then register it as a manifest head.
func (e *Engine) applyManifestChunk(hdr revchunk.Header, base oid.Oid, parts []revchunk.DiffPart) (oid.Oid, error) {
    if err := e.ensureManifestHeadsSeeded(); err != nil {
        return oid.Oid{}, err
    }

    if !base.IsNull() && base != e.lastManifestNode {
        baseCommit, ok := e.hg2git.Get(base)
        if !ok {
            return oid.Oid{}, fmt.Errorf("engine: manifest: no stored commit for base %s", base)
        }
        if err := e.manifestTree.ResetFromCommit(e.repo, baseCommit); err != nil {
            return oid.Oid{}, fmt.Errorf("engine: manifest: reset to base %s: %w", base, err)
        }
        e.lastManifestNode = base
        e.lastManifestCommit = baseCommit
    }

    text, err := e.manifestTree.ApplyDiff(parts)
    if err != nil {
        return oid.Oid{}, err
    }

    if e.checkFlags&CheckManifests != 0 {
        if got := hgHash(hdr.P1, hdr.P2, text); got != hdr.Node {
            return oid.Oid{}, fmt.Errorf("engine: manifest: hash mismatch for %s (computed %s)", hdr.Node, got)
        }
    }

    treeOid, err := e.manifestTree.Flush()
    if err != nil {
        return oid.Oid{}, err
    }

    var parents []oid.Oid
    for _, p := range []oid.Oid{hdr.P1, hdr.P2} {
        if p.IsNull() {
            continue
        }
        if p == e.lastManifestNode {
            parents = append(parents, e.lastManifestCommit)
            continue
        }
        mapped, ok := e.hg2git.Get(p)
        if !ok {
            return oid.Oid{}, fmt.Errorf("engine: manifest: no stored commit for parent %s", p)
        }
        parents = append(parents, mapped)
    }

    commitOid, err := manifest.StoreCommit(e.pw, treeOid, parents, hdr.Node)
    if err != nil {
        return oid.Oid{}, err
    }

    e.hg2git.Put(hdr.Node, commitOid)
    e.manifestHeads.Add(commitOid, parents)
    e.lastManifestNode = hdr.Node
    e.lastManifestCommit = commitOid
    return commitOid, nil
}

// StoreBlob implements `store blob <length>`: raw content goes straight
// into the pack. Whether the content happens to be empty is not special-
// cased - pack.Writer.store already dedups by content hash, so the first
// time the empty blob is stored (from any source: an empty file
// revision, explicit `store blob` with length 0) it is written once and
// every later reference reuses the same entry.
func (e *Engine) StoreBlob(raw []byte) (oid.Oid, error) {
    if err := e.init(); err != nil {
        return oid.Oid{}, err
    }
    id, _, err := e.pw.StoreObject(pack.TypeBlob, raw)
    if err != nil {
        return oid.Oid{}, fmt.Errorf("engine: store blob: %w", err)
    }
    return id, nil
}

// StoreMetadata implements `store metadata <which>`.
func (e *Engine) StoreMetadata(which string) (oid.Oid, error) {
    if err := e.init(); err != nil {
        return oid.Oid{}, err
    }
    switch which {
    case "hg2git":
        return e.flushNotesCommit(e.hg2git, HG2GIT_REF)
    case "git2hg":
        return e.flushNotesCommit(e.git2hg, NOTES_REF)
    case "files-meta":
        return e.flushNotesCommit(e.filesMeta, FILES_META_REF)
    case "manifests":
        return e.flushManifestsCommit()
    default:
        return oid.Oid{}, fmt.Errorf("engine: store metadata: unknown kind %q", which)
    }
}
