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

// Package filerecon reconstructs plain file revisions from revlog delta
// chunks into git blobs. Each chunk's base is resolved, in order of
// preference, against: the single-entry "last file" cache (the common
// case - changegroups stream each file's revisions back to back, each
// one's delta almost always against its immediate predecessor), the
// hg2git note map plus this run's own pack (a base written earlier in the
// same engine run but not the immediately preceding chunk), or finally
// the target repository's existing object store (a base installed in an
// earlier run).
package filerecon

import (
    "fmt"

    "lab.nexedi.com/kirr/hg2git-helper/internal/git"
    "lab.nexedi.com/kirr/hg2git-helper/internal/notes"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
    "lab.nexedi.com/kirr/hg2git-helper/internal/revchunk"
)

// Reconstructor turns (header, diff parts) chunks for one file path into
// stored git blobs, keyed in the hg2git note map by the file's hg node id.
type Reconstructor struct {
    repo      *git.Repository
    odb       *git.Odb
    pw        *pack.Writer
    hg2git    *notes.Map
    filesMeta *notes.Map

    lastHgID    oid.Oid
    lastEntry   *pack.ObjectEntry
    lastContent []byte
}

func New(repo *git.Repository, odb *git.Odb, pw *pack.Writer, hg2git, filesMeta *notes.Map) *Reconstructor {
    return &Reconstructor{repo: repo, odb: odb, pw: pw, hg2git: hg2git, filesMeta: filesMeta}
}

// EmptyFileNode is the distinguished hg node id (the null node, reused
// the way Mercurial's own nullid does double duty elsewhere) that marks
// a revision as the well-known empty file without carrying any actual
// chunk. Reconstruct recognizes it and short-circuits completely: no
// pack growth, no hg2git entry - there is nothing to map, since nothing
// in the pack needs to represent "the empty file" more than once, and
// callers that need the empty blob's oid already know it (the baseline
// hash algorithm's well-known empty-blob constant).
var EmptyFileNode = oid.Oid{}

// Reconstruct applies parts against baseHgID's content (the null oid
// means "no base": the revision is built from scratch) and stores the
// resulting blob. meta, if non-empty, is recorded verbatim in the
// files-meta note (Mercurial's per-revision copy-source metadata); most
// revisions carry none.
func (r *Reconstructor) Reconstruct(hdr revchunk.Header, baseHgID oid.Oid, parts []revchunk.DiffPart, meta []byte) (oid.Oid, error) {
    if hdr.Node == EmptyFileNode {
        return oid.Oid{}, nil
    }
    base, baseEntry, err := r.resolveBase(baseHgID)
    if err != nil {
        return oid.Oid{}, err
    }
    content, ops, err := revchunk.Apply(base, parts)
    if err != nil {
        return oid.Oid{}, fmt.Errorf("filerecon: %s: %w", hdr.Node, err)
    }

    var gitID oid.Oid
    var entry *pack.ObjectEntry
    if baseEntry != nil {
        gitID, entry, err = r.pw.StoreDelta(pack.TypeBlob, content, baseEntry, ops)
    } else {
        gitID, entry, err = r.pw.StoreObject(pack.TypeBlob, content)
    }
    if err != nil {
        return oid.Oid{}, err
    }

    r.hg2git.Put(hdr.Node, gitID)
    if len(meta) > 0 {
        if _, err := r.filesMeta.PutBlob(hdr.Node, meta); err != nil {
            return oid.Oid{}, err
        }
    }

    r.lastHgID = hdr.Node
    r.lastEntry = entry
    r.lastContent = content
    return gitID, nil
}

func (r *Reconstructor) resolveBase(baseHgID oid.Oid) ([]byte, *pack.ObjectEntry, error) {
    if baseHgID.IsNull() {
        return nil, nil, nil
    }
    if baseHgID == r.lastHgID && r.lastContent != nil {
        return r.lastContent, r.lastEntry, nil
    }

    gitID, ok := r.hg2git.Get(baseHgID)
    if !ok {
        return nil, nil, fmt.Errorf("filerecon: no git mapping for file node %s", baseHgID)
    }
    if e, ok := r.pw.Lookup(gitID); ok {
        return e.Content(), e, nil
    }

    gid, err := git.ParseOid(gitID.String())
    if err != nil {
        return nil, nil, err
    }
    obj, err := r.odb.Read(gid)
    if err != nil {
        return nil, nil, fmt.Errorf("filerecon: read base blob %s: %w", gitID, err)
    }
    return obj.Data(), nil, nil
}
