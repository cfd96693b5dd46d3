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

package filerecon

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "lab.nexedi.com/kirr/hg2git-helper/internal/notes"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
    "lab.nexedi.com/kirr/hg2git-helper/internal/revchunk"
)

func mustOid(t *testing.T, s string) oid.Oid {
    t.Helper()
    o, err := oid.Parse(s)
    require.NoError(t, err)
    return o
}

func newTestMap(t *testing.T, pw *pack.Writer, mode notes.EntryMode) *notes.Map {
    t.Helper()
    m, err := notes.Open(nil, pw, mode, "refs/does/not/exist")
    require.NoError(t, err)
    return m
}

// TestReconstructEmptyFileSentinelIsNoOp covers boundary scenario #1: a
// chunk whose own node is the distinguished empty-file node must produce
// no pack growth and no hg2git entry.
func TestReconstructEmptyFileSentinelIsNoOp(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    hg2git := newTestMap(t, pw, notes.GitLink)
    filesMeta := newTestMap(t, pw, notes.Blob)
    r := New(nil, nil, pw, hg2git, filesMeta)

    sizeBefore := pw.Size()
    hdr := revchunk.Header{Node: EmptyFileNode}
    id, err := r.Reconstruct(hdr, oid.Oid{}, []revchunk.DiffPart{{Start: 0, End: 0, Data: []byte("ignored")}}, nil)
    require.NoError(t, err)
    assert.True(t, id.IsNull())
    assert.Equal(t, sizeBefore, pw.Size())

    _, ok := hg2git.Get(EmptyFileNode)
    assert.False(t, ok)
}

// TestReconstructFromScratch covers building a revision with no base (a
// genuinely new file), which must store a full object and record it.
func TestReconstructFromScratch(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    hg2git := newTestMap(t, pw, notes.GitLink)
    filesMeta := newTestMap(t, pw, notes.Blob)
    r := New(nil, nil, pw, hg2git, filesMeta)

    hdr := revchunk.Header{Node: mustOid(t, "1111111111111111111111111111111111111111")}
    parts := []revchunk.DiffPart{{Start: 0, End: 0, Data: []byte("hello\n")}}

    id, err := r.Reconstruct(hdr, oid.Oid{}, parts, nil)
    require.NoError(t, err)
    assert.False(t, id.IsNull())

    got, ok := hg2git.Get(hdr.Node)
    require.True(t, ok)
    assert.Equal(t, id, got)
}

// TestReconstructUsesLastFileCache checks that a second revision whose
// base is the immediately preceding one (the last-file cache entry) is
// spliced against that base's content and stored as a depth-1 delta
// against it.
func TestReconstructUsesLastFileCache(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    hg2git := newTestMap(t, pw, notes.GitLink)
    filesMeta := newTestMap(t, pw, notes.Blob)
    r := New(nil, nil, pw, hg2git, filesMeta)

    hdr1 := revchunk.Header{Node: mustOid(t, "1111111111111111111111111111111111111111")}
    parts1 := []revchunk.DiffPart{{Start: 0, End: 0, Data: []byte("line one\n")}}
    _, err = r.Reconstruct(hdr1, oid.Oid{}, parts1, nil)
    require.NoError(t, err)

    hdr2 := revchunk.Header{Node: mustOid(t, "2222222222222222222222222222222222222222")}
    parts2 := []revchunk.DiffPart{{Start: 9, End: 9, Data: []byte("line two\n")}}
    id2, err := r.Reconstruct(hdr2, hdr1.Node, parts2, nil)
    require.NoError(t, err)

    entry, ok := pw.Lookup(id2)
    require.True(t, ok)
    assert.Equal(t, "line one\nline two\n", string(entry.Content()))
    assert.Equal(t, 1, entry.Depth)
}

func TestReconstructMissingBaseErrors(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    hg2git := newTestMap(t, pw, notes.GitLink)
    filesMeta := newTestMap(t, pw, notes.Blob)
    r := New(nil, nil, pw, hg2git, filesMeta)

    hdr := revchunk.Header{Node: mustOid(t, "3333333333333333333333333333333333333333")}
    unknownBase := mustOid(t, "4444444444444444444444444444444444444444")
    _, err = r.Reconstruct(hdr, unknownBase, nil, nil)
    assert.Error(t, err)
}
