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
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

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

func line40(path string, node oid.Oid, attr string) string {
    return path + "\x00" + node.String() + attr + "\n"
}

func TestMangleDemangleRoundtrip(t *testing.T) {
    for _, s := range []string{"foo", "_foo", "__weird", "", "a.c"} {
        got, err := Demangle(Mangle(s))
        require.NoError(t, err)
        assert.Equal(t, s, got)
    }
}

func TestParseTextRoundtrip(t *testing.T) {
    n1 := mustOid(t, "1111111111111111111111111111111111111111")
    n2 := mustOid(t, "2222222222222222222222222222222222222222")
    text := line40("dir/file.txt", n1, "") + line40("exec.sh", n2, "x")

    entries, err := ParseText([]byte(text))
    require.NoError(t, err)
    require.Len(t, entries, 2)
    assert.Equal(t, n1, entries["dir/file.txt"].Node)
    assert.Equal(t, ModeRegular, entries["dir/file.txt"].Mode)
    assert.Equal(t, ModeExecutable, entries["exec.sh"].Mode)
}

func newTestTree(t *testing.T) (*Tree, func()) {
    t.Helper()
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    return New(pw), func() { pw.Abort() }
}

// TestApplyDiffFirstRevision covers building a manifest from nothing: a
// single part spliced in at (0,0) against a nil base.
func TestApplyDiffFirstRevision(t *testing.T) {
    tree, cleanup := newTestTree(t)
    defer cleanup()

    n1 := mustOid(t, "1111111111111111111111111111111111111111")
    payload := line40("a.txt", n1, "")
    text, err := tree.ApplyDiff([]revchunk.DiffPart{{Start: 0, End: 0, Data: []byte(payload)}})
    require.NoError(t, err)
    assert.Equal(t, payload, string(text))

    rootOid, err := tree.Flush()
    require.NoError(t, err)
    assert.False(t, rootOid.IsNull())
}

// TestApplyDiffTwoPassOrdering applies one part whose removed slice (the
// whole previous text, the "foo" line) and whose payload (a "bar" line)
// go through the removal pass and the addition pass respectively: the
// end result must contain "bar" and no longer contain "foo".
func TestApplyDiffTwoPassOrdering(t *testing.T) {
    tree, cleanup := newTestTree(t)
    defer cleanup()

    nFoo := mustOid(t, "1111111111111111111111111111111111111111")
    nBar := mustOid(t, "2222222222222222222222222222222222222222")
    fooLine := line40("foo", nFoo, "")
    initial := fooLine
    _, err := tree.ApplyDiff([]revchunk.DiffPart{{Start: 0, End: 0, Data: []byte(initial)}})
    require.NoError(t, err)

    barLine := line40("bar", nBar, "")
    parts := []revchunk.DiffPart{
        // remove "foo" entirely (the whole previous text), add "bar" in its place
        {Start: 0, End: int64(len(initial)), Data: []byte(barLine)},
    }
    text, err := tree.ApplyDiff(parts)
    require.NoError(t, err)
    assert.Equal(t, barLine, string(text))

    entries := make(map[string]Entry)
    require.NoError(t, collectEntries(tree.root, "", entries))
    _, hasFoo := entries["foo"]
    assert.False(t, hasFoo)
    _, hasBar := entries["bar"]
    assert.True(t, hasBar)
}

// TestApplyDiffRejectsMisalignedBoundary exercises the line-boundary
// validation: a diff part starting mid-line must be rejected.
func TestApplyDiffRejectsMisalignedBoundary(t *testing.T) {
    tree, cleanup := newTestTree(t)
    defer cleanup()

    n1 := mustOid(t, "1111111111111111111111111111111111111111")
    initial := line40("a.txt", n1, "")
    _, err := tree.ApplyDiff([]revchunk.DiffPart{{Start: 0, End: 0, Data: []byte(initial)}})
    require.NoError(t, err)

    _, err = tree.ApplyDiff([]revchunk.DiffPart{{Start: 3, End: int64(len(initial)), Data: nil}})
    assert.Error(t, err)
}

func TestRenderRoundtrip(t *testing.T) {
    tree, cleanup := newTestTree(t)
    defer cleanup()

    n1 := mustOid(t, "3333333333333333333333333333333333333333")
    n2 := mustOid(t, "4444444444444444444444444444444444444444")
    payload := line40("a.txt", n1, "") + line40("dir/b.txt", n2, "x")
    text, err := tree.ApplyDiff([]revchunk.DiffPart{{Start: 0, End: 0, Data: []byte(payload)}})
    require.NoError(t, err)
    _, err = tree.Flush()
    require.NoError(t, err)

    rendered, err := tree.Render()
    require.NoError(t, err)
    assert.Equal(t, string(text), string(rendered))
}

func TestApplyPrunesEmptyDirectories(t *testing.T) {
    tree, cleanup := newTestTree(t)
    defer cleanup()

    n1 := mustOid(t, "5555555555555555555555555555555555555555")
    initial := line40("dir/only.txt", n1, "")
    _, err := tree.ApplyDiff([]revchunk.DiffPart{{Start: 0, End: 0, Data: []byte(initial)}})
    require.NoError(t, err)
    _, err = tree.Flush()
    require.NoError(t, err)

    _, err = tree.ApplyDiff([]revchunk.DiffPart{{Start: 0, End: int64(len(initial)), Data: nil}})
    require.NoError(t, err)
    _, err = tree.Flush()
    require.NoError(t, err)

    _, ok := tree.root.children[Mangle("dir")]
    assert.False(t, ok, "now-empty directory must be pruned")
}

func TestStoreCommitFormat(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    treeOid := mustOid(t, "6666666666666666666666666666666666666666")
    parent := mustOid(t, "7777777777777777777777777777777777777777")
    hgNode := mustOid(t, "8888888888888888888888888888888888888888")

    id, err := StoreCommit(pw, treeOid, []oid.Oid{parent}, hgNode)
    require.NoError(t, err)

    entry, ok := pw.Lookup(id)
    require.True(t, ok)
    body := string(entry.Content())
    assert.True(t, strings.HasPrefix(body, "tree "+treeOid.String()+"\n"))
    assert.Contains(t, body, "parent "+parent.String()+"\n")
    assert.True(t, strings.HasSuffix(body, hgNode.String()))
}
