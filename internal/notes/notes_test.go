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

package notes

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
)

func mustOid(t *testing.T, s string) oid.Oid {
    t.Helper()
    o, err := oid.Parse(s)
    require.NoError(t, err)
    return o
}

func TestFlushEmptyMap(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    m := &Map{mode: GitLink, pw: pw, entries: make(map[oid.Oid]oid.Oid)}
    id, err := m.Flush()
    require.NoError(t, err)
    assert.False(t, id.IsNull()) // empty tree still hashes to a real oid
}

func TestPutGetRoundtrip(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    m := &Map{mode: GitLink, pw: pw, entries: make(map[oid.Oid]oid.Oid)}
    k := mustOid(t, "1111111111111111111111111111111111111111")
    v := mustOid(t, "2222222222222222222222222222222222222222")
    m.Put(k, v)

    got, ok := m.Get(k)
    require.True(t, ok)
    assert.Equal(t, v, got)

    _, err = m.Flush()
    require.NoError(t, err)
}

func TestPutBlobStoresContent(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    m := &Map{mode: Blob, pw: pw, entries: make(map[oid.Oid]oid.Oid)}
    k := mustOid(t, "3333333333333333333333333333333333333333")
    id, err := m.PutBlob(k, []byte("hello"))
    require.NoError(t, err)

    entry, ok := pw.Lookup(id)
    require.True(t, ok)
    assert.Equal(t, pack.TypeBlob, entry.Type)
}

func TestRemoveDropsEntry(t *testing.T) {
    dir := t.TempDir()
    pw, err := pack.NewWriter(dir, pack.DefaultWindowSize)
    require.NoError(t, err)
    defer pw.Abort()

    m := &Map{mode: GitLink, pw: pw, entries: make(map[oid.Oid]oid.Oid)}
    k := mustOid(t, "4444444444444444444444444444444444444444")
    m.Put(k, k)
    m.Remove(k)
    _, ok := m.Get(k)
    assert.False(t, ok)
}
