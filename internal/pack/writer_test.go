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

package pack

import (
    "bytes"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestStoreObjectDedup(t *testing.T) {
    dir := t.TempDir()
    w, err := NewWriter(dir, DefaultWindowSize)
    require.NoError(t, err)
    defer w.Abort()

    id1, e1, err := w.StoreObject(TypeBlob, []byte("hello world"))
    require.NoError(t, err)
    id2, e2, err := w.StoreObject(TypeBlob, []byte("hello world"))
    require.NoError(t, err)

    assert.Equal(t, id1, id2)
    assert.Same(t, e1, e2)
}

func TestStoreDeltaUsesBase(t *testing.T) {
    dir := t.TempDir()
    w, err := NewWriter(dir, DefaultWindowSize)
    require.NoError(t, err)
    defer w.Abort()

    base := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 50)
    _, baseEntry, err := w.StoreObject(TypeBlob, base)
    require.NoError(t, err)

    target := append(append([]byte{}, base[:100]...), append([]byte("EXTRA!"), base[100:]...)...)
    ops := []Op{
        CopyOp(0, 100),
        InsertOp([]byte("EXTRA!")),
        CopyOp(100, int64(len(base)-100)),
    }
    id, entry, err := w.StoreDelta(TypeBlob, target, baseEntry, ops)
    require.NoError(t, err)
    assert.False(t, id.IsNull())
    assert.Equal(t, baseEntry.Depth+1, entry.Depth)
    assert.Greater(t, entry.Offset, baseEntry.Offset)
}

func TestStoreDeltaFallsBackWhenBaseGone(t *testing.T) {
    dir := t.TempDir()
    w, err := NewWriter(dir, DefaultWindowSize)
    require.NoError(t, err)
    defer w.Abort()

    fakeBase := &ObjectEntry{Offset: 12, content: []byte("xxx")}
    id, entry, err := w.StoreDelta(TypeBlob, []byte("fresh content"), fakeBase, []Op{InsertOp([]byte("fresh content"))})
    require.NoError(t, err)
    assert.False(t, id.IsNull())
    assert.Equal(t, 0, entry.Depth)
}

func TestCloseWritesTrailerAndCount(t *testing.T) {
    dir := t.TempDir()
    w, err := NewWriter(dir, DefaultWindowSize)
    require.NoError(t, err)

    _, _, err = w.StoreObject(TypeBlob, []byte("a"))
    require.NoError(t, err)
    _, _, err = w.StoreObject(TypeBlob, []byte("b"))
    require.NoError(t, err)

    path, err := w.Close()
    require.NoError(t, err)
    assert.FileExists(t, path)
}

// TestWindowSlideOverlap exercises the sticky tail window across a slide:
// the last 20 bytes of the window before a slide must reappear as the
// first 20 bytes of the window after it.
func TestWindowSlideOverlap(t *testing.T) {
    dir := t.TempDir()
    const small = 64
    w, err := NewWriter(dir, small)
    require.NoError(t, err)
    defer w.Abort()

    var lastTailBefore []byte
    slid := false
    for i := 0; i < 400 && !slid; i++ {
        before := w.tail.offset
        content := bytes.Repeat([]byte{byte(i)}, 16)
        if len(w.tail.buf) >= 20 {
            lastTailBefore = append([]byte{}, w.tail.buf[len(w.tail.buf)-20:]...)
        }
        _, _, err := w.StoreObject(TypeBlob, content)
        require.NoError(t, err)
        if w.tail.offset != before {
            slid = true
            require.GreaterOrEqual(t, len(w.tail.buf), 20)
            assert.Equal(t, lastTailBefore, w.tail.buf[:20], "first 20 bytes after slide must equal last 20 bytes before it")
        }
    }
    require.True(t, slid, "expected at least one window slide within the loop")
}
