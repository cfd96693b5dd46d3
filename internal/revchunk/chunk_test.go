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

package revchunk

import (
    "encoding/binary"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func encodePart(start, end uint32, data []byte) []byte {
    var hdr [12]byte
    binary.BigEndian.PutUint32(hdr[0:4], start)
    binary.BigEndian.PutUint32(hdr[4:8], end)
    binary.BigEndian.PutUint32(hdr[8:12], uint32(len(data)))
    return append(hdr[:], data...)
}

func TestApplySimpleSplice(t *testing.T) {
    base := []byte("hello world")
    raw := encodePart(6, 11, []byte("there"))
    parts, err := ParseDiff(raw)
    require.NoError(t, err)

    result, ops, err := Apply(base, parts)
    require.NoError(t, err)
    assert.Equal(t, "hello there", string(result))
    require.Len(t, ops, 2)
    assert.True(t, ops[0].Copy)
    assert.False(t, ops[1].Copy)
}

func TestApplyRejectsOutOfOrderParts(t *testing.T) {
    base := []byte("0123456789")
    parts := []DiffPart{
        {Start: 5, End: 6, Data: []byte("x")},
        {Start: 2, End: 3, Data: []byte("y")}, // goes backwards: must fail
    }
    _, _, err := Apply(base, parts)
    assert.Error(t, err)
}

func TestApplyRejectsEndBeyondBase(t *testing.T) {
    base := []byte("short")
    parts := []DiffPart{{Start: 0, End: 1000, Data: []byte("x")}}
    _, _, err := Apply(base, parts)
    assert.Error(t, err)
}

func TestApplyAppendOnly(t *testing.T) {
    base := []byte("abc")
    parts := []DiffPart{{Start: 3, End: 3, Data: []byte("def")}}
    result, ops, err := Apply(base, parts)
    require.NoError(t, err)
    assert.Equal(t, "abcdef", string(result))
    require.Len(t, ops, 2)
    assert.True(t, ops[0].Copy)
    assert.False(t, ops[1].Copy)
}

func TestParseHeaderV1(t *testing.T) {
    raw := make([]byte, 80+4)
    for i := range raw[:80] {
        raw[i] = byte(i)
    }
    copy(raw[80:], []byte("tail"))
    hdr, rest, err := ParseHeader(1, raw)
    require.NoError(t, err)
    assert.Equal(t, "tail", string(rest))
    assert.True(t, hdr.Base.IsNull())
}

func TestParseHeaderV2IncludesBase(t *testing.T) {
    raw := make([]byte, 100+2)
    for i := range raw[:100] {
        raw[i] = byte(i + 1)
    }
    hdr, rest, err := ParseHeader(2, raw)
    require.NoError(t, err)
    assert.Len(t, rest, 2)
    assert.False(t, hdr.Base.IsNull())
}
