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

// Package revchunk decodes revlog-style delta chunks - a fixed header
// (node/p1/p2/link[/cs]) followed by a byte-range diff against whatever
// revision the header's delta base resolves to - and replays that diff
// against a base text. Both internal/filerecon (plain file revisions) and
// internal/manifest (manifest revisions) are built on top of it.
package revchunk

import (
    "encoding/binary"
    "fmt"

    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
)

// Header is the fixed-size prefix of a revlog chunk. Base is only present
// in header version 2+ streams and is the null oid otherwise; in version
// 1 streams the delta base is implicit (parent1 for the first chunk of a
// sequence, otherwise the previous chunk's node).
type Header struct {
    Node oid.Oid
    P1   oid.Oid
    P2   oid.Oid
    Link oid.Oid
    Base oid.Oid
}

// ParseHeader splits raw into its fixed Header fields and the remaining
// diff-part bytes, per the given changegroup version (1: node/p1/p2/link;
// 2+: additionally an explicit delta-base node id, instead of the
// implicit previous-chunk/parent1 base version 1 streams rely on).
func ParseHeader(version int, raw []byte) (Header, []byte, error) {
    n := 4
    if version >= 2 {
        n = 5
    }
    size := n * oid.RawSize
    if len(raw) < size {
        return Header{}, nil, fmt.Errorf("revchunk: truncated header (need %d bytes, got %d)", size, len(raw))
    }
    var hdr Header
    var err error
    if hdr.Node, err = oid.FromBytes(raw[0:20]); err != nil {
        return Header{}, nil, err
    }
    if hdr.P1, err = oid.FromBytes(raw[20:40]); err != nil {
        return Header{}, nil, err
    }
    if hdr.P2, err = oid.FromBytes(raw[40:60]); err != nil {
        return Header{}, nil, err
    }
    if hdr.Link, err = oid.FromBytes(raw[60:80]); err != nil {
        return Header{}, nil, err
    }
    if version >= 2 {
        if hdr.Base, err = oid.FromBytes(raw[80:100]); err != nil {
            return Header{}, nil, err
        }
    }
    return hdr, raw[size:], nil
}

// DiffPart is one (start, end, data) splice: replace base[Start:End] with
// Data. Consecutive parts must be strictly ordered: part i+1's Start must
// be >= part i's End, and no part's End may exceed the base length -
// revlog deltas are always emitted in increasing, non-overlapping offset
// order, never the other way, so anything else means stream corruption.
type DiffPart struct {
    Start int64
    End   int64
    Data  []byte
}

// ParseDiff decodes the wire form of a diff: a sequence of
// (start uint32be, end uint32be, length uint32be, data[length]) records
// with no part count prefix - the stream is simply consumed to exhaustion.
func ParseDiff(data []byte) ([]DiffPart, error) {
    var parts []DiffPart
    for len(data) > 0 {
        if len(data) < 12 {
            return nil, fmt.Errorf("revchunk: truncated diff part header")
        }
        start := int64(binary.BigEndian.Uint32(data[0:4]))
        end := int64(binary.BigEndian.Uint32(data[4:8]))
        length := int64(binary.BigEndian.Uint32(data[8:12]))
        data = data[12:]
        if int64(len(data)) < length {
            return nil, fmt.Errorf("revchunk: truncated diff part data")
        }
        parts = append(parts, DiffPart{Start: start, End: end, Data: data[:length:length]})
        data = data[length:]
    }
    return parts, nil
}

// Apply splices parts into base, validating strict monotonicity as it
// goes, and returns both the resulting full text and the equivalent git
// pack delta Ops (unchanged ranges become CopyOp, spliced data becomes
// InsertOp) - so callers that already have a base object entry can hand
// both straight to pack.Writer.StoreDelta without a second pass.
func Apply(base []byte, parts []DiffPart) (result []byte, ops []pack.Op, err error) {
    last := int64(0)
    baseLen := int64(len(base))
    for i, p := range parts {
        if p.Start < last {
            return nil, nil, fmt.Errorf("revchunk: diff part %d out of order (start=%d < previous end=%d)", i, p.Start, last)
        }
        if p.End < p.Start {
            return nil, nil, fmt.Errorf("revchunk: diff part %d has end<start (%d<%d)", i, p.End, p.Start)
        }
        if p.End > baseLen {
            return nil, nil, fmt.Errorf("revchunk: diff part %d end %d exceeds base length %d", i, p.End, baseLen)
        }
        if p.Start > last {
            result = append(result, base[last:p.Start]...)
            ops = append(ops, pack.CopyOp(last, p.Start-last))
        }
        if len(p.Data) > 0 {
            result = append(result, p.Data...)
            ops = append(ops, pack.InsertOp(p.Data))
        }
        last = p.End
    }
    if last < baseLen {
        result = append(result, base[last:]...)
        ops = append(ops, pack.CopyOp(last, baseLen-last))
    }
    return result, ops, nil
}
