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

// Op is one instruction of a delta against a base object: either "copy Len
// bytes of the base starting at Off" or "insert Data verbatim". Callers
// (internal/filerecon, internal/manifest) already walk their rev-diff parts
// splicing base bytes with new data to build the reconstructed full text -
// they emit Ops for the same splice for free, so StoreDelta never needs its
// own generic diff algorithm.
type Op struct {
    Copy bool
    Off  int64
    Len  int64
    Data []byte
}

// CopyOp/InsertOp build an Op slice the way rev-diff splicing naturally
// produces it: copy [lastEnd, start) then insert data, repeated per diff
// part, with a final trailing copy to the end of the base.
func CopyOp(off, length int64) Op { return Op{Copy: true, Off: off, Len: length} }
func InsertOp(data []byte) Op {
    if len(data) == 0 {
        return Op{}
    }
    return Op{Copy: false, Data: data}
}

const (
    maxCopySize   = 0x10000 // git delta copy instructions cap size at 64KiB per op
    maxInsertSize = 0x7f    // insert instructions pack length into 7 bits
)

// encodeDeltaBody renders ops (plus the mandatory base/target size header)
// into a git pack delta payload, per pack-format.txt's "delta data" section.
func encodeDeltaBody(baseSize, targetSize int64, ops []Op) []byte {
    out := appendDeltaSize(nil, baseSize)
    out = appendDeltaSize(out, targetSize)

    for _, op := range ops {
        if op.Copy {
            off, length := op.Off, op.Len
            for length > 0 {
                n := length
                if n > maxCopySize {
                    n = maxCopySize
                }
                out = appendCopyOp(out, off, n)
                off += n
                length -= n
            }
        } else {
            data := op.Data
            for len(data) > 0 {
                n := len(data)
                if n > maxInsertSize {
                    n = maxInsertSize
                }
                out = append(out, byte(n))
                out = append(out, data[:n]...)
                data = data[n:]
            }
        }
    }
    return out
}

// appendDeltaSize appends git's delta-header size varint (7 bits per byte,
// continuation in the high bit, least-significant group first).
func appendDeltaSize(out []byte, size int64) []byte {
    for {
        b := byte(size & 0x7f)
        size >>= 7
        if size != 0 {
            out = append(out, b|0x80)
        } else {
            out = append(out, b)
            return out
        }
    }
}

// appendCopyOp appends one copy instruction: a control byte whose low 4
// bits select which offset bytes are present and whose next 3 bits select
// which size bytes are present, followed by exactly those bytes
// (little-endian, zero bytes omitted). A size of exactly 0x10000 is encoded
// as 0 by convention (decoders treat a zero size field as 0x10000).
func appendCopyOp(out []byte, off, size int64) []byte {
    ctrl := byte(0x80)
    var offb, sizeb [4]byte
    offb[0] = byte(off)
    offb[1] = byte(off >> 8)
    offb[2] = byte(off >> 16)
    offb[3] = byte(off >> 24)
    encSize := size
    if encSize == maxCopySize {
        encSize = 0
    }
    sizeb[0] = byte(encSize)
    sizeb[1] = byte(encSize >> 8)
    sizeb[2] = byte(encSize >> 16)

    var body []byte
    for i := 0; i < 4; i++ {
        if offb[i] != 0 {
            ctrl |= 1 << uint(i)
            body = append(body, offb[i])
        }
    }
    for i := 0; i < 3; i++ {
        if sizeb[i] != 0 {
            ctrl |= 1 << uint(4+i)
            body = append(body, sizeb[i])
        }
    }
    out = append(out, ctrl)
    out = append(out, body...)
    return out
}

// appendOfsDeltaOffset appends git's OFS_DELTA backwards-offset varint: a
// big-endian base-128 encoding where every byte but the last subtracts 1
// from the running value before emitting the next group (see
// pack-format.txt, "offset encoding").
func appendOfsDeltaOffset(out []byte, off int64) []byte {
    var stack []byte
    stack = append(stack, byte(off&0x7f))
    off >>= 7
    for off != 0 {
        off--
        stack = append(stack, byte(off&0x7f)|0x80)
        off >>= 7
    }
    // stack was built least-significant-group-first; the wire format wants
    // the most significant group first.
    for i := len(stack) - 1; i >= 0; i-- {
        out = append(out, stack[i])
    }
    return out
}

// appendObjHeader appends git's packed-object header: a type+size varint,
// type in bits 4-6 of the first byte, size split 4 bits in the first byte
// then 7 bits per following byte (continuation in the high bit).
func appendObjHeader(out []byte, typ ObjectType, size int64) []byte {
    b := byte(size&0xf) | (byte(typ) << 4)
    size >>= 4
    if size != 0 {
        b |= 0x80
    }
    out = append(out, b)
    for size != 0 {
        b = byte(size & 0x7f)
        size >>= 7
        if size != 0 {
            out = append(out, b|0x80)
        } else {
            out = append(out, b)
        }
    }
    return out
}
