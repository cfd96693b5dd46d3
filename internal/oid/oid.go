// Copyright (C) 2015-2016  Nexedi SA and Contributors.
//                          Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.

// Package oid provides the Oid type shared by the hg-side and git-side
// identifier spaces.
//
// A source-node id (Mercurial) and a stored-object id (git) are, at the
// byte level, the same 20-byte value under the baseline hash algorithm -
// conversion between the two is identity; only the interpretation (which
// namespace a given value is looked up in) differs. We keep a single Oid
// type for both and let call sites document which namespace a value lives
// in via naming (hgID, gitID, ...), the way git-backup's Sha1 was used
// indiscriminately for blob and commit sha1s.
package oid

import (
    "bytes"
    "encoding/hex"
    "fmt"
)

const RawSize = 20

// Oid is a raw 20-byte object id.
// NOTE zero value Oid{} is the NULL oid.
type Oid struct {
    id [RawSize]byte
}

var _ fmt.Stringer = Oid{}

func (o Oid) String() string {
    return hex.EncodeToString(o.id[:])
}

func Parse(s string) (Oid, error) {
    o := Oid{}
    if hex.DecodedLen(len(s)) != RawSize {
        return Oid{}, fmt.Errorf("oid: %q invalid", s)
    }
    _, err := hex.Decode(o.id[:], []byte(s))
    if err != nil {
        return Oid{}, fmt.Errorf("oid: %q invalid: %s", s, err)
    }
    return o, nil
}

var _ fmt.Scanner = (*Oid)(nil)

func (o *Oid) Scan(s fmt.ScanState, ch rune) error {
    switch ch {
    case 's', 'v':
    default:
        return fmt.Errorf("oid.Scan: invalid verb %q", ch)
    }

    tok, err := s.Token(true, nil)
    if err != nil {
        return err
    }

    *o, err = Parse(string(tok))
    return err
}

// IsNull reports whether o is the all-zeros oid.
func (o Oid) IsNull() bool {
    return o == Oid{}
}

// FromBytes wraps a 20-byte slice as an Oid, copying it.
func FromBytes(b []byte) (Oid, error) {
    if len(b) != RawSize {
        return Oid{}, fmt.Errorf("oid: invalid length %d", len(b))
    }
    o := Oid{}
    copy(o.id[:], b)
    return o, nil
}

// Bytes returns the raw 20 bytes of o.
func (o Oid) Bytes() []byte {
    return o.id[:]
}

// By, for sorting []Oid.
type By []Oid

func (p By) Len() int           { return len(p) }
func (p By) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p By) Less(i, j int) bool { return bytes.Compare(p[i].id[:], p[j].id[:]) < 0 }
