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

// Package pack builds a single git pack incrementally, in process.
//
// As bytes are appended, a "sticky tail window" modelled on git
// fast-import's hashwrite/find_pack_entry_one machinery keeps a recent
// byte range of the pack resident, re-reading the file itself when the
// window has to slide forward. Separately, every stored object's full
// inflated content stays resident in its ObjectEntry for the life of the
// Writer, so objects already written remain readable by oid, and usable
// as OFS_DELTA bases, after their bytes have left the window.
package pack

import (
    "bytes"
    "compress/zlib"
    "crypto/sha1"
    "encoding/binary"
    "fmt"
    "hash"
    "io"
    "os"
    "path/filepath"

    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
)

// ObjectType is a git pack object type code (pack-format.txt §"valid object types").
type ObjectType uint8

const (
    TypeCommit  ObjectType = 1
    TypeTree    ObjectType = 2
    TypeBlob    ObjectType = 3
    TypeTag     ObjectType = 4
    typeOfsDelta ObjectType = 6
)

func (t ObjectType) String() string {
    switch t {
    case TypeCommit:
        return "commit"
    case TypeTree:
        return "tree"
    case TypeBlob:
        return "blob"
    case TypeTag:
        return "tag"
    }
    return fmt.Sprintf("type%d", t)
}

// ObjectEntry records where and how an object was stored in the pack
// currently being built: a lookup-redirect table. Once an oid has one of
// these, re-storing it is a no-op and it can serve as a delta base for
// later objects of the same kind.
type ObjectEntry struct {
    Oid    oid.Oid
    Offset int64
    Type   ObjectType
    Depth  int
    Size   int64

    content []byte // full inflated content, kept resident for the life of this pack generation
}

// tailWindow is the one live, resident byte range behind the current
// write position, sized to windowSize+20 so that when it slides, the last
// 20 bytes before the slide reappear as the first 20 bytes after it.
type tailWindow struct {
    offset int64
    buf    []byte
}

// Writer accumulates a pack file's body: a stream of (header, maybe-deflated
// payload) object records, hashed as it goes, finalized into a real
// *.pack by Close.
type Writer struct {
    file       *os.File
    tmpPath    string
    hasher     hash.Hash
    size       int64 // bytes written so far, == offset of the next object
    windowSize int64
    tail       tailWindow
    objects    map[oid.Oid]*ObjectEntry
    count      uint32
    closed     bool
}

const packHeaderSize = 12 // "PACK" + version(4) + object count(4)

// DefaultWindowSize is the tail-window size used when NewWriter is given
// a non-positive one; cmd/hg2git-helper overrides it with --window-size.
const DefaultWindowSize = 1 << 20 // 1MiB

// NewWriter creates a new, empty pack file inside dir (typically
// <gitdir>/objects/pack) and writes its 12-byte header. The object count
// in the header is a placeholder, patched by Close once the true count is
// known - packs are written streaming, so the count isn't known upfront.
func NewWriter(dir string, windowSize int64) (*Writer, error) {
    if windowSize <= 0 {
        windowSize = DefaultWindowSize
    }
    if err := os.MkdirAll(dir, 0777); err != nil {
        return nil, fmt.Errorf("pack: %w", err)
    }
    f, err := os.CreateTemp(dir, "tmp_pack_*.pack")
    if err != nil {
        return nil, fmt.Errorf("pack: %w", err)
    }

    w := &Writer{
        file:       f,
        tmpPath:    f.Name(),
        hasher:     sha1.New(),
        windowSize: windowSize,
        objects:    make(map[oid.Oid]*ObjectEntry),
    }

    hdr := make([]byte, packHeaderSize)
    copy(hdr, "PACK")
    binary.BigEndian.PutUint32(hdr[4:8], 2) // pack version 2
    binary.BigEndian.PutUint32(hdr[8:12], 0) // object count placeholder
    if err := w.writeBytes(hdr); err != nil {
        w.Abort()
        return nil, err
    }
    return w, nil
}

// Content returns the full inflated bytes this entry was stored with,
// kept resident so later objects can use it as a delta base without
// re-reading and re-inflating it from the pack.
func (e *ObjectEntry) Content() []byte { return e.content }

// Size returns the number of bytes written to the pack so far (header
// included).
func (w *Writer) Size() int64 { return w.size }

// Lookup returns the entry previously stored for id in this pack generation.
func (w *Writer) Lookup(id oid.Oid) (*ObjectEntry, bool) {
    e, ok := w.objects[id]
    return e, ok
}

// StoreObject hashes content as a loose object of type typ and, unless an
// object with that oid is already in this pack, appends it whole (no
// delta). It returns the resulting entry whether or not a write happened.
func (w *Writer) StoreObject(typ ObjectType, content []byte) (oid.Oid, *ObjectEntry, error) {
    return w.store(typ, content, nil, nil)
}

// StoreDelta is like StoreObject, but if base is non-nil and still part of
// this pack generation, encodes content as an OFS_DELTA against it using
// ops (built by the caller while it was already splicing rev-diff parts
// against base's content to reconstruct content in the first place - see
// internal/filerecon and internal/manifest). If the delta would not be
// smaller than content, or base is unusable, it falls back to a full store.
func (w *Writer) StoreDelta(typ ObjectType, content []byte, base *ObjectEntry, ops []Op) (oid.Oid, *ObjectEntry, error) {
    return w.store(typ, content, base, ops)
}

func (w *Writer) store(typ ObjectType, content []byte, base *ObjectEntry, ops []Op) (oid.Oid, *ObjectEntry, error) {
    id := hashObject(typ, content)
    if e, ok := w.objects[id]; ok {
        return id, e, nil
    }

    var body []byte
    var wireType ObjectType
    var depth int
    if base != nil && ops != nil {
        if _, stillHere := w.objects[base.Oid]; stillHere {
            body = encodeDeltaBody(int64(len(base.content)), int64(len(content)), ops)
            if len(body) < len(content) {
                wireType = typeOfsDelta
                depth = base.Depth + 1
            } else {
                body = nil
            }
        }
    }

    offset := w.size
    var hdr []byte
    if wireType == typeOfsDelta {
        hdr = appendObjHeader(nil, wireType, int64(len(body)))
        hdr = appendOfsDeltaOffset(hdr, offset-base.Offset)
    } else {
        wireType = typ
        body = content
        hdr = appendObjHeader(nil, wireType, int64(len(content)))
    }

    deflated, err := deflate(body)
    if err != nil {
        return oid.Oid{}, nil, err
    }
    if err := w.writeBytes(hdr); err != nil {
        return oid.Oid{}, nil, err
    }
    if err := w.writeBytes(deflated); err != nil {
        return oid.Oid{}, nil, err
    }

    e := &ObjectEntry{
        Oid:     id,
        Offset:  offset,
        Type:    typ,
        Depth:   depth,
        Size:    int64(len(content)),
        content: content,
    }
    w.objects[id] = e
    w.count++
    return id, e, nil
}

func hashObject(typ ObjectType, content []byte) oid.Oid {
    h := sha1.New()
    fmt.Fprintf(h, "%s %d\x00", typ, len(content))
    h.Write(content)
    o, _ := oid.FromBytes(h.Sum(nil))
    return o
}

func deflate(b []byte) ([]byte, error) {
    var buf bytes.Buffer
    zw := zlib.NewWriter(&buf)
    if _, err := zw.Write(b); err != nil {
        return nil, err
    }
    if err := zw.Close(); err != nil {
        return nil, err
    }
    return buf.Bytes(), nil
}

// writeBytes appends buf to the pack file, maintaining the sticky tail
// window: ported line for line from git fast-import's
// real_hashwrite/hashwrite/find_pack_entry window-slide logic.
func (w *Writer) writeBytes(buf []byte) error {
    if _, err := w.file.Write(buf); err != nil {
        return fmt.Errorf("pack: write: %w", err)
    }
    w.hasher.Write(buf)
    count := int64(len(buf))
    w.size += count

    effWindow := w.windowSize
    if w.tail.offset != 0 {
        effWindow += 20
    }

    if effWindow+20-int64(len(w.tail.buf)) > count {
        w.tail.buf = append(w.tail.buf, buf...)
        return nil
    }

    oldOffset := w.tail.offset
    newOffset := ((w.size-20)/w.windowSize)*w.windowSize - 20
    if newOffset < 0 {
        newOffset = 0
    }
    if newOffset == oldOffset {
        // window wouldn't move forward; keep appending rather than loop.
        w.tail.buf = append(w.tail.buf, buf...)
        return nil
    }
    newLen := w.size - newOffset

    prevWin, err := w.readWindow(newOffset+20-w.windowSize, w.windowSize)
    if err != nil {
        return err
    }

    newTail := make([]byte, 0, w.windowSize+40)
    if len(prevWin) >= 20 {
        newTail = append(newTail, prevWin[len(prevWin)-20:]...)
    } else {
        newTail = append(newTail, prevWin...)
    }

    fillLen := newLen - 40
    if fillLen < 0 {
        fillLen = 0
    }
    srcStart := count + 40 - newLen
    if srcStart < 0 {
        srcStart = 0
    }
    if srcStart > int64(len(buf)) {
        srcStart = int64(len(buf))
    }
    srcEnd := srcStart + fillLen
    if srcEnd > int64(len(buf)) {
        srcEnd = int64(len(buf))
    }
    newTail = append(newTail, buf[srcStart:srcEnd]...)

    w.tail.offset = newOffset
    w.tail.buf = newTail
    return nil
}

// readWindow reads length bytes at off from the pack file being built so
// far. It stands in for use_pack()'s mmap: we only need the bytes, not
// the memory-mapping itself, so a plain ReadAt suffices and keeps this
// package portable (no platform-specific mmap syscalls to maintain).
func (w *Writer) readWindow(off, length int64) ([]byte, error) {
    if off < 0 {
        off = 0
    }
    if off >= w.size {
        return nil, nil
    }
    if off+length > w.size {
        length = w.size - off
    }
    buf := make([]byte, length)
    n, err := w.file.ReadAt(buf, off)
    if err != nil && n == 0 {
        return nil, fmt.Errorf("pack: read window at %d: %w", off, err)
    }
    return buf[:n], nil
}

// Close finalizes the pack: patches the object count into the header,
// appends the trailing sha1 of everything written, and returns the
// temporary pack path (still needing `git index-pack` to become a usable
// pack+idx pair - see internal/gitcmd).
func (w *Writer) Close() (path string, err error) {
    if w.closed {
        return w.tmpPath, nil
    }
    var countHdr [4]byte
    binary.BigEndian.PutUint32(countHdr[:], w.count)
    if _, err := w.file.WriteAt(countHdr[:], 8); err != nil {
        return "", fmt.Errorf("pack: patch object count: %w", err)
    }
    // the header was hashed with the placeholder count: rehash the patched file
    if _, err := w.file.Seek(0, io.SeekStart); err != nil {
        return "", fmt.Errorf("pack: rehash: %w", err)
    }
    h := sha1.New()
    if _, err := io.Copy(h, w.file); err != nil {
        return "", fmt.Errorf("pack: rehash: %w", err)
    }
    sum := h.Sum(nil)
    if _, err := w.file.Write(sum); err != nil {
        return "", fmt.Errorf("pack: write trailer: %w", err)
    }
    if err := w.file.Close(); err != nil {
        return "", fmt.Errorf("pack: %w", err)
    }
    w.closed = true
    return w.tmpPath, nil
}

// Abort discards the pack being built, removing its temporary file.
func (w *Writer) Abort() error {
    if w.closed {
        return nil
    }
    w.closed = true
    w.file.Close()
    return os.Remove(w.tmpPath)
}

// Dir is a small helper locating the pack directory under a git dir, in
// the layout git index-pack expects its output installed into.
func Dir(gitDir string) string {
    return filepath.Join(gitDir, "objects", "pack")
}
