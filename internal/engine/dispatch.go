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

package engine

import (
    "bufio"
    "fmt"
    "io"
    "strconv"
    "strings"

    . "lab.nexedi.com/kirr/go123/exc"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/revchunk"
)

// Dispatcher reads one command per line from r and writes the
// corresponding response to w - the command/response protocol spec.md §6
// describes: a line of whitespace-separated words names the command, the
// numeric last word of `store file`/`store manifest`/`store blob`
// introduces that many raw bytes of payload immediately following the
// line (`store changegroup <version>` is instead followed by its own
// length-framed chunks), and every command gets
// exactly one line of response back (an oid in hex, or "ok").
type Dispatcher struct {
    e  *Engine
    r  *bufio.Reader
    w  io.Writer
}

func NewDispatcher(e *Engine, r io.Reader, w io.Writer) *Dispatcher {
    return &Dispatcher{e: e, r: bufio.NewReaderSize(r, 1<<16), w: w}
}

// Run drives the command loop until end of stream or a `done`/`rollback`.
// Per spec.md §6, reaching end of stream while RequireExplicitTermination
// is set (a `reset`/`commit` ran without a following `done`/`rollback`)
// is itself a protocol error, not a quiet exit.
func (d *Dispatcher) Run() (err error) {
    defer Errcatch(func(e *Error) {
        err = Erraddcallingcontext("engine.Dispatcher.Run", e)
    })
    for {
        line, rerr := d.readLine()
        if rerr == io.EOF {
            if d.e.RequireExplicitTermination() {
                Raisef("engine: unexpected end of command stream")
            }
            return nil
        }
        Raiseif(rerr)
        if line == "" {
            continue
        }
        done, stop := d.dispatch(line)
        if done {
            return nil
        }
        _ = stop
    }
}

// dispatch handles one command line, writing its response. The first
// return value is true once a `done` or `rollback` has been processed (the caller
// should stop reading further commands); the second is unused, reserved
// for a future `rollback`-terminates-differently-from-done distinction.
func (d *Dispatcher) dispatch(line string) (finished, _ bool) {
    fields := strings.Fields(line)
    if len(fields) == 0 {
        return false, false
    }
    cmd := fields[0]
    args := fields[1:]

    switch cmd {
    case "set":
        d.cmdSet(args)
    case "store":
        d.cmdStore(args)
    case "reset":
        d.cmdReset(args)
    case "commit":
        d.cmdCommit(args)
    case "done":
        Raiseif(d.e.Done())
        d.writeOK()
        return true, false
    case "rollback":
        Raiseif(d.e.Rollback())
        d.writeOK()
        return true, false
    default:
        Raisef("engine: unknown command %q", cmd)
    }
    return false, false
}

func (d *Dispatcher) cmdSet(args []string) {
    if len(args) != 3 {
        Raisef("engine: set: want 3 arguments, got %d", len(args))
    }
    Raiseif(d.e.HandleSet(args[0], args[1], args[2]))
    d.writeOK()
}

func (d *Dispatcher) cmdStore(args []string) {
    if len(args) < 1 {
        Raisef("engine: store: missing sub-command")
    }
    switch args[0] {
    case "file", "manifest":
        if len(args) != 3 {
            Raisef("engine: store %s: want 2 arguments", args[0])
        }
        length := d.mustInt(args[2])
        raw := d.readPayload(length)
        if args[0] == "file" {
            oidv, e := d.e.StoreFile(args[1], raw)
            Raiseif(e)
            d.writeOid(oidv)
        } else {
            oidv, e := d.e.StoreManifest(args[1], raw)
            Raiseif(e)
            d.writeOid(oidv)
        }
    case "blob":
        if len(args) != 2 {
            Raisef("engine: store blob: want 1 argument")
        }
        length := d.mustInt(args[1])
        raw := d.readPayload(length)
        oidv, e := d.e.StoreBlob(raw)
        Raiseif(e)
        d.writeOid(oidv)
    case "metadata":
        if len(args) != 2 {
            Raisef("engine: store metadata: want 1 argument")
        }
        oidv, e := d.e.StoreMetadata(args[1])
        Raiseif(e)
        d.writeOid(oidv)
    case "changegroup":
        if len(args) != 2 {
            Raisef("engine: store changegroup: want 1 argument")
        }
        version := int(d.mustInt(args[1]))
        Raiseif(d.runChangegroup(version))
        d.writeOK()
    default:
        Raisef("engine: store: unknown sub-command %q", args[0])
    }
}

func (d *Dispatcher) cmdReset(args []string) {
    if len(args) != 2 {
        Raisef("engine: reset: want 2 arguments, got %d", len(args))
    }
    Raiseif(d.e.HandleReset(args[0], args[1]))
    d.writeOK()
}

func (d *Dispatcher) cmdCommit(args []string) {
    if len(args) != 1 {
        Raisef("engine: commit: want 1 argument, got %d", len(args))
    }
    id, err := d.e.HandleCommit(args[0])
    Raiseif(err)
    d.writeOid(id)
}

// v1Chain resolves the delta base for successive chunks of one
// changegroup section (the manifest section, or one file's section):
// version-2+ chunks always carry an explicit base and need no chaining,
// but a version-1 section's base is implicit - the first chunk applies
// against its own parent1, and every chunk after that applies against
// the *previous chunk's node*, not parent1 again. A fresh v1Chain must
// be used per section; the manifest section gets one, and each file's
// inner chunk loop gets its own, reset at the start of that file.
type v1Chain struct {
    started bool
    prev    oid.Oid
}

func (c *v1Chain) base(version int, hdr revchunk.Header) oid.Oid {
    if version >= 2 {
        return hdr.Base
    }
    if !c.started {
        c.started = true
        c.prev = hdr.Node
        return hdr.P1
    }
    base := c.prev
    c.prev = hdr.Node
    return base
}

// runChangegroup drains one `store changegroup <version>` payload: a
// section of changeset chunks (decoded enough to skip, never stored -
// changeset objects themselves are only ever created by `set changeset`
// against commits the driver builds directly), then a section of
// manifest chunks, then a sequence of (filename chunk, file-chunk
// section) pairs. Each section is terminated by an empty (zero-length)
// chunk; the outer per-file loop is terminated by an empty filename
// chunk instead of a filename. revchunk's own version-1/2 header parsing
// already needs no extra plumbing here beyond knowing which version to
// hand it.
func (d *Dispatcher) runChangegroup(version int) (err error) {
    defer Errcatch(func(e *Error) { err = e })

    for d.readChunk() != nil {
        // changeset chunks carry revlog metadata this engine does not
        // model as an object of its own; `set changeset` is what turns a
        // driver-built commit into a mapped changeset.
    }

    manifestChain := v1Chain{}
    for {
        raw := d.readChunk()
        if raw == nil {
            break
        }
        hdr, rest, perr := revchunk.ParseHeader(version, raw)
        Raiseif(perr)
        parts, perr2 := revchunk.ParseDiff(rest)
        Raiseif(perr2)
        base := manifestChain.base(version, hdr)
        _, serr := d.e.applyManifestChunk(hdr, base, parts)
        Raiseif(serr)
    }

    for {
        fname := d.readChunk()
        if fname == nil {
            break
        }
        fileChain := v1Chain{}
        for {
            raw := d.readChunk()
            if raw == nil {
                break
            }
            hdr, rest, perr := revchunk.ParseHeader(version, raw)
            Raiseif(perr)
            parts, perr2 := revchunk.ParseDiff(rest)
            Raiseif(perr2)
            base := fileChain.base(version, hdr)
            _, serr := d.e.applyFileChunk(hdr, base, parts)
            Raiseif(serr)
        }
    }
    return nil
}

// readChunk reads one "<decimal length>\n" line followed by that many
// raw bytes, per spec.md §6's changegroup chunk framing. A length of 0
// is a terminator: readChunk returns nil with no payload line consumed.
func (d *Dispatcher) readChunk() []byte {
    line, err := d.readLine()
    Raiseif(err)
    n, perr := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
    Raiseif(perr)
    if n == 0 {
        return nil
    }
    return d.readPayload(n)
}

func (d *Dispatcher) mustInt(s string) int64 {
    n, err := strconv.ParseInt(s, 10, 64)
    Raiseif(err)
    return n
}

func (d *Dispatcher) readLine() (string, error) {
    line, err := d.r.ReadString('\n')
    if err != nil && err != io.EOF {
        return "", err
    }
    line = strings.TrimRight(line, "\r\n")
    if line == "" && err == io.EOF {
        return "", io.EOF
    }
    return line, nil
}

func (d *Dispatcher) readPayload(n int64) []byte {
    buf := make([]byte, n)
    _, err := io.ReadFull(d.r, buf)
    Raiseif(err)
    return buf
}

func (d *Dispatcher) writeOK() {
    _, err := fmt.Fprintln(d.w, "ok")
    Raiseif(err)
}

func (d *Dispatcher) writeOid(id fmt.Stringer) {
    _, err := fmt.Fprintln(d.w, id.String())
    Raiseif(err)
}
