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

// Command hg2git-helper is the command-dispatcher side of the bridge: it
// reads commands on stdin, builds a single git pack in the target
// repository as it goes, and writes one response per command to stdout -
// see internal/engine for the protocol itself.
package main

import (
    "flag"
    "fmt"
    "os"
    "runtime/debug"
    "strings"

    "github.com/sirupsen/logrus"

    . "lab.nexedi.com/kirr/go123/exc"
    "lab.nexedi.com/kirr/hg2git-helper/internal/engine"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
    "lab.nexedi.com/kirr/hg2git-helper/internal/xutil"
)

var verbose xutil.CountFlag

func usage() {
    fmt.Fprint(os.Stderr, `hg2git-helper [options] <gitdir>

Reads a stream of commands on stdin describing a Mercurial changegroup
to ingest, writes the resulting git objects as a single pack under
<gitdir>, and replies to each command on stdout.

options:

    -h --help           this help text.
    -v                   increase verbosity.
    -q                   decrease verbosity.
    --window-size N      pack tail-window size, in bytes (default 1MiB).
`)
}

// parseCheckFlags turns CINNABAR_CHECK's space-separated flag names into
// the engine's bitmask, the way the original's GIT_CINNABAR_CHECK did.
func parseCheckFlags(s string) uint32 {
    var flags uint32
    for _, name := range strings.Fields(s) {
        switch name {
        case "manifests":
            flags |= engine.CheckManifests
        case "helper":
            flags |= engine.CheckHelper
        case "all":
            flags |= engine.CheckManifests | engine.CheckHelper
        }
    }
    return flags
}

func newLogger() *logrus.Logger {
    log := logrus.New()
    log.SetOutput(os.Stderr)
    switch {
    case verbose >= 2:
        log.SetLevel(logrus.DebugLevel)
    case verbose >= 1:
        log.SetLevel(logrus.InfoLevel)
    default:
        log.SetLevel(logrus.WarnLevel)
    }
    return log
}

func main() {
    flag.Usage = usage
    quiet := 0
    windowSize := flag.Int64("window-size", pack.DefaultWindowSize, "pack tail-window size, in bytes")
    flag.Var(&verbose, "v", "verbosity level")
    flag.Var((*xutil.CountFlag)(&quiet), "q", "decrease verbosity")
    flag.Parse()
    verbose -= xutil.CountFlag(quiet)

    argv := flag.Args()
    if len(argv) != 1 {
        usage()
        os.Exit(1)
    }
    gitDir := argv[0]

    log := newLogger()
    checkFlags := parseCheckFlags(os.Getenv("CINNABAR_CHECK"))

    here := Myfuncname()
    defer Errcatch(func(e *Error) {
        e = Erraddcallingcontext(here, e)
        fmt.Fprintln(os.Stderr, e)
        if verbose > 2 {
            fmt.Fprintln(os.Stderr)
            debug.PrintStack()
        }
        os.Exit(1)
    })

    e := engine.New(gitDir, *windowSize, checkFlags, log)
    d := engine.NewDispatcher(e, os.Stdin, os.Stdout)
    Raiseif(d.Run())
}
