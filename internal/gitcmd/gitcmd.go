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

// Package gitcmd | Run git subprocess
//
// The core engine builds pack bytes itself (internal/pack) and updates
// refs through internal/git, but indexing a just-written pack is still
// simplest and safest to delegate to the real `git` binary, the way
// git-backup.go's xgit/ggit helpers always have for plumbing it didn't want
// to reimplement.
package gitcmd

import (
    "bytes"
    "fmt"
    "os/exec"
    "strings"

    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
)

// how/whether to redirect stdio of spawned process
type StdioRedirect int

const (
    PIPE StdioRedirect = iota // connect stdio channel via PIPE to parent (default value)
    DontRedirect
)

type RunWith struct {
    Stdin  string
    Stdout StdioRedirect
    Stderr StdioRedirect
    Raw    bool // !raw -> stdout, stderr are stripped
    Dir    string
}

// run `git *argv` -> error, stdout, stderr
func run(argv []string, ctx RunWith) (err error, stdout, stderr string) {
    cmd := exec.Command("git", argv...)
    cmd.Dir = ctx.Dir
    stdoutBuf := bytes.Buffer{}
    stderrBuf := bytes.Buffer{}

    if ctx.Stdin != "" {
        cmd.Stdin = strings.NewReader(ctx.Stdin)
    }
    cmd.Stdout = &stdoutBuf
    cmd.Stderr = &stderrBuf

    err = cmd.Run()
    stdout = stdoutBuf.String()
    stderr = stderrBuf.String()

    if !ctx.Raw {
        stdout = strings.TrimSpace(stdout)
        stderr = strings.TrimSpace(stderr)
    }
    return err, stdout, stderr
}

// error a git command returned
type Error struct {
    Argv   []string
    Stdin  string
    Stdout string
    Stderr string
    *exec.ExitError
}

func (e *Error) Error() string {
    msg := "git " + strings.Join(e.Argv, " ")
    if e.Stdin == "" {
        msg += " </dev/null\n"
    } else {
        msg += " <<EOF\n" + e.Stdin
        if !strings.HasSuffix(msg, "\n") {
            msg += "\n"
        }
        msg += "EOF\n"
    }
    msg += e.Stderr
    if !strings.HasSuffix(msg, "\n") {
        msg += "\n"
    }
    if e.Stderr == "" {
        msg += "(failed)\n"
    }
    return msg
}

// Run runs `git *argv` -> err, stdout, stderr.
// error is returned only when git command could run and exits with error status;
// on other errors (e.g. git not found) a plain error is returned instead.
func Run(ctx RunWith, argv ...string) (err error, stdout, stderr string) {
    e, stdout, stderr := run(argv, ctx)
    eexec, _ := e.(*exec.ExitError)
    if e != nil && eexec == nil {
        return fmt.Errorf("git %s: %w", strings.Join(argv, " "), e), stdout, stderr
    }
    if eexec != nil {
        return &Error{argv, ctx.Stdin, stdout, stderr, eexec}, stdout, stderr
    }
    return nil, stdout, stderr
}

// X runs `git *argv`, raising (returning a non-nil error) on any failure.
func X(ctx RunWith, argv ...string) (string, error) {
    err, stdout, _ := Run(ctx, argv...)
    if err != nil {
        return "", err
    }
    return stdout, nil
}

// XOid is like X, but parses stdout as an Oid.
func XOid(ctx RunWith, argv ...string) (oid.Oid, error) {
    stdout, err := X(ctx, argv...)
    if err != nil {
        return oid.Oid{}, err
    }
    o, perr := oid.Parse(stdout)
    if perr != nil {
        return oid.Oid{}, fmt.Errorf("git %s: expected oid, got %q", strings.Join(argv, " "), stdout)
    }
    return o, nil
}
