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

// Package manifest materializes Mercurial manifest revisions into a
// skeleton tree mirroring the real directory structure, then emits that
// skeleton as a chain of synthetic git commits - one per manifest
// revision - so the mapping has real ancestry a plain `git log` can walk.
//
// A manifest line's node field is the hg file revision's own node id, not
// a git blob oid: there usually is no corresponding git blob for a given
// file revision unless that revision's content was separately stored by
// internal/filerecon. The tree entries this package writes carry that hg
// node directly as their 20-byte id, tagged with one of three deliberately
// non-standard "submodule-style marker" modes (0160644/0160755/0160000)
// so nothing downstream mistakes such an entry for a real git blob
// reference - the same trick the hg2git notes map plays with git-link
// entries, applied one level down.
//
// Every path component is stored mangled (a leading underscore prepended)
// before it becomes a real git tree entry name, reserving unmangled names
// for this package's own future bookkeeping use.
package manifest

import (
    "bytes"
    "fmt"
    "sort"
    "strings"

    "lab.nexedi.com/kirr/go123/mem"
    "lab.nexedi.com/kirr/hg2git-helper/internal/git"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
    "lab.nexedi.com/kirr/hg2git-helper/internal/revchunk"
)

// Entry is one manifest line: which hg file revision a path holds, and
// under which of the three wire-contract marker modes.
type Entry struct {
    Node oid.Oid
    Mode int
}

// Marker modes from the wire contract with the external driver - not
// real git file modes, and must be reproduced exactly as given.
const (
    ModeRegular    = 0160644
    ModeExecutable = 0160755
    ModeSymlink    = 0160000
)

func modeForAttr(attr byte) (int, error) {
    switch attr {
    case 0:
        return ModeRegular, nil
    case 'x':
        return ModeExecutable, nil
    case 'l':
        return ModeSymlink, nil
    default:
        return 0, fmt.Errorf("manifest: unknown attr %q", attr)
    }
}

func attrForMode(mode int) (byte, error) {
    switch mode {
    case ModeRegular:
        return 0, nil
    case ModeExecutable:
        return 'x', nil
    case ModeSymlink:
        return 'l', nil
    default:
        return 0, fmt.Errorf("manifest: unknown mode %o", mode)
    }
}

// Mangle/Demangle implement the path-component round trip: Mangle always
// prepends one underscore; Demangle always strips exactly one. A real
// component already starting with underscores still round-trips, since
// stripping one leaves the rest untouched either way.
func Mangle(segment string) string { return "_" + segment }

func Demangle(segment string) (string, error) {
    if !strings.HasPrefix(segment, "_") {
        return "", fmt.Errorf("manifest: %q is not a mangled path component", segment)
    }
    return segment[1:], nil
}

type line struct {
    path  string
    entry Entry
}

// parseLines decodes a run of complete manifest lines ("path\0hex-node
// attr\n", attr empty for regular files) out of a fragment of manifest
// text. The fragment must consist of whole lines - callers are
// responsible for slicing at line boundaries first.
func parseLines(frag []byte) ([]line, error) {
    var lines []line
    for _, raw := range bytes.Split(frag, []byte("\n")) {
        if len(raw) == 0 {
            continue
        }
        nul := bytes.IndexByte(raw, 0)
        if nul < 0 {
            return nil, fmt.Errorf("manifest: line without NUL separator: %q", raw)
        }
        path := mem.String(raw[:nul])
        rest := raw[nul+1:]
        if len(rest) < oid.RawSize*2 {
            return nil, fmt.Errorf("manifest: %q: truncated node id", path)
        }
        node, err := oid.Parse(mem.String(rest[:oid.RawSize*2]))
        if err != nil {
            return nil, fmt.Errorf("manifest: %q: %w", path, err)
        }
        var attr byte
        if flags := rest[oid.RawSize*2:]; len(flags) > 0 {
            attr = flags[0]
        }
        mode, err := modeForAttr(attr)
        if err != nil {
            return nil, fmt.Errorf("manifest: %q: %w", path, err)
        }
        lines = append(lines, line{path: path, entry: Entry{Node: node, Mode: mode}})
    }
    return lines, nil
}

// ParseText decodes a full manifest revision's text into its path -> Entry
// table (used to seed a Tree's state, e.g. from generate_manifest-style
// rendering of a reset target).
func ParseText(text []byte) (map[string]Entry, error) {
    lines, err := parseLines(text)
    if err != nil {
        return nil, err
    }
    out := make(map[string]Entry, len(lines))
    for _, l := range lines {
        out[l.path] = l.entry
    }
    return out, nil
}

// dirNode is one directory of the skeleton working tree. Leaf entries
// have leaf != nil and no children; everything else is a pure directory.
type dirNode struct {
    children map[string]*dirNode // keyed by mangled segment name
    leaf     *Entry
    dirty    bool
    treeOid  oid.Oid
}

func newDir() *dirNode { return &dirNode{children: make(map[string]*dirNode)} }

// Tree is the incrementally maintained working-tree skeleton for one
// manifest lineage (a manifest and all its descendant revisions share
// one Tree, mutated revision by revision).
type Tree struct {
    pw       *pack.Writer
    root     *dirNode
    lastText []byte // previous full manifest text; nil before the first revision
}

func New(pw *pack.Writer) *Tree {
    return &Tree{pw: pw, root: newDir()}
}

// ApplyDiff advances the tree by one manifest revision, given diff parts
// against whatever text the tree currently holds (nil before the first
// revision). It implements the two-pass edit: every part's *removed*
// slice (parsed out of the previous text) is applied to the skeleton
// before any part's *added* slice (parsed out of its own payload) is -
// a later part may delete a path an earlier part just introduced, and
// applying additions eagerly would make that remove-of-just-added
// observably wrong against the skeleton.
//
// It returns the new full manifest text (the same splice the file
// reconstructor performs, applied here to text instead of a blob).
func (t *Tree) ApplyDiff(parts []revchunk.DiffPart) ([]byte, error) {
    if err := validateLineBoundaries(t.lastText, parts); err != nil {
        return nil, err
    }

    for _, p := range parts {
        removed, err := parseLines(t.lastText[p.Start:p.End])
        if err != nil {
            return nil, err
        }
        for _, l := range removed {
            t.remove(l.path)
        }
    }
    for _, p := range parts {
        added, err := parseLines(p.Data)
        if err != nil {
            return nil, err
        }
        for _, l := range added {
            t.insert(l.path, l.entry)
        }
    }

    newText, _, err := revchunk.Apply(t.lastText, parts)
    if err != nil {
        return nil, fmt.Errorf("manifest: %w", err)
    }
    t.lastText = newText
    return newText, nil
}

// validateLineBoundaries enforces that every diff part starts and ends on
// a manifest line boundary within base: start==0 or base[start-1]=='\n',
// and likewise for end.
func validateLineBoundaries(base []byte, parts []revchunk.DiffPart) error {
    for i, p := range parts {
        if p.Start > 0 {
            if p.Start > int64(len(base)) || base[p.Start-1] != '\n' {
                return fmt.Errorf("manifest: diff part %d start %d is not a line boundary", i, p.Start)
            }
        }
        if p.End > 0 {
            if p.End > int64(len(base)) || base[p.End-1] != '\n' {
                return fmt.Errorf("manifest: diff part %d end %d is not a line boundary", i, p.End)
            }
        }
    }
    return nil
}

func segments(path string) []string {
    return strings.Split(path, "/")
}

func (t *Tree) remove(path string) {
    segs := segments(path)
    chain := []*dirNode{t.root}
    dir := t.root
    for _, seg := range segs[:len(segs)-1] {
        next, ok := dir.children[Mangle(seg)]
        if !ok {
            return // already gone
        }
        dir = next
        chain = append(chain, dir)
    }
    delete(dir.children, Mangle(segs[len(segs)-1]))
    for _, d := range chain {
        d.dirty = true
    }
    // prune now-empty directories, innermost first
    for i := len(chain) - 1; i > 0; i-- {
        if len(chain[i].children) == 0 && chain[i].leaf == nil {
            parentSeg := segs[i-1]
            delete(chain[i-1].children, Mangle(parentSeg))
        } else {
            break
        }
    }
}

func (t *Tree) insert(path string, e Entry) {
    segs := segments(path)
    dir := t.root
    dir.dirty = true
    for _, seg := range segs[:len(segs)-1] {
        name := Mangle(seg)
        next, ok := dir.children[name]
        if !ok {
            next = newDir()
            dir.children[name] = next
        }
        next.dirty = true
        dir = next
    }
    leaf := e
    dir.children[Mangle(segs[len(segs)-1])] = &dirNode{leaf: &leaf}
}

// Flush writes every dirty directory as a real git tree object (bottom
// up) and returns the oid of the root tree.
func (t *Tree) Flush() (oid.Oid, error) {
    return t.flush(t.root)
}

// treeRow is one pending entry of a tree object being serialized.
type treeRow struct {
    name   string
    mode   int
    id     oid.Oid
    isTree bool
}

// sortKey reproduces git's tree entry ordering: directory names sort as
// though a trailing "/" were appended.
func (r treeRow) sortKey() string {
    if r.isTree {
        return r.name + "/"
    }
    return r.name
}

func (t *Tree) flush(d *dirNode) (oid.Oid, error) {
    if d.leaf != nil {
        return d.leaf.Node, nil // unreachable: leaves are never flushed directly
    }
    if !d.dirty {
        return d.treeOid, nil
    }

    var rows []treeRow
    for name, child := range d.children {
        if child.leaf != nil {
            rows = append(rows, treeRow{name: name, mode: child.leaf.Mode, id: child.leaf.Node})
            continue
        }
        subOid, err := t.flush(child)
        if err != nil {
            return oid.Oid{}, err
        }
        rows = append(rows, treeRow{name: name, mode: 040000, id: subOid, isTree: true})
    }
    sort.Slice(rows, func(i, j int) bool { return rows[i].sortKey() < rows[j].sortKey() })

    var body []byte
    for _, r := range rows {
        body = append(body, []byte(fmt.Sprintf("%o %s\x00", r.mode, r.name))...)
        body = append(body, r.id.Bytes()...)
    }
    id, _, err := t.pw.StoreObject(pack.TypeTree, body)
    if err != nil {
        return oid.Oid{}, fmt.Errorf("manifest: write tree: %w", err)
    }
    d.treeOid = id
    d.dirty = false
    return id, nil
}

// collectEntries walks d, demangling names back into full slash-joined
// paths, and records every leaf into out.
func collectEntries(d *dirNode, prefix string, out map[string]Entry) error {
    for name, child := range d.children {
        seg, err := Demangle(name)
        if err != nil {
            return err
        }
        path := seg
        if prefix != "" {
            path = prefix + "/" + seg
        }
        if child.leaf != nil {
            out[path] = *child.leaf
            continue
        }
        if err := collectEntries(child, path, out); err != nil {
            return err
        }
    }
    return nil
}

// Render renders the current skeleton back into manifest text form (the
// generate_manifest equivalent), sorted by path - the inverse of
// ApplyDiff's line parsing, used by reset-to-a-different-base and by the
// round-trip testable property.
func (t *Tree) Render() ([]byte, error) {
    entries := make(map[string]Entry)
    if err := collectEntries(t.root, "", entries); err != nil {
        return nil, err
    }
    paths := make([]string, 0, len(entries))
    for p := range entries {
        paths = append(paths, p)
    }
    sort.Strings(paths)

    var buf bytes.Buffer
    for _, p := range paths {
        e := entries[p]
        attr, err := attrForMode(e.Mode)
        if err != nil {
            return nil, err
        }
        buf.WriteString(p)
        buf.WriteByte(0)
        buf.WriteString(e.Node.String())
        if attr != 0 {
            buf.WriteByte(attr)
        }
        buf.WriteByte('\n')
    }
    return buf.Bytes(), nil
}

// ResetFromCommit discards the current skeleton and reloads it from an
// already-stored manifest commit's tree (the reset policy: a chunk whose
// base differs from the tree's current lineage loads that base fresh
// rather than diffing against unrelated state).
func (t *Tree) ResetFromCommit(repo *git.Repository, commitOid oid.Oid) error {
    gid, err := git.ParseOid(commitOid.String())
    if err != nil {
        return err
    }
    commit, err := repo.LookupCommit(gid)
    if err != nil {
        return fmt.Errorf("manifest: reset: load commit %s: %w", commitOid, err)
    }
    gtree, err := commit.Tree()
    if err != nil {
        return fmt.Errorf("manifest: reset: load tree of %s: %w", commitOid, err)
    }
    root, err := buildDirFromGitTree(repo, gtree)
    if err != nil {
        return fmt.Errorf("manifest: reset: %w", err)
    }
    t.root = root
    text, err := t.Render()
    if err != nil {
        return fmt.Errorf("manifest: reset: %w", err)
    }
    t.lastText = text
    return nil
}

func buildDirFromGitTree(repo *git.Repository, tree *git.Tree) (*dirNode, error) {
    d := newDir()
    n := tree.EntryCount()
    for i := uint64(0); i < n; i++ {
        e := tree.EntryByIndex(i)
        if e.Type == git.ObjectTree {
            sub, err := repo.LookupTree(e.Id)
            if err != nil {
                return nil, err
            }
            child, err := buildDirFromGitTree(repo, sub)
            if err != nil {
                return nil, err
            }
            d.children[e.Name] = child
            continue
        }
        node, err := oid.FromBytes(e.Id[:])
        if err != nil {
            return nil, err
        }
        entry := Entry{Node: node, Mode: int(e.Filemode)}
        d.children[e.Name] = &dirNode{leaf: &entry}
    }
    return d, nil
}
