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

// Package notes maintains the three note trees the engine keeps the whole
// source/target mapping in: hg2git (keyed by Mercurial id, entries are
// gitlinks pointing straight at the mapped git object - no blob needed),
// git2hg (keyed by git id) and files-meta (keyed by Mercurial file id),
// whose entries are blobs holding metadata. All three share the same on-disk shape: a two-level fanout
// tree, first two hex digits as a subdirectory, remaining 38 as the leaf
// name, the layout git-notes itself defaults to.
package notes

import (
    "fmt"
    "sort"

    "lab.nexedi.com/kirr/hg2git-helper/internal/git"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
)

// EntryMode selects how a note's tree entry encodes its value.
type EntryMode int

const (
    // GitLink stores the mapped oid directly as the entry's id, git
    // submodule-style - used for hg2git, where the "note content" is
    // itself just another object id.
    GitLink EntryMode = iota
    // Blob stores the entry's id as the oid of a blob holding the note
    // content - used for git2hg and files-meta, which carry actual bytes
    // (serialized metadata).
    Blob
)

const (
    modeGitlink = 0160000
    modeBlob    = 0100644
)

// Map is one note tree: an in-memory overlay of (key oid -> value) pairs,
// seeded from whatever tree a ref previously pointed at, rebuilt whole on
// Flush. Rebuilding whole rather than patching subtrees in place is a
// simplification over a from-scratch tree-patcher: the engine already
// holds every mapping for the run resident (it must, to answer "get"
// queries against objects it only just stored), so there is no memory
// pressure motivating incremental patching here.
type Map struct {
    mode    EntryMode
    repo    *git.Repository
    pw      *pack.Writer
    entries map[oid.Oid]oid.Oid
    dirty   bool
}

// Open loads the tree of the metadata commit ref points at (if it exists)
// into a fresh Map. A nil repo yields an empty map with nothing to load from (useful for
// building a note tree against a repository that doesn't exist yet).
func Open(repo *git.Repository, pw *pack.Writer, mode EntryMode, ref string) (*Map, error) {
    m := &Map{
        mode:    mode,
        repo:    repo,
        pw:      pw,
        entries: make(map[oid.Oid]oid.Oid),
    }
    if repo == nil {
        return m, nil
    }
    r, err := repo.References.Lookup(ref)
    if err != nil {
        return nil, fmt.Errorf("notes: open %s: %w", ref, err)
    }
    if r == nil {
        return m, nil
    }
    commit, err := repo.LookupCommit(r.Target())
    if err != nil {
        return nil, fmt.Errorf("notes: open %s: %w", ref, err)
    }
    tree, err := commit.Tree()
    if err != nil {
        return nil, fmt.Errorf("notes: open %s: %w", ref, err)
    }
    if err := m.load(tree, ""); err != nil {
        return nil, fmt.Errorf("notes: open %s: %w", ref, err)
    }
    return m, nil
}

func (m *Map) load(tree *git.Tree, prefix string) error {
    n := tree.EntryCount()
    for i := uint64(0); i < n; i++ {
        e := tree.EntryByIndex(i)
        if e.Type == git.ObjectTree {
            sub, err := m.repo.LookupTree(e.Id)
            if err != nil {
                return err
            }
            if err := m.load(sub, prefix+e.Name); err != nil {
                return err
            }
            continue
        }
        key, err := oid.Parse(prefix + e.Name)
        if err != nil {
            continue // not a note leaf (stray file); ignore
        }
        m.entries[key] = *e.Id
    }
    return nil
}

// Get returns the value mapped to key, if any.
func (m *Map) Get(key oid.Oid) (oid.Oid, bool) {
    v, ok := m.entries[key]
    return v, ok
}

// Put maps key to value directly (GitLink mode).
func (m *Map) Put(key, value oid.Oid) {
    m.entries[key] = value
    m.dirty = true
}

// PutBlob stores content as a blob and maps key to the resulting oid
// (Blob mode).
func (m *Map) PutBlob(key oid.Oid, content []byte) (oid.Oid, error) {
    id, _, err := m.pw.StoreObject(pack.TypeBlob, content)
    if err != nil {
        return oid.Oid{}, fmt.Errorf("notes: store blob: %w", err)
    }
    m.entries[key] = id
    m.dirty = true
    return id, nil
}

// Remove drops key from the map, if present.
func (m *Map) Remove(key oid.Oid) {
    delete(m.entries, key)
    m.dirty = true
}

// Dirty reports whether the map holds mutations not yet reflected in a
// flushed metadata commit.
func (m *Map) Dirty() bool { return m.dirty }

// ClearDirty marks the map's current state as flushed.
func (m *Map) ClearDirty() { m.dirty = false }

// ResetFrom discards every in-memory entry and mutation and reloads the
// whole map from the tree of the metadata commit tip - the engine's
// maybe_reset_notes policy: nothing of the previous in-memory state is
// kept or merged in.
func (m *Map) ResetFrom(tip oid.Oid) error {
    commit, err := m.repo.LookupCommit(&tip)
    if err != nil {
        return fmt.Errorf("notes: reset: %w", err)
    }
    tree, err := commit.Tree()
    if err != nil {
        return fmt.Errorf("notes: reset: %w", err)
    }
    m.entries = make(map[oid.Oid]oid.Oid)
    m.dirty = false
    return m.load(tree, "")
}

// Clear discards every in-memory entry without reloading from any ref -
// used when a reset names the null oid, i.e. "this tree no longer exists".
func (m *Map) Clear() {
    m.entries = make(map[oid.Oid]oid.Oid)
    m.dirty = false
}

// treeEntry is one row pending write into a tree object: either a leaf
// (name, mode, oid) or materialized already as a sub-tree's written oid.
type treeEntry struct {
    name string
    mode int
    id   oid.Oid
    isTree bool
}

// Flush writes the current entry set out as a tree object (two-level hex
// fanout) and returns its oid. An empty map flushes to the empty tree.
func (m *Map) Flush() (oid.Oid, error) {
    byPrefix := make(map[string][]treeEntry)
    for key, val := range m.entries {
        hex := key.String()
        prefix, rest := hex[:2], hex[2:]
        mode := modeBlob
        if m.mode == GitLink {
            mode = modeGitlink
        }
        byPrefix[prefix] = append(byPrefix[prefix], treeEntry{name: rest, mode: mode, id: val})
    }

    var top []treeEntry
    for prefix, leaves := range byPrefix {
        sort.Slice(leaves, func(i, j int) bool { return leaves[i].name < leaves[j].name })
        subOid, err := m.writeTree(leaves)
        if err != nil {
            return oid.Oid{}, err
        }
        top = append(top, treeEntry{name: prefix, mode: 040000, id: subOid, isTree: true})
    }
    sort.Slice(top, func(i, j int) bool { return treeSortKey(top[i]) < treeSortKey(top[j]) })
    return m.writeTree(top)
}

// treeSortKey reproduces git's tree entry ordering: directory names sort
// as though a trailing "/" were appended, so "foo" and "foo.c" order
// correctly against a directory entry named "foo".
func treeSortKey(e treeEntry) string {
    if e.isTree {
        return e.name + "/"
    }
    return e.name
}

func (m *Map) writeTree(entries []treeEntry) (oid.Oid, error) {
    sort.Slice(entries, func(i, j int) bool { return treeSortKey(entries[i]) < treeSortKey(entries[j]) })
    var body []byte
    for _, e := range entries {
        body = append(body, []byte(fmt.Sprintf("%o %s\x00", e.mode, e.name))...)
        body = append(body, e.id.Bytes()...)
    }
    id, _, err := m.pw.StoreObject(pack.TypeTree, body)
    if err != nil {
        return oid.Oid{}, fmt.Errorf("notes: write tree: %w", err)
    }
    return id, nil
}
