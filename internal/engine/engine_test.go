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
    "io/ioutil"
    "os"
    "testing"

    "github.com/sirupsen/logrus"

    "lab.nexedi.com/kirr/hg2git-helper/internal/git"
    "lab.nexedi.com/kirr/hg2git-helper/internal/oid"
    "lab.nexedi.com/kirr/hg2git-helper/internal/pack"
)

func xtmprepo(t *testing.T) string {
    dir, err := ioutil.TempDir("", "t-hg2git-helper")
    if err != nil {
        t.Fatal(err)
    }
    t.Cleanup(func() { os.RemoveAll(dir) })
    if _, err := git.InitRepository(dir, true); err != nil {
        t.Fatalf("init repository: %v", err)
    }
    return dir
}

func xnewEngine(t *testing.T) *Engine {
    dir := xtmprepo(t)
    log := logrus.New()
    log.SetOutput(ioutil.Discard)
    e := New(dir, 0, 0, log)
    if err := e.init(); err != nil {
        t.Fatalf("engine init: %v", err)
    }
    return e
}

func TestStoreBlobDeduplicates(t *testing.T) {
    e := xnewEngine(t)
    id1, err := e.StoreBlob([]byte("hello"))
    if err != nil {
        t.Fatal(err)
    }
    id2, err := e.StoreBlob([]byte("hello"))
    if err != nil {
        t.Fatal(err)
    }
    if id1 != id2 {
        t.Fatalf("expected identical content to dedup to the same oid: %s != %s", id1, id2)
    }
}

func TestRollbackAbortsPack(t *testing.T) {
    e := xnewEngine(t)
    if _, err := e.StoreBlob([]byte("abc")); err != nil {
        t.Fatal(err)
    }
    if err := e.Rollback(); err != nil {
        t.Fatalf("rollback: %v", err)
    }
}

func TestSetReplaceResolve(t *testing.T) {
    e := xnewEngine(t)
    a := oid.Oid{}
    b, err := oid.Parse("1111111111111111111111111111111111111111")
    if err != nil {
        t.Fatal(err)
    }
    if got := e.Resolve(a); got != a {
        t.Fatalf("unmapped oid should resolve to itself")
    }
    if err := e.setReplace(a.String(), b.String()); err != nil {
        t.Fatal(err)
    }
    if got := e.Resolve(a); got != b {
        t.Fatalf("expected %s to resolve to %s, got %s", a, b, got)
    }
    if err := e.setReplace(a.String(), (oid.Oid{}).String()); err != nil {
        t.Fatal(err)
    }
    if got := e.Resolve(a); got != a {
        t.Fatalf("null replace should remove the overlay entry, got %s", got)
    }
}

// TestCollisionRemediationMutatesOnConflict reproduces spec.md's §4.5.1
// boundary scenario: a stored commit whose oid already carries git2hg
// metadata pointing at a *different* source node must be remediated by
// appending a NUL byte and re-storing under the resulting new oid, not
// by overwriting the existing mapping.
func TestCollisionRemediationMutatesOnConflict(t *testing.T) {
    e := xnewEngine(t)

    content := []byte("tree 0000000000000000000000000000000000000000\nauthor a <a@b> 0 +0000\ncommitter a <a@b> 0 +0000\n\nmsg\n")
    id, _, err := e.pw.StoreObject(pack.TypeCommit, content)
    if err != nil {
        t.Fatal(err)
    }

    otherNode, err := oid.Parse("2222222222222222222222222222222222222222")
    if err != nil {
        t.Fatal(err)
    }
    metaBlob, _, err := e.pw.StoreObject(pack.TypeBlob, otherNode.Bytes())
    if err != nil {
        t.Fatal(err)
    }
    e.git2hg.Put(id, metaBlob)

    wantNode, err := oid.Parse("3333333333333333333333333333333333333333")
    if err != nil {
        t.Fatal(err)
    }

    gotID, err := e.remediateCollision(id, wantNode)
    if err != nil {
        t.Fatal(err)
    }
    if gotID == id {
        t.Fatalf("expected remediation to produce a different oid on conflict")
    }

    entry, ok := e.pw.Lookup(gotID)
    if !ok {
        t.Fatalf("remediated object %s not found in pack", gotID)
    }
    want := append(append([]byte(nil), content...), 0)
    if string(entry.Content()) != string(want) {
        t.Fatalf("remediated content mismatch:\ngot:  %q\nwant: %q", entry.Content(), want)
    }
}

func TestHandleResetDeleteClearsHg2Git(t *testing.T) {
    e := xnewEngine(t)
    a, _ := oid.Parse("4444444444444444444444444444444444444444")
    b, _ := oid.Parse("5555555555555555555555555555555555555555")
    e.hg2git.Put(a, b)

    if err := e.HandleReset(HG2GIT_REF, (oid.Oid{}).String()); err != nil {
        t.Fatalf("reset: %v", err)
    }
    if !e.RequireExplicitTermination() {
        t.Fatalf("reset should set RequireExplicitTermination")
    }
    if _, ok := e.hg2git.Get(a); ok {
        t.Fatalf("expected hg2git to be cleared after a null reset")
    }
}
