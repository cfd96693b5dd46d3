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

// Done implements the `done` command: flush whichever metadata maps
// still hold unflushed mutations, finalize the pack (index it with the
// real git binary) and clear requireExplicitTermination - from this point
// an end-of-stream is a normal shutdown again, not a protocol violation.
func (e *Engine) Done() error {
    if err := e.init(); err != nil {
        return err
    }
    if e.hg2git.Dirty() {
        if _, err := e.flushNotesCommit(e.hg2git, HG2GIT_REF); err != nil {
            return err
        }
    }
    if e.git2hg.Dirty() {
        if _, err := e.flushNotesCommit(e.git2hg, NOTES_REF); err != nil {
            return err
        }
    }
    if e.filesMeta.Dirty() {
        if _, err := e.flushNotesCommit(e.filesMeta, FILES_META_REF); err != nil {
            return err
        }
    }
    if e.manifestHeads.Dirty() {
        if _, err := e.flushManifestsCommit(); err != nil {
            return err
        }
    }
    if err := e.installPack(); err != nil {
        return err
    }
    e.requireExplicitTermination = false
    return nil
}

// Rollback implements the `rollback` command: discard the pack under
// construction and whatever it would have written, with none of Done's
// finalize side effects - refs updated by `reset`/`commit` during the run
// stay updated (those are not staged the way pack content is), but no
// pack is ever installed to make the objects those refs name resolvable.
func (e *Engine) Rollback() error {
    if !e.initialized {
        return nil
    }
    return e.pw.Abort()
}

// RequireExplicitTermination reports whether the dispatcher must treat an
// end-of-stream as a protocol error (true once a `reset` or `commit` has
// run without a following `done`/`rollback`).
func (e *Engine) RequireExplicitTermination() bool {
    return e.requireExplicitTermination
}
