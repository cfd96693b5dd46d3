// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file (in go.git repository).

package xutil

import (
    "flag"
    "fmt"
    "strconv"
)

// CountFlag is both bool and int - for e.g. handling -v -v -v ...
// inspired/copied by/from cmd.dist.count in go.git
type CountFlag int

func (c *CountFlag) String() string {
    return fmt.Sprint(int(*c))
}

func (c *CountFlag) Set(s string) error {
    switch s {
    case "true":
        *c++
    case "false":
        *c = 0
    default:
        n, err := strconv.Atoi(s)
        if err != nil {
            return fmt.Errorf("invalid count %q", s)
        }
        *c = CountFlag(n)
    }
    return nil
}

// flag.boolFlag
func (c *CountFlag) IsBoolFlag() bool {
    return true
}

// flag.Value
var _ flag.Value = (*CountFlag)(nil)
