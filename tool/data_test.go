// Copyright 2019 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package tool

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// runCommand runs the tool with the given arguments and returns everything it
// wrote to stdout and stderr, and whether it exited with a failure. input, if
// non-empty, is supplied on stdin.
func runCommand(t *testing.T, input string, args ...string) (string, bool) {
	t.Helper()
	var buf bytes.Buffer
	var failed bool
	stdout = &buf
	stderr = &buf
	stdin = strings.NewReader(input)
	osExit = func(int) { failed = true }

	defer func() {
		stdout = os.Stdout
		stderr = os.Stderr
		stdin = io.Reader(os.Stdin)
		osExit = os.Exit
	}()

	c := &cobra.Command{}
	c.AddCommand(New().Commands...)
	c.SetArgs(args)
	c.SetOut(&buf)
	c.SetErr(&buf)
	if err := c.Execute(); err != nil {
		return err.Error(), true
	}
	return buf.String(), failed
}
