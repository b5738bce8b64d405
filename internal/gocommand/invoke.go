// Copyright 2020 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gocommand is a minimal wrapper for invoking the go tool,
// used by cmd/dsa-lint to sanity-check the toolchain before running
// the multichecker.
package gocommand

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// Invocation represents a call to the go command.
type Invocation struct {
	Verb string
	Args []string
	Env  []string
}

// Run runs the invocation and returns its standard output, trimmed of
// surrounding whitespace. Standard error is only included in the
// returned error when the command fails.
func (i Invocation) Run(ctx context.Context) (string, error) {
	args := append([]string{i.Verb}, i.Args...)
	cmd := exec.CommandContext(ctx, "go", args...)
	if len(i.Env) > 0 {
		cmd.Env = append(cmd.Env, i.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", xerrors.Errorf("go %s: %w: %s", i.Verb, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
