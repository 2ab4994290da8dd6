// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command groundcheck answers questions strictly from supplied context and
// checks every draft with a second model call before showing it.
//
// # Usage
//
//	groundcheck ask "What are the store hours?" --context-file store.txt
//	groundcheck eval --cases cases.yaml --concurrency 4
//	groundcheck serve --port 12310
//	groundcheck config init
package main

import (
	"errors"
	"os"

	"github.com/AleutianAI/groundcheck/services/pipeline"
)

// Exit codes
const (
	exitOK          = 0
	exitError       = 1
	exitInput       = 2
	exitConfig      = 3
	exitUpstream    = 4
	exitEvalFailure = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	a := newApp()
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	return exitCode(a.Execute(cmd))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errEvalFailed):
		return exitEvalFailure
	case errors.Is(err, pipeline.ErrInput):
		return exitInput
	case errors.Is(err, pipeline.ErrConfiguration):
		return exitConfig
	case errors.Is(err, pipeline.ErrUpstream):
		return exitUpstream
	default:
		return exitError
	}
}
