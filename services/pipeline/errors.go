// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrInput         = errors.New("input error")
	ErrConfiguration = errors.New("configuration error")
	ErrUpstream      = errors.New("upstream model call failed")
)

// Stage names the pipeline step that produced an error.
type Stage string

const (
	StageInput     Stage = "input"
	StageResponder Stage = "responder"
	StageValidator Stage = "validator"
)

// Error carries the kind, the stage, and the underlying cause.
type Error struct {
	Kind    error
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Stage != "" && e.Stage != StageInput {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Stage, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func inputError(msg string) error {
	return &Error{Kind: ErrInput, Stage: StageInput, Message: msg}
}

func configError(stage Stage, msg string, err error) error {
	return &Error{Kind: ErrConfiguration, Stage: stage, Message: msg, Err: err}
}

func upstreamError(stage Stage, err error) error {
	return &Error{Kind: ErrUpstream, Stage: stage, Err: err}
}
