// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner shows which pipeline stage is running. It writes to stderr so
// stdout stays clean for the answer. Without ShowSpinner each message is
// printed once instead of animated.
type Spinner struct {
	mu         sync.Mutex
	message    string
	stop       chan struct{}
	done       chan struct{}
	isRunning  bool
	animated   bool
	frameIndex int
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the spinner animation
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	p := GetPersonality()
	s.animated = p.ShowSpinner && p.Level != PersonalityMachine
	msg := s.message
	s.mu.Unlock()

	_, errOut := outputs()
	if !s.animated {
		if p.Level != PersonalityMachine {
			fmt.Fprintf(errOut, "%s %s\n", IconPending.Render(), msg)
		}
		close(s.done)
		return
	}

	go func() {
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				fmt.Fprint(errOut, "\r\033[K")
				close(s.done)
				return
			case <-ticker.C:
				s.mu.Lock()
				frame := Styles.Highlight.Render(spinnerFrames[s.frameIndex])
				s.frameIndex = (s.frameIndex + 1) % len(spinnerFrames)
				msg := s.message
				s.mu.Unlock()
				fmt.Fprintf(errOut, "\r\033[K%s %s", frame, msg)
			}
		}
	}()
}

// UpdateMessage changes the spinner message while running
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	animated, running := s.animated, s.isRunning
	s.mu.Unlock()

	if running && !animated && GetPersonality().Level != PersonalityMachine {
		_, errOut := outputs()
		fmt.Fprintf(errOut, "%s %s\n", IconPending.Render(), message)
	}
}

// Stop halts the spinner animation. Safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	animated := s.animated
	s.mu.Unlock()

	if animated {
		close(s.stop)
	}
	<-s.done
}
