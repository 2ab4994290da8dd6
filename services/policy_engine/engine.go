// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package policy_engine screens questions and contexts for data that must not
// be forwarded to a model provider.
package policy_engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/groundcheck/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// PolicyEngine holds the compiled classification rules and the set of
// classes that block a request. It is safe for concurrent use.
type PolicyEngine struct {
	Classifiers []Classification
	blocked     map[string]bool
}

// NewPolicyEngine compiles the embedded rules. blocked names the classes that
// make Screen fail; an unknown class name is an error.
func NewPolicyEngine(blocked ...string) (*PolicyEngine, error) {
	var file ClassificationFile
	if err := yaml.Unmarshal(enforcement.DataClassificationPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded policy file: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex: %w", err)
	}
	file.sortByPriority()

	engine := &PolicyEngine{Classifiers: file.Classifications, blocked: map[string]bool{}}
	for _, name := range blocked {
		name = strings.ToLower(strings.TrimSpace(name))
		if !engine.hasClass(name) {
			return nil, fmt.Errorf("unknown classification %q", name)
		}
		engine.blocked[name] = true
	}
	slog.Debug("Policy engine loaded", "classes", len(file.Classifications), "blocked", blocked,
		"policy_hash", enforcement.PolicyHash()[:12])
	return engine, nil
}

func (e *PolicyEngine) hasClass(name string) bool {
	for _, c := range e.Classifiers {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Blocked lists the blocking classes in priority order.
func (e *PolicyEngine) Blocked() []string {
	var out []string
	for _, c := range e.Classifiers {
		if e.blocked[c.Name] {
			out = append(out, c.Name)
		}
	}
	return out
}

// ClassifyData returns the highest priority class matching data, or "public".
func (e *PolicyEngine) ClassifyData(data []byte) string {
	for _, c := range e.Classifiers {
		for _, p := range c.Patterns {
			if p.compiled.Match(data) {
				return c.Name
			}
		}
	}
	return "public"
}

// Scan checks every line of content against every pattern.
func (e *PolicyEngine) Scan(content string) []ScanFinding {
	var findings []ScanFinding
	for lineNum, line := range strings.Split(content, "\n") {
		for _, c := range e.Classifiers {
			for _, p := range c.Patterns {
				loc := p.compiled.FindStringIndex(line)
				if loc == nil {
					continue
				}
				findings = append(findings, ScanFinding{
					LineNumber:         lineNum + 1,
					MatchLength:        loc[1] - loc[0],
					ClassificationName: c.Name,
					PatternID:          p.ID,
					PatternDescription: p.Description,
					Confidence:         p.Confidence,
				})
			}
		}
	}
	return findings
}

// Screen returns a *BlockedError for the first finding in a blocked class.
// field names the input ("question", "context") in the error message.
func (e *PolicyEngine) Screen(field, text string) error {
	if len(e.blocked) == 0 {
		return nil
	}
	for _, f := range e.Scan(text) {
		if e.blocked[f.ClassificationName] {
			f.Field = field
			return &BlockedError{Finding: f, Class: e.ClassifyData([]byte(text))}
		}
	}
	return nil
}
