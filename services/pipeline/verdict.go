// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"
)

// FallbackIssue is the only issue reported when the validator output cannot
// be read as a JSON object.
const FallbackIssue = "Validator returned non-JSON or invalid JSON."

const (
	LabelApprove = "approve"
	LabelRevise  = "revise"
)

// Verdict is the validator's judgement of a draft.
type Verdict struct {
	Grounded        bool
	Issues          []string
	CorrectedAnswer *string
	Confidence      *float64
	// Fallback is set when the verdict was synthesized because the
	// validator output was unusable.
	Fallback bool
}

// Label is "approve" for a grounded verdict and "revise" otherwise.
func (v Verdict) Label() string {
	if v.Grounded {
		return LabelApprove
	}
	return LabelRevise
}

// FallbackVerdict is the fail-closed verdict for unusable validator output.
func FallbackVerdict() Verdict {
	return Verdict{Grounded: false, Issues: []string{FallbackIssue}, Fallback: true}
}

// surroundingFence matches a whole reply wrapped in one markdown code fence.
var surroundingFence = regexp.MustCompile("(?s)^```(?:json|JSON)?[ \t]*\n?(.*?)\n?```$")

var (
	groundedKeys  = []string{"grounded", "is_supported", "supported"}
	issueKeys     = []string{"issues", "reasons"}
	correctedKeys = []string{"corrected_answer", "correctedAnswer", "adjusted_answer", "final_answer"}
)

// ParseVerdict reads the validator's raw reply. It never fails: anything that
// is not a JSON object yields FallbackVerdict.
func ParseVerdict(raw string) Verdict {
	text := strings.TrimSpace(raw)
	if m := surroundingFence.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return FallbackVerdict()
	}

	v := Verdict{Issues: []string{}}

	boolVal, hasBool := firstPresent(obj, groundedKeys)
	labelVal, hasLabel := firstPresent(obj, []string{"verdict"})
	switch {
	case hasBool && hasLabel:
		v.Grounded = isTrue(boolVal) && isApprove(labelVal)
	case hasBool:
		v.Grounded = isTrue(boolVal)
	case hasLabel:
		v.Grounded = isApprove(labelVal)
	}

	if issues, ok := firstPresent(obj, issueKeys); ok {
		if list, ok := issues.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					v.Issues = append(v.Issues, s)
				}
			}
		}
	}

	if corrected, ok := firstPresent(obj, correctedKeys); ok {
		if s, ok := corrected.(string); ok && strings.TrimSpace(s) != "" {
			v.CorrectedAnswer = &s
		}
	}

	if c, ok := obj["confidence"].(float64); ok {
		v.Confidence = &c
	}
	return v
}

// firstPresent returns the value of the first key present in obj. A key
// holding JSON null counts as absent.
func firstPresent(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if val, ok := obj[k]; ok && val != nil {
			return val, true
		}
	}
	return nil, false
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func isApprove(v any) bool {
	s, ok := v.(string)
	return ok && strings.ToLower(strings.TrimSpace(s)) == LabelApprove
}
