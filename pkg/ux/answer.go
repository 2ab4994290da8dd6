// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"strings"
)

// AnswerView is what the CLI shows for one answered question.
type AnswerView struct {
	Final      string
	Grounded   bool
	Fallback   bool
	Issues     []string
	Confidence *float64
	Mode       string
	Model      string

	// Debug adds the draft and the raw validator text.
	Debug bool
	Draft string
	Raw   string
}

// Answer prints v in the current personality.
func Answer(v AnswerView) {
	out, _ := outputs()
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(out, "FINAL: %s\n", oneLine(v.Final))
		fmt.Fprintf(out, "VERDICT: %s\n", verdictLabel(v.Grounded))
		for _, issue := range v.Issues {
			fmt.Fprintf(out, "ISSUE: %s\n", oneLine(issue))
		}
		if v.Debug {
			fmt.Fprintf(out, "DRAFT: %s\n", oneLine(v.Draft))
			fmt.Fprintf(out, "RAW: %s\n", oneLine(v.Raw))
		}
		return
	}

	Box("Answer", v.Final)
	switch {
	case v.Grounded:
		Success("Grounded in the provided context")
	case v.Fallback:
		Warning("Validator reply was unreadable; answer withheld")
	case v.Mode == "advisory":
		Warning("Not grounded (advisory mode: draft shown as is)")
	default:
		Warning("Not grounded; answer revised")
	}
	for _, issue := range v.Issues {
		fmt.Fprintf(out, "  %s %s\n", IconBullet.Render(), issue)
	}
	if v.Confidence != nil {
		Muted(fmt.Sprintf("confidence %.2f · model %s", *v.Confidence, v.Model))
	} else if v.Model != "" {
		Muted("model " + v.Model)
	}
	if v.Debug {
		Box("Draft", v.Draft)
		raw := v.Raw
		if strings.TrimSpace(raw) == "" {
			raw = Styles.Muted.Render("(empty)")
		}
		Box("Validator output", raw)
	}
}

func verdictLabel(grounded bool) string {
	if grounded {
		return "approve"
	}
	return "revise"
}

// oneLine keeps machine output to one record per line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
