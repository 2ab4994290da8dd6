// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"fmt"
	"strings"
)

// Mode decides whether the validator can replace the draft.
type Mode string

const (
	// ModeBlocking replaces an ungrounded draft with the correction or refusal.
	ModeBlocking Mode = "blocking"
	// ModeAdvisory always returns the draft; the verdict is informational.
	ModeAdvisory Mode = "advisory"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBlocking:
		return ModeBlocking, nil
	case ModeAdvisory:
		return ModeAdvisory, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Locale selects the refusal sentence and responder instructions.
type Locale string

const (
	LocaleEnglish Locale = "en"
	LocaleKorean  Locale = "ko"
)

const (
	RefusalEnglish = "I don't know based on the provided context."
	RefusalKorean  = "제공된 정보에 기반해선 알 수 없습니다."
)

func ParseLocale(s string) (Locale, error) {
	switch Locale(strings.ToLower(strings.TrimSpace(s))) {
	case "", LocaleEnglish:
		return LocaleEnglish, nil
	case LocaleKorean:
		return LocaleKorean, nil
	}
	return "", fmt.Errorf("unknown locale %q", s)
}

// Refusal returns the exact sentence used when the context cannot answer.
func (l Locale) Refusal() string {
	if l == LocaleKorean {
		return RefusalKorean
	}
	return RefusalEnglish
}

// Options are the per-call overrides. Zero values fall back to the
// pipeline's configured defaults.
type Options struct {
	Model       string
	Temperature *float32
	// APIKey replaces the server credential for this call only.
	APIKey string
	Locale Locale
	Mode   Mode
}
