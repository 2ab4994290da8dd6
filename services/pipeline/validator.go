// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/AleutianAI/groundcheck/services/llm"
)

// ValidatorTemperature caps the requested temperature for the validator call.
func ValidatorTemperature(requested float32) float32 {
	return min(requested, ValidatorMaxTemp)
}

// Validate checks draft against the context. It returns the parsed verdict
// and the raw reply. Unparseable replies produce FallbackVerdict; only a
// failed backend call is an error.
func (p *Pipeline) Validate(ctx context.Context, question, contextText, draft string, opts Options) (Verdict, string, error) {
	question, contextText, err := p.checkInputs(question, contextText)
	if err != nil {
		return Verdict{}, "", err
	}
	c, err := p.resolve(ctx, opts)
	if err != nil {
		return Verdict{}, "", err
	}
	return p.validate(ctx, c, question, contextText, strings.TrimSpace(draft))
}

func (p *Pipeline) validate(ctx context.Context, c call, question, contextText, draft string) (Verdict, string, error) {
	system, err := p.prompts.ValidatorSystem(contextText, c.locale)
	if err != nil {
		return Verdict{}, "", configError(StageValidator, "validator prompt", err)
	}
	gc := llm.GenerationConfig{
		Model:          c.model,
		Temperature:    llm.Float32(ValidatorTemperature(c.temperature)),
		ResponseFormat: llm.FormatStructured,
	}
	if p.cfg.ValidatorMaxTokens > 0 {
		gc.MaxOutputTokens = llm.Int(p.cfg.ValidatorMaxTokens)
	}
	raw, err := p.generate(ctx, StageValidator, c, system, ValidatorUser(question, draft), gc)
	if errors.Is(err, llm.ErrEmptyResponse) {
		// An empty reply is unusable output, not a failed call.
		raw, err = "", nil
	}
	if err != nil {
		return Verdict{}, "", err
	}
	verdict := ParseVerdict(raw)
	if verdict.Fallback {
		p.logger.Warn("validator reply was not a JSON object", "stage", StageValidator, "raw_length", len(raw))
	}
	return verdict, raw, nil
}
