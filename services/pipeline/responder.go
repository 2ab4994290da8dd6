// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"

	"github.com/AleutianAI/groundcheck/services/llm"
)

// Respond produces a draft answer from the context alone. The refusal
// sentence is a valid draft, not an error.
func (p *Pipeline) Respond(ctx context.Context, question, contextText string, opts Options) (string, error) {
	question, contextText, err := p.checkInputs(question, contextText)
	if err != nil {
		return "", err
	}
	c, err := p.resolve(ctx, opts)
	if err != nil {
		return "", err
	}
	return p.respond(ctx, c, question, contextText)
}

func (p *Pipeline) respond(ctx context.Context, c call, question, contextText string) (string, error) {
	system, err := p.prompts.ResponderSystem(contextText, c.locale)
	if err != nil {
		return "", configError(StageResponder, "responder prompt", err)
	}
	gc := llm.GenerationConfig{
		Model:          c.model,
		Temperature:    llm.Float32(c.temperature),
		ResponseFormat: llm.FormatText,
	}
	if p.cfg.ResponderMaxTokens > 0 {
		gc.MaxOutputTokens = llm.Int(p.cfg.ResponderMaxTokens)
	}
	return p.generate(ctx, StageResponder, c, system, question, gc)
}
