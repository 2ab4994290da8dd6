// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"bytes"
	"fmt"
	"text/template"
)

// =============================================================================
// Prompt Builder
// =============================================================================

// promptData is rendered into every system instruction.
type promptData struct {
	Context string
	Refusal string
}

const responderTemplateEN = `You are Responder. Answer ONLY using the Provided Context.
- If the answer is not fully supported by the context, reply exactly: "{{.Refusal}}"
- Be concise and factual.
- Do not use outside knowledge, even if you are confident it is true.

Provided Context:
{{.Context}}`

const responderTemplateKO = `너는 매우 엄격한 어시스턴트다.
아래 Provided Context에 포함된 사실만 사용해서 간결하게 답하라.
직접적이지 않더라도 관련된 정보가 있으면 해당 정보도 포함하라.
강조를 위해 **를 사용하지 마라.
아래 정보에 근거가 없으면 정확히 다음 문장으로만 답하라:
"{{.Refusal}}"

Provided Context:
---
{{.Context}}
---`

const validatorTemplate = `You are Validator. Verify that the draft answer is FULLY supported by the
Provided Context. Any fact that does not appear in the context is unsupported,
even if it is true in the real world.

If any part of the draft is unsupported or speculative, set "grounded" to false,
list each problem in "issues", and put a corrected answer that ONLY uses the
context in "corrected_answer". If a correct answer cannot be formed from the
context, set "corrected_answer" to "{{.Refusal}}".
If the draft is exactly "{{.Refusal}}" and the context really does not answer
the question, the draft is grounded.

Output strict JSON with exactly these fields:
{"grounded": boolean, "issues": [string], "corrected_answer": string or null, "confidence": number between 0 and 1 or null}
Do not include any text outside the JSON object.

Provided Context:
{{.Context}}`

// PromptBuilder renders the responder and validator system instructions.
//
// # Thread Safety
//
// PromptBuilder is safe for concurrent use.
type PromptBuilder struct {
	responder map[Locale]*template.Template
	validator *template.Template
}

func NewPromptBuilder() (*PromptBuilder, error) {
	parse := func(name, text string) (*template.Template, error) {
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", name, err)
		}
		return tmpl, nil
	}

	en, err := parse("responder_en", responderTemplateEN)
	if err != nil {
		return nil, err
	}
	ko, err := parse("responder_ko", responderTemplateKO)
	if err != nil {
		return nil, err
	}
	validator, err := parse("validator", validatorTemplate)
	if err != nil {
		return nil, err
	}
	return &PromptBuilder{
		responder: map[Locale]*template.Template{LocaleEnglish: en, LocaleKorean: ko},
		validator: validator,
	}, nil
}

// ResponderSystem returns the responder's system instruction for locale.
func (p *PromptBuilder) ResponderSystem(context string, locale Locale) (string, error) {
	tmpl, ok := p.responder[locale]
	if !ok {
		tmpl = p.responder[LocaleEnglish]
	}
	return render(tmpl, promptData{Context: context, Refusal: locale.Refusal()})
}

// ValidatorSystem returns the validator's system instruction. The validator
// is always prompted in English; only the refusal sentence follows locale.
func (p *PromptBuilder) ValidatorSystem(context string, locale Locale) (string, error) {
	return render(p.validator, promptData{Context: context, Refusal: locale.Refusal()})
}

// ValidatorUser is the validator's user turn.
func ValidatorUser(question, draft string) string {
	return "Question:\n" + question + "\n\nDraft Answer:\n" + draft
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
