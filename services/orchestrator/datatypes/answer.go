// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var answerValidate = validator.New()

// =============================================================================
// Request Types
// =============================================================================

// AnswerRequest is the body of POST /api/chat and POST /v1/answer.
//
// # Validation
//
// Question and Context presence is checked by the pipeline so that the
// "Missing question" / "Missing context" messages stay the same on every
// entry point. The tags below only cover the optional fields:
//   - Temperature: within [0,1]
//   - Mode: "blocking" or "advisory"
//   - Locale: "en" or "ko"
//   - Model: at most 128 bytes
type AnswerRequest struct {
	Question    string   `json:"question"`
	Context     string   `json:"context"`
	Model       string   `json:"model,omitempty" validate:"omitempty,max=128"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
	Mode        string   `json:"mode,omitempty" validate:"omitempty,oneof=blocking advisory"`
	Locale      string   `json:"locale,omitempty" validate:"omitempty,oneof=en ko"`
	APIKey      string   `json:"apiKey,omitempty" validate:"omitempty,max=512"`
}

func (r *AnswerRequest) Validate() error {
	return answerValidate.Struct(r)
}

// Options converts the optional fields to pipeline options.
func (r *AnswerRequest) Options() pipeline.Options {
	opts := pipeline.Options{
		Model:  r.Model,
		APIKey: r.APIKey,
		Mode:   pipeline.Mode(r.Mode),
		Locale: pipeline.Locale(r.Locale),
	}
	if r.Temperature != nil {
		t := float32(*r.Temperature)
		opts.Temperature = &t
	}
	return opts
}

// AskRequest is the body of POST /v1/ask. The context comes from the
// server's knowledge file.
type AskRequest struct {
	Question    string   `json:"question"`
	Model       string   `json:"model,omitempty" validate:"omitempty,max=128"`
	Temperature *float64 `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=1"`
	Mode        string   `json:"mode,omitempty" validate:"omitempty,oneof=blocking advisory"`
	Locale      string   `json:"locale,omitempty" validate:"omitempty,oneof=en ko"`
}

func (r *AskRequest) Validate() error {
	return answerValidate.Struct(r)
}

func (r *AskRequest) AnswerRequest(context string) AnswerRequest {
	return AnswerRequest{
		Question:    r.Question,
		Context:     context,
		Model:       r.Model,
		Temperature: r.Temperature,
		Mode:        r.Mode,
		Locale:      r.Locale,
	}
}

// =============================================================================
// Response Types
// =============================================================================

// AnswerResponse is the 200 body. Reasons and Issues carry the same list;
// Reasons keeps older clients working.
type AnswerResponse struct {
	Verdict         string   `json:"verdict"`
	Grounded        bool     `json:"grounded"`
	FinalAnswer     string   `json:"finalAnswer"`
	Reasons         []string `json:"reasons"`
	Issues          []string `json:"issues"`
	CorrectedAnswer *string  `json:"correctedAnswer,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Draft           string   `json:"draft"`
	Raw             string   `json:"raw"`
	Mode            string   `json:"mode"`
	Model           string   `json:"model"`
	RequestID       string   `json:"requestId,omitempty"`
}

func NewAnswerResponse(res *pipeline.Result, requestID string) AnswerResponse {
	issues := res.Verdict.Issues
	if issues == nil {
		issues = []string{}
	}
	return AnswerResponse{
		Verdict:         res.Verdict.Label(),
		Grounded:        res.Verdict.Grounded,
		FinalAnswer:     res.Final,
		Reasons:         issues,
		Issues:          issues,
		CorrectedAnswer: res.Verdict.CorrectedAnswer,
		Confidence:      res.Verdict.Confidence,
		Draft:           res.Draft,
		Raw:             res.Raw,
		Mode:            string(res.Mode),
		Model:           res.Model,
		RequestID:       requestID,
	}
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// ConfigSummary is the body of GET /v1/config. It never includes secrets.
type ConfigSummary struct {
	Backend          string   `json:"backend"`
	Model            string   `json:"model"`
	KeyLoaded        bool     `json:"keyLoaded"`
	KeySource        string   `json:"keySource,omitempty"`
	Locale           string   `json:"locale"`
	Mode             string   `json:"mode"`
	Temperature      float32  `json:"temperature"`
	GuardBlocks      []string `json:"guardBlocks"`
	PolicyHash       string   `json:"policyHash,omitempty"`
	KnowledgeLoaded  bool     `json:"knowledgeLoaded"`
	KnowledgeVersion string   `json:"knowledgeVersion,omitempty"`
}

// =============================================================================
// Stream Events
// =============================================================================

// StageEvent is one websocket message on /v1/answer/ws. The last message of
// a stream has Type "result" or "error".
type StageEvent struct {
	Type   string          `json:"type"` // "state", "result", "error"
	State  string          `json:"state,omitempty"`
	Draft  string          `json:"draft,omitempty"`
	Result *AnswerResponse `json:"result,omitempty"`
	Error  *ErrorResponse  `json:"error,omitempty"`
}
