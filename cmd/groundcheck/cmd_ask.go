// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/groundcheck/pkg/ux"
	"github.com/AleutianAI/groundcheck/services/orchestrator"
	"github.com/AleutianAI/groundcheck/services/orchestrator/datatypes"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/spf13/cobra"
)

type askFlags struct {
	question    string
	context     string
	contextFile string
	model       string
	temperature float64
	mode        string
	locale      string
	debug       bool
	json        bool
}

func newAskCmd(a *app) *cobra.Command {
	var f askFlags
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question from the given context",
		Example: `  groundcheck ask "What are the store hours?" --context "Open Mon-Fri 9am-5pm."
  cat faq.txt | groundcheck ask "Do you ship abroad?" --context-file - --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAsk(cmd, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.question, "question", "q", "", "Question (or pass it as arguments)")
	cmd.Flags().StringVarP(&f.context, "context", "c", "", "Context text to answer from")
	cmd.Flags().StringVarP(&f.contextFile, "context-file", "f", "", "Read the context from a file, or - for stdin")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model override")
	cmd.Flags().Float64VarP(&f.temperature, "temperature", "t", 0, "Responder temperature in [0,1]")
	cmd.Flags().StringVar(&f.mode, "mode", "", "blocking or advisory")
	cmd.Flags().StringVar(&f.locale, "locale", "", "Refusal language: en or ko")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Show the draft and the raw validator output")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the full result as JSON")
	cmd.MarkFlagsMutuallyExclusive("context", "context-file")
	return cmd
}

func (a *app) runAsk(cmd *cobra.Command, f askFlags, args []string) error {
	question := f.question
	if question == "" {
		question = strings.Join(args, " ")
	}
	contextText, err := a.readContext(f.context, f.contextFile)
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Model:  f.model,
		Mode:   pipeline.Mode(f.mode),
		Locale: pipeline.Locale(f.locale),
	}
	if cmd.Flags().Changed("temperature") {
		t := float32(f.temperature)
		opts.Temperature = &t
	}

	p, err := orchestrator.NewPipeline(a.cfg, a.orchestratorOptions())
	if err != nil {
		return err
	}

	var spin *ux.Spinner
	observe := func(e pipeline.Event) {
		switch e.State {
		case pipeline.StateAwaitingDraft:
			spin = ux.NewSpinner("Drafting answer")
			spin.Start()
		case pipeline.StateAwaitingVerdict:
			spin.UpdateMessage("Validating draft")
		case pipeline.StateResolved, pipeline.StateFailed:
			if spin != nil {
				spin.Stop()
			}
		}
	}
	if f.json {
		observe = nil
	}

	res, err := p.Answer(cmd.Context(), question, contextText, opts, observe)
	if err != nil {
		return err
	}

	if f.json {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(datatypes.NewAnswerResponse(res, ""))
	}
	ux.Answer(ux.AnswerView{
		Final:      res.Final,
		Grounded:   res.Verdict.Grounded,
		Fallback:   res.Verdict.Fallback,
		Issues:     res.Verdict.Issues,
		Confidence: res.Verdict.Confidence,
		Mode:       string(res.Mode),
		Model:      res.Model,
		Debug:      f.debug,
		Draft:      res.Draft,
		Raw:        res.Raw,
	})
	return nil
}

// readContext returns inline text, or the contents of path ("-" is stdin).
func (a *app) readContext(inline, path string) (string, error) {
	switch path {
	case "":
		return inline, nil
	case "-":
		data, err := io.ReadAll(a.stdin)
		if err != nil {
			return "", fmt.Errorf("%w: read context from stdin: %w", pipeline.ErrInput, err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: read context file: %w", pipeline.ErrInput, err)
		}
		return string(data), nil
	}
}
