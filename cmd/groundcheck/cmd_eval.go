// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/groundcheck/pkg/ux"
	"github.com/AleutianAI/groundcheck/services/orchestrator"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// errEvalFailed is returned when at least one case missed its expectations.
// The per-case report has already been printed.
var errEvalFailed = errors.New("evaluation failed")

// =============================================================================
// Case File
// =============================================================================

// evalFile is the YAML document read by `groundcheck eval`.
//
//	context: |
//	  Open Mon-Fri 9am-5pm.
//	cases:
//	  - name: hours
//	    question: When are you open?
//	    expect_grounded: true
//	  - name: bikes
//	    question: Do you sell bikes?
//	    expect_refusal: true
type evalFile struct {
	// Context and Mode apply to every case that doesn't set its own.
	Context string     `yaml:"context"`
	Mode    string     `yaml:"mode"`
	Cases   []evalCase `yaml:"cases"`
}

type evalCase struct {
	Name     string `yaml:"name"`
	Question string `yaml:"question"`
	Context  string `yaml:"context"`
	Mode     string `yaml:"mode"`
	Locale   string `yaml:"locale"`

	ExpectGrounded *bool  `yaml:"expect_grounded"`
	ExpectFinal    string `yaml:"expect_final"`
	ExpectRefusal  bool   `yaml:"expect_refusal"`
	// ExpectError is "input", "configuration" or "upstream".
	ExpectError string `yaml:"expect_error"`
}

type evalResult struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Skipped  bool     `json:"skipped,omitempty"`
	Grounded *bool    `json:"grounded,omitempty"`
	Final    string   `json:"final,omitempty"`
	Error    string   `json:"error,omitempty"`
	Failures []string `json:"failures,omitempty"`
	Duration string   `json:"duration"`
}

type evalReport struct {
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Total   int          `json:"total"`
	Results []evalResult `json:"results"`
}

func loadEvalFile(path string) (*evalFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read cases: %w", pipeline.ErrInput, err)
	}
	var f evalFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse cases %s: %w", pipeline.ErrInput, path, err)
	}
	if len(f.Cases) == 0 {
		return nil, fmt.Errorf("%w: %s has no cases", pipeline.ErrInput, path)
	}
	for i := range f.Cases {
		c := &f.Cases[i]
		if c.Name == "" {
			c.Name = fmt.Sprintf("case-%d", i+1)
		}
		if c.Context == "" {
			c.Context = f.Context
		}
		if c.Mode == "" {
			c.Mode = f.Mode
		}
	}
	return &f, nil
}

// =============================================================================
// Command
// =============================================================================

func newEvalCmd(a *app) *cobra.Command {
	var (
		casesPath   string
		concurrency int
		failFast    bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Run a YAML file of questions and check each outcome",
		Long: `Runs every case in the file through the full pipeline, concurrently, and
compares the verdict and final answer with the case's expectations. Exits with
status 5 when any case fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := loadEvalFile(casesPath)
			if err != nil {
				return err
			}
			p, err := orchestrator.NewPipeline(a.cfg, a.orchestratorOptions())
			if err != nil {
				return err
			}

			report := runEval(cmd.Context(), p, file.Cases, concurrency, failFast)
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printEvalReport(report)
			}
			if report.Failed > 0 {
				return errEvalFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&casesPath, "cases", "cases.yaml", "YAML file of cases")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 4, "Cases run in parallel")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop starting new cases after the first failure")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

// runEval runs cases with at most concurrency in flight. Results keep the
// order of cases. With failFast, cases not yet started or still in flight
// when one fails are reported as skipped.
func runEval(ctx context.Context, p *pipeline.Pipeline, cases []evalCase, concurrency int, failFast bool) evalReport {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]evalResult, len(cases))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, c := range cases {
		g.Go(func() error {
			if gCtx.Err() != nil {
				results[i] = evalResult{Name: c.Name, Skipped: true, Duration: "0s"}
				return nil
			}
			results[i] = runCase(gCtx, p, c)
			if !results[i].Passed && results[i].Error != "" && gCtx.Err() != nil && ctx.Err() == nil {
				// Cut short by another case's failure.
				results[i] = evalResult{Name: c.Name, Skipped: true, Duration: results[i].Duration}
				return nil
			}
			if failFast && !results[i].Passed {
				return fmt.Errorf("case %s failed", c.Name)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := evalReport{Total: len(cases), Results: results}
	for _, r := range results {
		if r.Passed {
			report.Passed++
		} else if !r.Skipped {
			report.Failed++
		}
	}
	return report
}

func runCase(ctx context.Context, p *pipeline.Pipeline, c evalCase) evalResult {
	start := time.Now()
	r := evalResult{Name: c.Name}
	opts := pipeline.Options{Mode: pipeline.Mode(c.Mode), Locale: pipeline.Locale(c.Locale)}

	res, err := p.Answer(ctx, c.Question, c.Context, opts, nil)
	r.Duration = time.Since(start).Round(time.Millisecond).String()
	if err != nil {
		r.Error = err.Error()
	} else {
		grounded := res.Verdict.Grounded
		r.Grounded = &grounded
		r.Final = res.Final
	}
	r.Failures = checkCase(c, res, err)
	r.Passed = len(r.Failures) == 0
	return r
}

// checkCase compares one outcome against the case's expectations.
func checkCase(c evalCase, res *pipeline.Result, err error) []string {
	if c.ExpectError != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected %s error, got an answer", c.ExpectError)}
		}
		if kind := errorKind(err); kind != c.ExpectError {
			return []string{fmt.Sprintf("expected %s error, got %s", c.ExpectError, kind)}
		}
		return nil
	}
	if err != nil {
		return []string{"unexpected error: " + err.Error()}
	}

	var failures []string
	if c.ExpectGrounded != nil && *c.ExpectGrounded != res.Verdict.Grounded {
		failures = append(failures, fmt.Sprintf("grounded = %t, want %t", res.Verdict.Grounded, *c.ExpectGrounded))
	}
	if c.ExpectRefusal && res.Final != res.Locale.Refusal() {
		failures = append(failures, fmt.Sprintf("expected refusal, got %q", res.Final))
	}
	if c.ExpectFinal != "" && strings.TrimSpace(res.Final) != strings.TrimSpace(c.ExpectFinal) {
		failures = append(failures, fmt.Sprintf("final = %q, want %q", res.Final, c.ExpectFinal))
	}
	return failures
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrInput):
		return "input"
	case errors.Is(err, pipeline.ErrConfiguration):
		return "configuration"
	case errors.Is(err, pipeline.ErrUpstream):
		return "upstream"
	default:
		return "unknown"
	}
}

func printEvalReport(report evalReport) {
	for _, r := range report.Results {
		switch {
		case r.Skipped:
			ux.Muted(fmt.Sprintf("%s: skipped", r.Name))
		case r.Passed:
			ux.Success(fmt.Sprintf("%s (%s)", r.Name, r.Duration))
		default:
			ux.Error(fmt.Sprintf("%s: %s", r.Name, strings.Join(r.Failures, "; ")))
		}
	}
	ux.Summary(report.Passed, report.Failed, report.Total)
}
