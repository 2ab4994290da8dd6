// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/groundcheck/services/llm"
	"github.com/AleutianAI/groundcheck/services/orchestrator/datatypes"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Harness
// =============================================================================

// storeBackend drafts "Open 9 to 5." and approves the draft unless the
// question mentions bikes.
var storeBackend = llm.GeneratorFunc(func(_ context.Context, _, user string, cfg llm.GenerationConfig) (string, error) {
	if cfg.ResponseFormat != llm.FormatStructured {
		return "Open 9 to 5.", nil
	}
	if strings.Contains(user, "bikes") {
		return `{"grounded": false, "issues": ["bikes are not mentioned"]}`, nil
	}
	return `{"grounded": true, "issues": [], "confidence": 0.9}`, nil
})

type cliResult struct {
	code   int
	stdout string
	stderr string
}

// runCLI executes args against a fresh app with gen as the backend, an
// empty environment and a temporary config file.
func runCLI(t *testing.T, gen llm.Generator, stdin string, args ...string) cliResult {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("llm:\n  model: test-model\n"), 0o600))
	return runCLIWithConfig(t, gen, stdin, cfgPath, args...)
}

func runCLIWithConfig(t *testing.T, gen llm.Generator, stdin, cfgPath string, args ...string) cliResult {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp()
	a.lookup = func(string) (string, bool) { return "", false }
	a.generator = gen
	a.stdin = strings.NewReader(stdin)
	a.stdout = &out
	a.stderr = &errOut

	cmd := newRootCmd(a)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--personality", "machine"}, args...))
	code := exitCode(a.Execute(cmd))
	return cliResult{code: code, stdout: out.String(), stderr: errOut.String()}
}

func writeCases(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// =============================================================================
// ask
// =============================================================================

func TestAsk_Grounded(t *testing.T) {
	res := runCLI(t, storeBackend, "", "ask", "When", "are", "you", "open?", "--context", "Open 9 to 5.")

	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, "FINAL: Open 9 to 5.\nVERDICT: approve\n", res.stdout)
}

func TestAsk_UngroundedRefuses(t *testing.T) {
	res := runCLI(t, storeBackend, "", "ask", "-q", "Do you sell bikes?", "-c", "Open 9 to 5.", "--debug")

	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "FINAL: "+pipeline.RefusalEnglish)
	assert.Contains(t, res.stdout, "VERDICT: revise")
	assert.Contains(t, res.stdout, "ISSUE: bikes are not mentioned")
	assert.Contains(t, res.stdout, "DRAFT: Open 9 to 5.")
}

func TestAsk_KoreanRefusal(t *testing.T) {
	res := runCLI(t, storeBackend, "", "ask", "-q", "Do you sell bikes?", "-c", "Open 9 to 5.", "--locale", "ko")

	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "FINAL: "+pipeline.RefusalKorean)
}

func TestAsk_AdvisoryKeepsDraft(t *testing.T) {
	res := runCLI(t, storeBackend, "", "ask", "-q", "Do you sell bikes?", "-c", "Open 9 to 5.", "--mode", "advisory")

	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "FINAL: Open 9 to 5.")
	assert.Contains(t, res.stdout, "VERDICT: revise")
}

func TestAsk_JSON(t *testing.T) {
	res := runCLI(t, storeBackend, "", "ask", "-q", "Hours?", "-c", "Open 9 to 5.", "--json", "--temperature", "0.5")
	require.Equal(t, exitOK, res.code, res.stderr)

	var resp datatypes.AnswerResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "approve", resp.Verdict)
	assert.Equal(t, "Open 9 to 5.", resp.FinalAnswer)
	assert.Equal(t, "test-model", resp.Model)
	require.NotNil(t, resp.Confidence)
	assert.InDelta(t, 0.9, *resp.Confidence, 1e-9)
}

func TestAsk_ContextFromStdin(t *testing.T) {
	var seen string
	gen := llm.GeneratorFunc(func(ctx context.Context, system, user string, cfg llm.GenerationConfig) (string, error) {
		if cfg.ResponseFormat != llm.FormatStructured {
			seen = system
		}
		return storeBackend(ctx, system, user, cfg)
	})
	res := runCLI(t, gen, "Closed on Sundays.", "ask", "-q", "Sunday?", "--context-file", "-")

	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, seen, "Closed on Sundays.")
}

func TestAsk_ContextFileMissing(t *testing.T) {
	res := runCLI(t, storeBackend, "", "ask", "-q", "Hours?", "--context-file", filepath.Join(t.TempDir(), "none.txt"))
	assert.Equal(t, exitInput, res.code)
	assert.Contains(t, res.stderr, "read context file")
}

func TestAsk_InputErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no question", []string{"ask", "-c", "Open 9 to 5."}},
		{"no context", []string{"ask", "-q", "Hours?"}},
		{"temperature", []string{"ask", "-q", "Hours?", "-c", "x", "-t", "1.5"}},
		{"mode", []string{"ask", "-q", "Hours?", "-c", "x", "--mode", "lenient"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := runCLI(t, storeBackend, "", tc.args...)
			assert.Equal(t, exitInput, res.code, res.stderr)
			assert.Contains(t, res.stderr, "ERROR:")
		})
	}
}

func TestAsk_UpstreamFailure(t *testing.T) {
	down := llm.GeneratorFunc(func(context.Context, string, string, llm.GenerationConfig) (string, error) {
		return "", &llm.StatusError{Provider: "gemini", StatusCode: 503, Body: "unavailable"}
	})
	res := runCLI(t, down, "", "ask", "-q", "Hours?", "-c", "Open 9 to 5.")
	assert.Equal(t, exitUpstream, res.code)
}

func TestAsk_MissingCredential(t *testing.T) {
	res := runCLI(t, nil, "", "ask", "-q", "Hours?", "-c", "Open 9 to 5.")
	assert.Equal(t, exitConfig, res.code)
	assert.Contains(t, res.stderr, "GEMINI_API_KEY")
}

func TestBadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  temperature: 3\n"), 0o600))

	res := runCLIWithConfig(t, storeBackend, "", path, "ask", "-q", "Hours?", "-c", "x")
	assert.Equal(t, exitConfig, res.code)
}

// =============================================================================
// eval
// =============================================================================

const storeCases = `context: Open 9 to 5.
cases:
  - name: hours
    question: When are you open?
    expect_grounded: true
    expect_final: Open 9 to 5.
  - name: bikes
    question: Do you sell bikes?
    expect_refusal: true
  - name: empty
    question: "   "
    expect_error: input
`

func TestEval_AllPass(t *testing.T) {
	res := runCLI(t, storeBackend, "", "eval", "--cases", writeCases(t, storeCases), "-j", "2")

	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "OK: hours")
	assert.Contains(t, res.stdout, "OK: bikes")
	assert.Contains(t, res.stdout, "SUMMARY: passed=3 failed=0 total=3")
}

func TestEval_Mismatch(t *testing.T) {
	cases := storeCases + `  - name: wrong
    question: Do you sell bikes?
    expect_grounded: true
`
	res := runCLI(t, storeBackend, "", "eval", "--cases", writeCases(t, cases), "--json")
	assert.Equal(t, exitEvalFailure, res.code)

	var report evalReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, 3, report.Passed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 4)
	assert.Equal(t, "wrong", report.Results[3].Name)
	assert.Equal(t, []string{"grounded = false, want true"}, report.Results[3].Failures)
}

func TestEval_FailFastSkips(t *testing.T) {
	cases := `context: Open 9 to 5.
cases:
  - question: Do you sell bikes?
    expect_grounded: true
  - question: When are you open?
  - question: When are you open?
`
	res := runCLI(t, storeBackend, "", "eval", "--cases", writeCases(t, cases), "-j", "1", "--fail-fast", "--json")
	assert.Equal(t, exitEvalFailure, res.code)

	var report evalReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, "case-1", report.Results[0].Name)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, report.Results[2].Skipped)
}

func TestEval_FailFastSkipsInFlight(t *testing.T) {
	// Questions about hours block until cancelled.
	gen := llm.GeneratorFunc(func(ctx context.Context, system, user string, cfg llm.GenerationConfig) (string, error) {
		if strings.Contains(user, "hours") {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return storeBackend(ctx, system, user, cfg)
	})
	cases := `context: Open 9 to 5.
cases:
  - name: fails
    question: Do you sell bikes?
    expect_grounded: true
  - name: in-flight
    question: What are your hours?
`
	res := runCLI(t, gen, "", "eval", "--cases", writeCases(t, cases), "-j", "2", "--fail-fast", "--json")
	assert.Equal(t, exitEvalFailure, res.code)

	var report evalReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	require.Len(t, report.Results, 2)
	assert.Equal(t, 1, report.Failed)
	assert.False(t, report.Results[0].Skipped)
	assert.True(t, report.Results[1].Skipped, "%+v", report.Results[1])
	assert.Empty(t, report.Results[1].Failures)
}

func TestEval_BadCasesFile(t *testing.T) {
	res := runCLI(t, storeBackend, "", "eval", "--cases", writeCases(t, "cases: []\n"))
	assert.Equal(t, exitInput, res.code)
	assert.Contains(t, res.stderr, "has no cases")
}

func TestCheckCase(t *testing.T) {
	yes := true
	res := &pipeline.Result{
		Final:   "Open 9 to 5.",
		Verdict: pipeline.Verdict{Grounded: true},
		Locale:  pipeline.LocaleEnglish,
	}

	assert.Empty(t, checkCase(evalCase{ExpectGrounded: &yes, ExpectFinal: " Open 9 to 5. "}, res, nil))
	assert.Len(t, checkCase(evalCase{ExpectRefusal: true}, res, nil), 1)
	assert.Equal(t, []string{"expected upstream error, got an answer"}, checkCase(evalCase{ExpectError: "upstream"}, res, nil))

	inputErr := fmt.Errorf("%w: question is empty", pipeline.ErrInput)
	assert.Equal(t, []string{"expected upstream error, got input"}, checkCase(evalCase{ExpectError: "upstream"}, nil, inputErr))
	assert.Empty(t, checkCase(evalCase{ExpectError: "input"}, nil, inputErr))
}

// =============================================================================
// config / version
// =============================================================================

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	res := runCLIWithConfig(t, nil, "", path, "config", "init")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.FileExists(t, path)

	res = runCLIWithConfig(t, nil, "", path, "config", "init")
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "already exists")

	res = runCLIWithConfig(t, nil, "", path, "config", "path")
	assert.Equal(t, path+"\n", res.stdout)

	res = runCLIWithConfig(t, nil, "", path, "--api-key", "sk-cli", "config", "show")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "backend: gemini")
	assert.Contains(t, res.stdout, "# api key: loaded from GROUNDCHECK_API_KEY")
	assert.NotContains(t, res.stdout, "sk-cli")

	res = runCLIWithConfig(t, nil, "", path, "config", "show")
	assert.Contains(t, res.stdout, "# api key: missing")
}

func TestVersion(t *testing.T) {
	res := runCLI(t, nil, "", "version")
	require.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, "groundcheck dev")
	assert.Contains(t, res.stdout, "ollama")
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errEvalFailed, exitEvalFailure},
		{fmt.Errorf("%w: x", pipeline.ErrInput), exitInput},
		{fmt.Errorf("%w: x", pipeline.ErrConfiguration), exitConfig},
		{&pipeline.Error{Kind: pipeline.ErrUpstream, Message: "down"}, exitUpstream},
		{errors.New("other"), exitError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, exitCode(tc.err), "%v", tc.err)
	}
}
