// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/groundcheck/pkg/config"
	"github.com/AleutianAI/groundcheck/pkg/logging"
	"github.com/AleutianAI/groundcheck/pkg/ux"
	"github.com/AleutianAI/groundcheck/services/llm"
	"github.com/AleutianAI/groundcheck/services/orchestrator"
	"github.com/AleutianAI/groundcheck/services/pipeline"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

// annotationConfigOptional marks commands that run before a config file
// exists.
const annotationConfigOptional = "config-optional"

// app carries global flags and the loaded configuration to every command.
type app struct {
	configPath  string
	personality string
	logLevel    string
	apiKey      string

	cfg    config.Config
	logger *logging.Logger

	// Replaced by tests.
	lookup    config.LookupFunc
	generator llm.Generator
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
}

func newApp() *app {
	return &app{
		lookup: os.LookupEnv,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "groundcheck",
		Short: "Answer questions only from the context you give it",
		Long: `groundcheck drafts an answer from the supplied context, then asks a second,
stricter model call whether every claim in the draft is supported. Unsupported
drafts are replaced by the validator's correction or by a refusal.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Config file (default ~/.groundcheck/config.yaml)")
	root.PersistentFlags().StringVar(&a.personality, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "",
		"Log level override: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.apiKey, "api-key", "",
		"Backend API key (overrides the environment)")

	root.AddCommand(
		newAskCmd(a),
		newEvalCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// Execute runs root with a context cancelled on SIGINT/SIGTERM and reports
// the error, if any, through pkg/ux.
func (a *app) Execute(root *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := root.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errEvalFailed) {
		ux.Error(err.Error())
	}
	a.teardown()
	return err
}

// setup loads the configuration and installs logging and output settings.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	ux.SetOutput(a.stdout, a.stderr)
	if a.personality != "" {
		ux.SetPersonality(ux.Personality{Level: ux.ParsePersonalityLevel(a.personality)})
	} else {
		ux.InitPersonality(a.lookup)
	}

	path := a.resolvedConfigPath()
	if cmd.Annotations[annotationConfigOptional] != "" {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path, a.lookup)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	} else if cmd.Name() != "serve" {
		// One-shot commands keep stderr for the answer and errors.
		cfg.Logging.Level = "warn"
	}
	a.cfg = cfg

	logCfg, err := cfg.Logging.Logger("groundcheck")
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrConfiguration, err)
	}
	logCfg.Output = a.stderr
	a.logger = logging.New(logCfg)
	slog.SetDefault(a.logger.Slog())
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
	ux.SetOutput(nil, nil)
}

// credentialLookup puts --api-key in front of the environment.
func (a *app) credentialLookup() config.LookupFunc {
	key := strings.TrimSpace(a.apiKey)
	if key == "" {
		return a.lookup
	}
	return func(name string) (string, bool) {
		if name == "GROUNDCHECK_API_KEY" {
			return key, true
		}
		return a.lookup(name)
	}
}

func (a *app) orchestratorOptions() *orchestrator.Options {
	return &orchestrator.Options{
		Generator: a.generator,
		Lookup:    a.credentialLookup(),
		Logger:    slog.Default(),
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and supported backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.stdout, "groundcheck %s (%s)\nbackends: %s\n",
				version, commit, strings.Join(llm.Backends(), ", "))
			return err
		},
	}
}
