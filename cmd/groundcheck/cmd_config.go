// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/AleutianAI/groundcheck/pkg/config"
	"github.com/AleutianAI/groundcheck/pkg/ux"
	"github.com/AleutianAI/groundcheck/services/llm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write the default configuration file",
			Args:  cobra.NoArgs,
			Annotations: map[string]string{
				annotationConfigOptional: "true",
			},
			RunE: func(cmd *cobra.Command, _ []string) error {
				path := a.resolvedConfigPath()
				if err := config.WriteDefault(path); err != nil {
					return err
				}
				ux.Success("Wrote " + path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			Annotations: map[string]string{
				annotationConfigOptional: "true",
			},
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := fmt.Fprintln(a.stdout, a.resolvedConfigPath())
				return err
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration and credential status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				data, err := yaml.Marshal(a.cfg)
				if err != nil {
					return err
				}
				if _, err := a.stdout.Write(data); err != nil {
					return err
				}
				_, err = fmt.Fprintf(a.stdout, "# api key: %s\n", a.keyStatus())
				return err
			},
		},
	)
	return cmd
}

func (a *app) resolvedConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	return config.DefaultPath()
}

// keyStatus reports where the credential comes from without revealing it.
func (a *app) keyStatus() string {
	cred, err := llm.ResolveCredential(a.cfg.LLM.Backend, llm.CredentialOptions{
		ExtraEnv:   a.cfg.LLM.APIKeyEnv,
		SecretsDir: a.cfg.LLM.SecretsDir,
		Lookup:     a.credentialLookup(),
	})
	switch {
	case err != nil:
		return "missing"
	case cred == nil:
		return "not required"
	default:
		return "loaded from " + cred.Source()
	}
}
