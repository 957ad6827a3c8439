// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package app provides the command-line interface for the MEW gateway.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rjcorwin/mew-protocol-sub009/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mew-gateway",
	DisableAutoGenTag: true,
	Short:             "mew-gateway hosts a multi-entity workspace over WebSocket",
	Long: `mew-gateway hosts a MEW space: a shared workspace where humans, agents and
bridges exchange envelopes over WebSocket under capability enforcement.

Participants authenticate with bearer tokens from the space configuration.
Every envelope passes a capability check before it is routed, and every
routing decision is written to append-only JSONL audit logs.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		// Re-initialize so --debug takes effect after flag parsing.
		logger.Initialize()
	},
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the MEW gateway CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
