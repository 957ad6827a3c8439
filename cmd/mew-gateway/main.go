// SPDX-FileCopyrightText: Copyright 2026 MEW Protocol Authors
// SPDX-License-Identifier: MIT

// Package main is the entry point for the MEW gateway.
package main

import (
	"os"

	"github.com/rjcorwin/mew-protocol-sub009/cmd/mew-gateway/app"
	"github.com/rjcorwin/mew-protocol-sub009/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
