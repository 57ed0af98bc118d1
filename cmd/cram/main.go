// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command cram runs the CRAM books/students/planner service.
//
// Usage:
//
//	cram serve [--config cram.yaml] [--port 8080] [--debug]
//	cram find 青チャート --entity books --limit 5
//	cram version
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/cram/health
//
//	# Find a book
//	curl -X POST http://localhost:8080/v1/cram/exec \
//	  -H "Content-Type: application/json" \
//	  -d '{"op": "books.find", "query": "青チャート"}'
//
//	# Same through GET
//	curl 'http://localhost:8080/v1/cram/exec?op=books.get&book_id=gMB001&book_id=gEC001'
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/config"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "cram",
	Short:         "CRAM books, students and planner service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "cram", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults are embedded)")
	rootCmd.AddCommand(serveCmd, findCmd, versionCmd)
}

// loadConfig reads --config over the defaults and applies CRAM_* variables.
func loadConfig(ctx context.Context) (*config.Config, error) {
	return config.LoadFile(ctx, configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cram:", err)
		os.Exit(1)
	}
}
