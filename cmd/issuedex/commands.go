// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	prefix     string
	verbose    bool

	includePRs    bool
	forcePull     bool
	updateNumbers []int
	exportOutput  string
	cleanYes      bool
	servePort     int

	rootCmd = &cobra.Command{
		Use:           "issuedex",
		Short:         "A local issue index with embeddings, metrics, and triage tools",
		Long: `Issuedex pulls a repository's issues and pull requests into a local
store, enriches them with embeddings and engagement metrics, and serves
similarity and triage queries over them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pullCmd = &cobra.Command{
		Use:   "pull [owner/repo]",
		Short: "Fetch all records from the configured start date",
		Args:  cobra.ExactArgs(1),
		RunE:  runPull, // Defined in cmd_pull.go
	}

	updateCmd = &cobra.Command{
		Use:   "update [owner/repo]",
		Short: "Fetch records changed since the last committed checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runUpdate, // Defined in cmd_pull.go
	}

	enrichCmd = &cobra.Command{
		Use:   "enrich [owner/repo]",
		Short: "Recompute embeddings, metrics, quartiles, and the similarity index",
		Args:  cobra.ExactArgs(1),
		RunE:  runEnrich, // Defined in cmd_pull.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve [owner/repo]",
		Short: "Serve the query API over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE:  runServe, // Defined in cmd_serve.go
	}

	exportCmd = &cobra.Command{
		Use:   "export [owner/repo]",
		Short: "Export records with triage recommendations to CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport, // Defined in cmd_tools.go
	}

	validateCmd = &cobra.Command{
		Use:   "validate [owner/repo]",
		Short: "Sweep the collection for integrity problems",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate, // Defined in cmd_tools.go
	}

	statsCmd = &cobra.Command{
		Use:   "stats [owner/repo]",
		Short: "Print collection statistics",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats, // Defined in cmd_tools.go
	}

	cleanCmd = &cobra.Command{
		Use:   "clean [owner/repo]",
		Short: "DANGER: Delete every record and checkpoint in the collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runClean, // Defined in cmd_tools.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.issuedex/issuedex.yaml)")
	rootCmd.PersistentFlags().StringVar(&prefix, "prefix", "", "Collection name prefix for side-by-side indexes")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	pullCmd.Flags().BoolVar(&includePRs, "include-prs", false, "Also fetch pull requests")
	pullCmd.Flags().BoolVar(&forcePull, "force", false, "Ignore the committed checkpoint and re-fetch from the start date")
	updateCmd.Flags().BoolVar(&includePRs, "include-prs", false, "Also fetch pull requests")
	updateCmd.Flags().IntSliceVar(&updateNumbers, "issues", nil, "Refresh only these issue numbers")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output CSV path (default <owner>_<repo>_recommendations.csv)")
	cleanCmd.Flags().BoolVar(&cleanYes, "yes", false, "Skip the confirmation prompt")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")

	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(enrichCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanCmd)
}
