// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command issuedex maintains a local, queryable index of a GitHub
// repository's issues and pull requests.
//
// Usage:
//
//	issuedex pull owner/repo          # first run, fetch from start date
//	issuedex update owner/repo        # incremental fetch from checkpoint
//	issuedex enrich owner/repo        # embeddings, metrics, quartiles
//	issuedex serve owner/repo         # HTTP query API
//	issuedex export owner/repo        # triage recommendations as CSV
//	issuedex stats owner/repo
//	issuedex validate owner/repo
//	issuedex clean owner/repo --yes
//
// Credentials come from the config file or the GITHUB_TOKEN and
// MISTRAL_API_KEY environment variables.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
