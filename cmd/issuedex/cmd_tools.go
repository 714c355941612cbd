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
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/issuedex/internal/export"
	"github.com/jinterlante1206/issuedex/internal/simindex"
)

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp("export", args[0])
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	collection, err := a.store.All(ctx, a.col)
	if err != nil {
		return err
	}

	path := exportOutput
	if path == "" {
		path = export.DefaultPath(a.repo)
	}
	rows, err := export.WriteFile(path, collection)
	if err != nil {
		return err
	}
	if rows == 0 {
		fmt.Println("No records with recommendations to export")
		return nil
	}
	fmt.Printf("Exported %d records to %s\n", rows, path)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := newApp("validate", args[0])
	if err != nil {
		return err
	}
	defer a.Close()

	svc := a.queryService(&simindex.Holder{})
	report, err := svc.Validate(cmd.Context())
	if err != nil {
		return err
	}
	if report.OK() {
		fmt.Printf("OK: %d records, no problems found\n", report.Records)
		return nil
	}
	for _, p := range report.Problems {
		fmt.Printf("#%d: %s\n", p.Number, p.Message)
	}
	return fmt.Errorf("%d problems across %d records", len(report.Problems), report.Records)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := newApp("stats", args[0])
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	svc := a.queryService(&simindex.Holder{})
	stats, err := svc.GetStats(ctx)
	if err != nil {
		return err
	}

	collection, err := a.store.All(ctx, a.col)
	if err != nil {
		return err
	}
	actions := map[string]int{}
	var lastUpdate time.Time
	for _, issue := range collection {
		if issue.UpdatedAt.After(lastUpdate) {
			lastUpdate = issue.UpdatedAt
		}
		for _, rec := range issue.Recommendations {
			actions[string(rec.Action)]++
		}
	}

	fmt.Printf("Collection: %s\n", stats.Collection)
	fmt.Printf("Records:    %d (%d pull requests)\n", stats.Records, stats.PullRequests)
	fmt.Printf("States:     %d open, %d closed, %d merged\n", stats.Open, stats.Closed, stats.Merged)
	fmt.Printf("Enriched:   %d embedded, %d with metrics, %d summarized\n",
		stats.Embedded, stats.Enriched, stats.Summarized)
	fmt.Printf("Triaged:    %d records with recommendations\n", stats.Recommended)
	if len(actions) > 0 {
		names := make([]string, 0, len(actions))
		for name := range actions {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("Recommendations:")
		for _, name := range names {
			fmt.Printf("  %-20s %d\n", name, actions[name])
		}
	}
	if !lastUpdate.IsZero() {
		fmt.Printf("Last update: %s\n", lastUpdate.UTC().Format(time.RFC3339))
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	a, err := newApp("clean", args[0])
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	count, err := a.store.Count(ctx, a.col)
	if err != nil {
		return err
	}

	if !cleanYes {
		fmt.Printf("Delete %d records in collection %s? Type 'yes' to confirm: ", count, a.col)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := a.store.Purge(ctx, a.col); err != nil {
		return err
	}
	fmt.Printf("Deleted collection %s (%d records)\n", a.col, count)
	return nil
}
