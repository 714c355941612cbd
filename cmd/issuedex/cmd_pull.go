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
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/issuedex/internal/github"
	"github.com/jinterlante1206/issuedex/internal/window"
)

func itemTypes() []window.ItemType {
	items := []window.ItemType{window.ItemIssues}
	if includePRs {
		items = append(items, window.ItemPullRequests)
	}
	return items
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runPull(cmd *cobra.Command, args []string) error {
	a, err := newApp("pull", args[0])
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	p, err := a.pipeline(nil)
	if err != nil {
		return err
	}
	stats, err := p.Pull(ctx, a.repo, a.col, itemTypes(), time.Now().UTC(), forcePull)
	if err != nil {
		return err
	}
	fmt.Printf("Pulled %s: %d windows, %d fetched, %d inserted, %d updated, %d unchanged, %d skipped\n",
		a.repo, stats.Windows, stats.Fetched, stats.Inserted, stats.Updated, stats.Unchanged, stats.Skipped)
	return nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp("update", args[0])
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	p, err := a.pipeline(nil)
	if err != nil {
		return err
	}

	// Targeted refresh bypasses window planning.
	if len(updateNumbers) > 0 {
		source := github.NewClient(a.cfg.GitHub, a.logger)
		stats, err := p.UpdateIssues(ctx, a.repo, a.col, updateNumbers, source.FetchIssue)
		if err != nil {
			return err
		}
		fmt.Printf("Refreshed %d records: %d updated, %d unchanged\n",
			stats.Fetched, stats.Updated, stats.Unchanged)
		return nil
	}

	stats, err := p.Pull(ctx, a.repo, a.col, itemTypes(), time.Now().UTC(), false)
	if err != nil {
		return err
	}
	fmt.Printf("Updated %s: %d windows, %d fetched, %d inserted, %d updated, %d unchanged, %d skipped\n",
		a.repo, stats.Windows, stats.Fetched, stats.Inserted, stats.Updated, stats.Unchanged, stats.Skipped)
	return nil
}

func runEnrich(cmd *cobra.Command, args []string) error {
	a, err := newApp("enrich", args[0])
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()

	p, err := a.pipeline(nil)
	if err != nil {
		return err
	}
	stats, err := p.Enrich(ctx, a.col, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("Enriched %s: %d records, %d embedded, %d cached, %d failed, %d summarized, %d indexed\n",
		a.repo, stats.Records, stats.Embedded, stats.Cached, stats.Failed, stats.Summarized, stats.Indexed)
	return nil
}
