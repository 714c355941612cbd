// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates the pull and enrich passes over a
// collection.
//
// Pull walks fetch windows per item type, merges each window's batch,
// and commits records and checkpoint together, so an interrupt leaves
// the collection consistent and resumable. Enrich recomputes derived
// fields over the whole collection under an exclusive lock and swaps
// in a fresh similarity index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jinterlante1206/issuedex/internal/config"
	"github.com/jinterlante1206/issuedex/internal/embed"
	"github.com/jinterlante1206/issuedex/internal/github"
	"github.com/jinterlante1206/issuedex/internal/merge"
	"github.com/jinterlante1206/issuedex/internal/metrics"
	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/internal/simindex"
	"github.com/jinterlante1206/issuedex/internal/store"
	"github.com/jinterlante1206/issuedex/internal/window"
	"github.com/jinterlante1206/issuedex/pkg/logging"
)

// Neighbors is how many nearest neighbors feed a record's mean
// neighbor distance.
const Neighbors = 4

// overlapMargin rewinds the resume boundary so records updated right
// at a committed window edge are re-observed. Merging makes the
// re-delivery a no-op.
const overlapMargin = 24 * time.Hour

// Source fetches one window of records. The production implementation
// is the GitHub client.
type Source interface {
	FetchWindow(ctx context.Context, repo string, item window.ItemType, w window.Window) (*github.FetchResult, error)
}

// Pipeline wires the fetch, merge, and enrichment stages together.
type Pipeline struct {
	store    *store.Store
	source   Source
	merger   *merge.Engine
	embedder *embed.Engine
	metrics  *metrics.Engine
	planner  window.Planner
	holder   *simindex.Holder
	cfg      config.Config
	logger   *logging.Logger
}

// New assembles a pipeline. holder may be shared with a query service
// so enrichment publishes indexes to live readers.
func New(st *store.Store, source Source, embedder *embed.Engine, holder *simindex.Holder, cfg config.Config, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	planner := window.NewPlanner()
	planner.Overlap = overlapMargin
	if cfg.Pull.WindowDays > 0 {
		planner.Width = time.Duration(cfg.Pull.WindowDays) * 24 * time.Hour
	}
	if holder == nil {
		holder = &simindex.Holder{}
	}
	return &Pipeline{
		store:    st,
		source:   source,
		merger:   merge.NewEngine(logger),
		embedder: embedder,
		metrics:  metrics.NewEngine(cfg.Metrics),
		planner:  planner,
		holder:   holder,
		cfg:      cfg,
		logger:   logger.With("component", "pipeline"),
	}
}

// Holder returns the index holder enrichment publishes to.
func (p *Pipeline) Holder() *simindex.Holder { return p.holder }

// PullStats aggregates one pull run.
type PullStats struct {
	Windows   int
	Fetched   int
	Inserted  int
	Updated   int
	Unchanged int
	Rejected  int
	Skipped   int
}

// Pull fetches every pending window for the given item types and
// merges the results into the collection.
//
// Each window commits atomically with its checkpoint advance before
// the next window starts, so cancellation between windows loses
// nothing. Window boundaries overlap by the planner's overlap margin;
// the merge engine makes the re-delivered records no-ops.
func (p *Pipeline) Pull(ctx context.Context, repo, col string, items []window.ItemType, now time.Time, force bool) (PullStats, error) {
	var stats PullStats

	for _, item := range items {
		cp, found, err := p.store.Checkpoint(ctx, col, item)
		if err != nil {
			return stats, err
		}
		if !found || cp.IsZero() || force {
			start, err := p.startDate(now)
			if err != nil {
				return stats, err
			}
			cp = window.Checkpoint{StartDate: start}
		}

		for w := range p.planner.Plan(cp, now, force) {
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			res, err := p.source.FetchWindow(ctx, repo, item, w)
			if err != nil {
				return stats, fmt.Errorf("fetch %s window %s: %w", item, w.Start.Format("2006-01-02"), err)
			}
			stats.Windows++
			stats.Fetched += len(res.Issues)
			stats.Skipped += res.Skipped

			existing, err := p.existingFor(ctx, col, res.Issues)
			if err != nil {
				return stats, err
			}
			mres := p.merger.Apply(existing, res.Issues)
			stats.Inserted += mres.Inserted
			stats.Updated += mres.Updated
			stats.Unchanged += mres.Unchanged
			stats.Rejected += mres.Rejected

			changed := make([]*record.Issue, 0, len(mres.Changed))
			for _, n := range mres.Changed {
				changed = append(changed, existing[n])
			}

			cp = cp.Advance(w.End)
			if err := p.store.CommitWindow(ctx, col, changed, item, cp); err != nil {
				return stats, fmt.Errorf("commit window: %w", err)
			}
			p.logger.Info("window committed",
				"collection", col,
				"type", string(item),
				"end", w.End,
				"inserted", mres.Inserted,
				"updated", mres.Updated,
			)
		}
	}
	return stats, nil
}

// existingFor loads just the stored versions of an incoming batch.
func (p *Pipeline) existingFor(ctx context.Context, col string, incoming []*record.Issue) (map[int]*record.Issue, error) {
	out := make(map[int]*record.Issue, len(incoming))
	for _, in := range incoming {
		stored, err := p.store.Get(ctx, col, in.Number)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		out[in.Number] = stored
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// UpdateIssues refreshes specific records by number outside the window
// flow, merging them like any fetched batch.
func (p *Pipeline) UpdateIssues(ctx context.Context, repo, col string, numbers []int, fetch func(ctx context.Context, repo string, number int) (*record.Issue, error)) (PullStats, error) {
	var stats PullStats
	var batch []*record.Issue
	for _, n := range numbers {
		issue, err := fetch(ctx, repo, n)
		if err != nil {
			return stats, fmt.Errorf("fetch #%d: %w", n, err)
		}
		batch = append(batch, issue)
	}
	stats.Fetched = len(batch)

	existing, err := p.existingFor(ctx, col, batch)
	if err != nil {
		return stats, err
	}
	mres := p.merger.Apply(existing, batch)
	stats.Inserted = mres.Inserted
	stats.Updated = mres.Updated
	stats.Unchanged = mres.Unchanged
	stats.Rejected = mres.Rejected

	changed := make([]*record.Issue, 0, len(mres.Changed))
	for _, n := range mres.Changed {
		changed = append(changed, existing[n])
	}
	return stats, p.store.PutAll(ctx, col, changed)
}

// EnrichStats aggregates one enrichment pass.
type EnrichStats struct {
	Records    int
	Embedded   int
	Cached     int
	Failed     int
	Summarized int
	Indexed    int
}

// Enrich recomputes embeddings, metrics, neighbor distances,
// quartiles, and optionally summaries for the whole collection, then
// persists the records and publishes a fresh similarity index.
//
// The pass holds the collection's enrichment lock; concurrent enrich
// runs would race on derived fields and waste provider budget.
func (p *Pipeline) Enrich(ctx context.Context, col string, now time.Time) (EnrichStats, error) {
	var stats EnrichStats

	if err := p.store.Lock(ctx, col); err != nil {
		return stats, err
	}
	defer func() {
		if err := p.store.Unlock(context.WithoutCancel(ctx), col); err != nil {
			p.logger.Error("failed to release enrichment lock", "collection", col, "error", err)
		}
	}()

	collection, err := p.store.All(ctx, col)
	if err != nil {
		return stats, err
	}
	stats.Records = len(collection)
	if stats.Records == 0 {
		p.holder.Store(mustBuild(nil))
		return stats, nil
	}

	// Embedding first: the content cache turns unchanged records into
	// no-cost lookups, so only new or edited content reaches the
	// provider.
	issues := make([]*record.Issue, 0, len(collection))
	for _, issue := range collection {
		issues = append(issues, issue)
	}
	eres, err := p.embedder.EmbedAll(ctx, issues)
	if err != nil {
		return stats, err
	}
	stats.Embedded = eres.Embedded
	stats.Cached = eres.Cached
	stats.Failed = eres.Failed

	p.metrics.ComputeAll(collection, now)

	idx, err := simindex.Build(collection)
	if err != nil {
		return stats, err
	}
	stats.Indexed = idx.Len()

	for n, issue := range collection {
		if !idx.Contains(n) {
			continue
		}
		dist, found, err := idx.MeanNeighborDistance(n, Neighbors)
		if err != nil {
			return stats, err
		}
		issue.Metrics.KNNDistance = dist
		issue.Metrics.HasKNNDistance = found
	}

	metrics.AssignQuartiles(collection)

	if p.cfg.Embedding.Summaries {
		for _, issue := range issues {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			summary, err := p.embedder.Summarize(ctx, issue, p.cfg.Embedding.SummaryModel)
			if err != nil {
				p.logger.Warn("summary failed", "number", issue.Number, "error", err)
				continue
			}
			issue.Summary = summary
			stats.Summarized++
		}
	}

	if err := p.store.PutAll(ctx, col, issues); err != nil {
		return stats, err
	}
	p.holder.Store(idx)

	p.logger.Info("enrichment finished",
		"collection", col,
		"records", stats.Records,
		"embedded", stats.Embedded,
		"cached", stats.Cached,
		"failed", stats.Failed,
		"indexed", stats.Indexed,
	)
	return stats, nil
}

// LoadIndex rebuilds the similarity index from stored records without
// re-enriching, for serve startup.
func (p *Pipeline) LoadIndex(ctx context.Context, col string) error {
	collection, err := p.store.All(ctx, col)
	if err != nil {
		return err
	}
	idx, err := simindex.Build(collection)
	if err != nil {
		return err
	}
	p.holder.Store(idx)
	return nil
}

func (p *Pipeline) startDate(now time.Time) (time.Time, error) {
	if p.cfg.Pull.StartDate == "" {
		return now.AddDate(-1, 0, 0), nil
	}
	t, err := time.Parse("2006-01-02", p.cfg.Pull.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse pull.start_date: %w", err)
	}
	return t.UTC(), nil
}

func mustBuild(collection map[int]*record.Issue) *simindex.Index {
	idx, _ := simindex.Build(collection)
	return idx
}
