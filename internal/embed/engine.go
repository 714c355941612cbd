// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embed

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jinterlante1206/issuedex/internal/config"
	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/pkg/logging"
)

type outcome int

const (
	outEmbedded outcome = iota
	outCached
	outSkipped
	outFailed
)

// Result summarizes one embedding pass.
type Result struct {
	Embedded int // fetched from the provider
	Cached   int // served from the content cache
	Skipped  int // no embeddable content
	Failed   int // provider gave up after retries
}

// Engine embeds batches of records with a bounded worker pool.
//
// Workers share a rate limiter sized to the provider's request budget.
// A record that fails after retries is logged and skipped; one bad
// record never aborts the pass. Only context cancellation stops the
// whole batch.
type Engine struct {
	provider Provider
	cache    *Cache
	model    string
	workers  int
	retries  int
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewEngine builds an embedding engine. cache may be nil, in which
// case every record goes to the provider.
func NewEngine(provider Provider, cache *Cache, cfg config.EmbeddingConfig, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	rps := cfg.RequestsPerS
	if rps <= 0 {
		rps = 1
	}
	retries := cfg.RetryLimit
	if retries <= 0 {
		retries = 1
	}
	return &Engine{
		provider: provider,
		cache:    cache,
		model:    cfg.Model,
		workers:  workers,
		retries:  retries,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		logger:   logger.With("component", "embed"),
	}
}

// EmbedAll embeds every record in issues, writing vectors into the
// records in place. Each record is owned by exactly one worker, so no
// locking is needed on the records themselves.
func (e *Engine) EmbedAll(ctx context.Context, issues []*record.Issue) (Result, error) {
	var res Result
	if len(issues) == 0 {
		return res, nil
	}

	work := make(chan *record.Issue)
	outcomes := make(chan outcome, len(issues))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			for issue := range work {
				o, err := e.embedOne(ctx, issue)
				if err != nil {
					return err
				}
				outcomes <- o
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, issue := range issues {
			select {
			case work <- issue:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	close(outcomes)
	for o := range outcomes {
		switch o {
		case outEmbedded:
			res.Embedded++
		case outCached:
			res.Cached++
		case outSkipped:
			res.Skipped++
		case outFailed:
			res.Failed++
		}
	}

	e.logger.Info("embedding pass finished",
		"embedded", res.Embedded,
		"cached", res.Cached,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, err
}

func (e *Engine) embedOne(ctx context.Context, issue *record.Issue) (outcome, error) {
	content := EmbeddingContent(issue)
	if content == "" {
		return outSkipped, nil
	}

	key := Key(content, e.model)
	if e.cache != nil {
		vec, found, err := e.cache.GetVector(ctx, key)
		if err != nil {
			return outFailed, err
		}
		if found {
			issue.Embedding = vec
			return outCached, nil
		}
	}

	var vec []float32
	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return outFailed, err
		}
		vec, lastErr = e.provider.Embed(ctx, content)
		if lastErr == nil {
			break
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*time.Second); err != nil {
			return outFailed, err
		}
	}
	if lastErr != nil {
		// The old vector was computed from superseded content; drop it
		// so the record is skipped by the index instead of matching on
		// stale text. The content cache restores it for free if the
		// old content ever comes back.
		issue.Embedding = nil
		e.logger.Warn("embedding failed, record left unembedded",
			"number", issue.Number, "error", lastErr)
		return outFailed, nil
	}

	issue.Embedding = vec
	if e.cache != nil {
		if err := e.cache.PutVector(ctx, key, vec); err != nil {
			return outFailed, err
		}
	}
	return outEmbedded, nil
}

// Summarize produces the AI summary for one record, served from cache
// when the discussion has not changed.
func (e *Engine) Summarize(ctx context.Context, issue *record.Issue, summaryModel string) (string, error) {
	prompt := SummaryPrompt(issue)
	key := Key(prompt, summaryModel)
	if e.cache != nil {
		if text, found, err := e.cache.GetText(ctx, key); err != nil {
			return "", err
		} else if found {
			return text, nil
		}
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	text, err := e.provider.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	if e.cache != nil {
		if err := e.cache.PutText(ctx, key, text); err != nil {
			return "", err
		}
	}
	return text, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
