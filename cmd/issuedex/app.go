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
	"fmt"

	"github.com/jinterlante1206/issuedex/internal/config"
	"github.com/jinterlante1206/issuedex/internal/embed"
	"github.com/jinterlante1206/issuedex/internal/github"
	"github.com/jinterlante1206/issuedex/internal/pipeline"
	"github.com/jinterlante1206/issuedex/internal/query"
	"github.com/jinterlante1206/issuedex/internal/simindex"
	"github.com/jinterlante1206/issuedex/internal/store"
	"github.com/jinterlante1206/issuedex/pkg/logging"
)

// app holds the wired components a command needs. Commands build only
// what they use; the embedding cache is opened lazily.
type app struct {
	cfg    config.Config
	logger *logging.Logger

	repo string
	col  string

	db      *store.DB
	cacheDB *store.DB
	store   *store.Store
}

// newApp loads configuration, sets up logging, and opens the
// collection store. The caller must Close it.
func newApp(service, repo string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, Service: service})

	bcfg := store.DefaultBadgerConfig()
	bcfg.Path = config.ExpandPath(cfg.Store.DataDir)
	bcfg.Logger = logger.Slog()
	db, err := store.OpenDB(bcfg)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("open collection store: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		repo:   repo,
		col:    store.CollectionName(repo, prefix),
		db:     db,
		store:  store.NewStore(db),
	}, nil
}

func (a *app) Close() {
	if a.cacheDB != nil {
		_ = a.cacheDB.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Close()
}

// openCache opens the embedding cache database on first use.
func (a *app) openCache() (*embed.Cache, error) {
	if a.cacheDB == nil {
		bcfg := store.DefaultBadgerConfig()
		bcfg.Path = config.ExpandPath(a.cfg.Store.CacheDir)
		bcfg.Logger = a.logger.Slog()
		db, err := store.OpenDB(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open embedding cache: %w", err)
		}
		a.cacheDB = db
	}
	return embed.NewCache(a.cacheDB), nil
}

// embedProvider builds the embedding client from config.
func (a *app) embedProvider() *embed.Client {
	e := a.cfg.Embedding
	return embed.NewClient(e.APIKey, e.BaseURL, e.Model, e.SummaryModel)
}

// pipeline wires the full ingestion pipeline. The returned holder is
// shared with any query service built from the same app.
func (a *app) pipeline(holder *simindex.Holder) (*pipeline.Pipeline, error) {
	cache, err := a.openCache()
	if err != nil {
		return nil, err
	}
	engine := embed.NewEngine(a.embedProvider(), cache, a.cfg.Embedding, a.logger)
	source := github.NewClient(a.cfg.GitHub, a.logger)
	return pipeline.New(a.store, source, engine, holder, a.cfg, a.logger), nil
}

// queryService builds the query surface over the shared holder.
func (a *app) queryService(holder *simindex.Holder) *query.Service {
	return query.NewService(a.store, holder, a.embedProvider(), a.col)
}
