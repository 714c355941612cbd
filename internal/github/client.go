// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package github fetches issues and pull requests from the GitHub REST
// API and converts them to collection records.
//
// The adapter refuses incomplete data: a record whose comments or
// timeline cannot be fully paged is skipped for the window rather than
// stored partially. The next pull of the window picks it up again.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jinterlante1206/issuedex/internal/config"
	"github.com/jinterlante1206/issuedex/pkg/logging"
)

var (
	// ErrSourceUnavailable is returned when the API cannot be reached
	// or keeps failing after retries. The checkpoint is not advanced.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrAuth is returned on 401/403 responses that are not rate
	// limits. Retrying cannot help without a new token.
	ErrAuth = errors.New("authentication failed")
)

const (
	perPage        = 100
	maxRetries     = 3
	retryBaseWait  = 2 * time.Second
	maxRateWait    = 15 * time.Minute
	requestTimeout = 30 * time.Second
)

// Client is a GitHub REST API client with rate-limit aware retries.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *logging.Logger

	// sleep is swapped in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client from the github section of the config.
func NewClient(cfg config.GitHubConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.github.com"
	}
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: base,
		token:   cfg.Token,
		logger:  logger.With("component", "github"),
		sleep:   sleepCtx,
	}
}

// getJSON fetches path with query params, decodes the body into out,
// and returns the response headers for Link pagination.
//
// Retry policy:
//   - 401 and non-rate-limit 403: ErrAuth, no retry
//   - 403/429 rate limits: wait for X-RateLimit-Reset or Retry-After,
//     capped, then retry without consuming an attempt budget slot
//   - 5xx and transport errors: exponential backoff up to maxRetries,
//     then ErrSourceUnavailable
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) (http.Header, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err := c.sleep(ctx, time.Duration(attempt)*retryBaseWait); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				lastErr = readErr
				continue
			}
			if err := json.Unmarshal(body, out); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
			return resp.Header, nil

		case resp.StatusCode == http.StatusUnauthorized:
			return nil, fmt.Errorf("%s returned 401: %w", path, ErrAuth)

		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
			wait, isRateLimit := rateLimitWait(resp.Header, body)
			if !isRateLimit {
				return nil, fmt.Errorf("%s returned 403: %w", path, ErrAuth)
			}
			c.logger.Warn("rate limited, waiting", "path", path, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			// Rate-limit waits don't burn the retry budget.
			attempt--
			continue

		default:
			lastErr = fmt.Errorf("%s returned %d", path, resp.StatusCode)
			if err := c.sleep(ctx, time.Duration(attempt)*retryBaseWait); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

// rateLimitWait inspects a 403/429 response and reports how long to
// wait if it is a rate limit.
func rateLimitWait(h http.Header, body []byte) (time.Duration, bool) {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return capWait(time.Duration(secs) * time.Second), true
		}
	}
	if v := h.Get("X-RateLimit-Remaining"); v == "0" {
		if reset := h.Get("X-RateLimit-Reset"); reset != "" {
			if ts, err := strconv.ParseInt(reset, 10, 64); err == nil {
				return capWait(time.Until(time.Unix(ts, 0)) + time.Second), true
			}
		}
		return retryBaseWait, true
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil &&
		strings.Contains(strings.ToLower(payload.Message), "rate limit") {
		return 30 * time.Second, true
	}
	return 0, false
}

func capWait(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > maxRateWait {
		return maxRateWait
	}
	return d
}

// hasNextPage checks the Link header for a rel="next" entry.
func hasNextPage(h http.Header) bool {
	return strings.Contains(h.Get("Link"), `rel="next"`)
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
