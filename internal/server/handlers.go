// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the query service over HTTP. The surface is
// read-only except for recommendation annotations.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jinterlante1206/issuedex/internal/embed"
	"github.com/jinterlante1206/issuedex/internal/metrics"
	"github.com/jinterlante1206/issuedex/internal/query"
	"github.com/jinterlante1206/issuedex/internal/record"
	"github.com/jinterlante1206/issuedex/internal/simindex"
	"github.com/jinterlante1206/issuedex/internal/store"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// ErrorResponse is the JSON body for all non-2xx responses.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// SearchRequest is the body of POST /v1/search/similar.
type SearchRequest struct {
	Text string `json:"text"`
	K    int    `json:"k,omitempty"`
}

// MetricsResponse pairs a record's metrics with its quartile labels.
type MetricsResponse struct {
	Number    int                   `json:"number"`
	Metrics   *record.MetricBundle  `json:"metrics"`
	Quartiles record.QuartileBundle `json:"quartiles,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Collection string `json:"collection"`
}

// Handlers contains the HTTP handlers for the issue index API.
type Handlers struct {
	svc *query.Service
}

// NewHandlers creates handlers backed by the given query service.
func NewHandlers(svc *query.Service) *Handlers {
	return &Handlers{svc: svc}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

func issueNumber(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "issue number must be a positive integer",
			Code:  "INVALID_NUMBER",
		})
		return 0, false
	}
	return n, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// writeError maps service errors onto HTTP status codes.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	statusCode := http.StatusInternalServerError
	errCode := "INTERNAL"

	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, simindex.ErrNotFound):
		statusCode = http.StatusNotFound
		errCode = "NOT_FOUND"
	case errors.Is(err, query.ErrNoIndex):
		statusCode = http.StatusServiceUnavailable
		errCode = "INDEX_NOT_BUILT"
	case errors.Is(err, metrics.ErrInvalidMetric):
		statusCode = http.StatusBadRequest
		errCode = "INVALID_METRIC"
	case errors.Is(err, embed.ErrEmbeddingUnavailable):
		statusCode = http.StatusBadGateway
		errCode = "EMBEDDING_UNAVAILABLE"
	}

	if statusCode >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err)
	} else {
		logger.Warn("Request rejected", "error", err, "code", errCode)
	}
	c.JSON(statusCode, ErrorResponse{Error: err.Error(), Code: errCode})
}

// HandleGetIssue handles GET /v1/issues/:number.
func (h *Handlers) HandleGetIssue(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetIssue")

	n, ok := issueNumber(c)
	if !ok {
		return
	}
	issue, err := h.svc.GetIssue(c.Request.Context(), n)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// HandleSimilar handles GET /v1/issues/:number/similar.
//
// Query parameter k bounds the number of matches (default 4).
func (h *Handlers) HandleSimilar(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSimilar")

	n, ok := issueNumber(c)
	if !ok {
		return
	}
	k := queryInt(c, "k", query.DefaultSimilarLimit)
	similar, err := h.svc.FindSimilarIssues(c.Request.Context(), n, k)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"number": n, "similar": similar})
}

// HandleSearchSimilar handles POST /v1/search/similar.
//
// Embeds the request text and returns the nearest records. The text
// never enters the store or cache.
func (h *Handlers) HandleSearchSimilar(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSearchSimilar")

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "request body must carry a non-empty text field",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	if req.K <= 0 {
		req.K = query.DefaultSimilarLimit
	}
	similar, err := h.svc.FindSimilarIssuesByText(c.Request.Context(), req.Text, req.K)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"similar": similar})
}

// HandleCrossReferences handles GET /v1/issues/:number/cross-references.
func (h *Handlers) HandleCrossReferences(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleCrossReferences")

	n, ok := issueNumber(c)
	if !ok {
		return
	}
	refs, err := h.svc.FindCrossReferencedIssues(c.Request.Context(), n)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"number": n, "crossReferences": refs})
}

// HandleMetrics handles GET /v1/issues/:number/metrics.
func (h *Handlers) HandleMetrics(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleMetrics")

	n, ok := issueNumber(c)
	if !ok {
		return
	}
	m, q, err := h.svc.GetIssueMetrics(c.Request.Context(), n)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, MetricsResponse{Number: n, Metrics: m, Quartiles: q})
}

// HandleTop handles GET /v1/top/:metric.
//
// Query parameter n bounds the result size (default 10); descending
// defaults to true, pass descending=false for the bottom ranking.
func (h *Handlers) HandleTop(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleTop")

	metric := c.Param("metric")
	n := queryInt(c, "n", 10)
	descending := c.DefaultQuery("descending", "true") != "false"
	top, err := h.svc.GetTopIssues(c.Request.Context(), metric, n, descending)
	if err != nil {
		if errors.Is(err, metrics.ErrInvalidMetric) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("unknown metric %q, valid metrics: %s", metric, strings.Join(metrics.SortMetrics, ", ")),
				Code:  "INVALID_METRIC",
			})
			return
		}
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metric": metric, "issues": top})
}

// HandleAddRecommendation handles POST /v1/issues/:number/recommendations.
//
// The priority score and timestamp in the response are computed
// server-side; values supplied in the request body are ignored.
func (h *Handlers) HandleAddRecommendation(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAddRecommendation")

	n, ok := issueNumber(c)
	if !ok {
		return
	}
	var rec record.Recommendation
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	saved, err := h.svc.AddRecommendation(c.Request.Context(), n, rec)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, logger, err)
			return
		}
		logger.Warn("Recommendation rejected", "issue", n, "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_RECOMMENDATION",
		})
		return
	}
	logger.Info("Recommendation stored", "issue", n, "action", saved.Action, "priority_score", saved.PriorityScore)
	c.JSON(http.StatusCreated, saved)
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleStats")

	stats, err := h.svc.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleValidate handles GET /v1/validate.
func (h *Handlers) HandleValidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleValidate")

	report, err := h.svc.Validate(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    ServiceVersion,
		Collection: h.svc.Collection(),
	})
}
