// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureHandlerCollectsEntries(t *testing.T) {
	capture := NewCaptureHandler()
	logger := New(Config{Handler: capture, Service: "test"})

	logger.Info("merge complete", "changed", 3)
	logger.Warn("record skipped", "number", 12)

	entries := capture.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "merge complete", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].Attrs["changed"])
	assert.Equal(t, "test", entries[0].Attrs["service"])
	assert.Equal(t, slog.LevelWarn, entries[1].Level)
}

func TestWithAddsAttributes(t *testing.T) {
	capture := NewCaptureHandler()
	logger := New(Config{Handler: capture})

	child := logger.With("collection", "owner-repo")
	child.Info("enrich start")

	entries := capture.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "owner-repo", entries[0].Attrs["collection"])
}

func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, LogDir: dir, Service: "pipeline", Quiet: true})

	logger.Info("window committed", "end", "2025-06-01")
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "pipeline_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"window committed"`))
	assert.True(t, strings.Contains(string(data), `"service":"pipeline"`))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
