package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/agentic-reviewer/internal/config"
	"github.com/miradorstack/agentic-reviewer/internal/models"
)

func TestParseFlagsRequiresData(t *testing.T) {
	_, err := parseFlags([]string{"-strategy", "all"})
	require.Error(t, err)
}

func TestStrategyRequestFallsBackToConfig(t *testing.T) {
	seed := int64(9)
	sel := config.SelectionConfig{Strategy: "random", Threshold: 0.6, Count: 3, Seed: &seed}

	opts, err := parseFlags([]string{"-data", "x.csv"})
	require.NoError(t, err)
	req := opts.strategyRequest(sel)
	assert.Equal(t, "random", req.Kind)
	assert.Equal(t, 3, req.Count)
	require.NotNil(t, req.Seed)
	assert.Equal(t, int64(9), *req.Seed)

	opts, err = parseFlags([]string{"-data", "x.csv", "-strategy", "random", "-count", "2", "-seed", "0"})
	require.NoError(t, err)
	req = opts.strategyRequest(sel)
	assert.Equal(t, 2, req.Count)
	require.NotNil(t, req.Seed)
	assert.Equal(t, int64(0), *req.Seed, "an explicit zero seed is kept")
}

func TestReport(t *testing.T) {
	resp := models.BatchReviewResponse{
		PassID:    "p1",
		Strategy:  "low_confidence(0.7)",
		Mode:      models.ModeUnified,
		Selection: models.SelectionStats{Original: 4, Selected: 2, SelectionRate: 0.5},
		Summary: models.PassSummary{
			Total: 2, Succeeded: 2,
			Verdicts: map[models.Verdict]int{models.VerdictAgree: 1, models.VerdictDisagree: 1},
			Relabels: []models.RelabelPattern{{From: "Complaint", To: "Refund Request", Count: 1, Share: 1}},
		},
	}
	var out strings.Builder
	require.NoError(t, report(&out, resp, models.CacheStats{Hits: 1, Misses: 1, HitRate: 0.5}, 5))

	text := out.String()
	assert.Contains(t, text, "2 of 4 (50.0%)")
	assert.Contains(t, text, "Complaint -> Refund Request")
	assert.Contains(t, text, "50.0% hit rate")
}

func TestWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	results := []models.ReviewResult{
		{SampleID: "a", Verdict: models.VerdictAgree, Success: true},
		{SampleID: "b", Success: false},
	}
	require.NoError(t, writeResults(path, results))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r models.ReviewResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		ids = append(ids, r.SampleID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}
