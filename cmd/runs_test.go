package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orgwatch/regnskap-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	runs := []model.RunSummary{
		{
			ID: "run-1", Status: model.RunStatusComplete,
			Processed: 3, Succeeded: 2, Partial: 1,
			StartedAt: started, FinishedAt: started.Add(90 * time.Second),
		},
		{
			ID: "run-2", Status: model.RunStatusRunning,
			StartedAt: started,
		},
	}

	var sb strings.Builder
	formatRunsList(&sb, runs)
	out := sb.String()

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "run-2")
	assert.Contains(t, out, "running")
}
