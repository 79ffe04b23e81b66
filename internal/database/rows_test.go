package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pet-tracker/internal/models"
)

func TestSplitTrail(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := models.PositionEstimate{
		TagID:             "whiskers",
		Name:              "Whiskers",
		Coordinate:        &models.Coordinate{X: 1, Y: 2},
		Room:              "kitchen",
		Confidence:        0.6,
		ComputedAt:        t0,
		SourceAnchorCount: 3,
	}
	stale := fresh.Degrade(t0.Add(time.Minute))

	fixes, events := splitTrail([]models.PositionEstimate{
		fresh,
		models.UnknownPosition("rex", t0),
		stale,
	})

	require.Len(t, fixes, 1)
	assert.Equal(t, PositionRow{
		Timestamp: t0, TagID: "whiskers", Name: "Whiskers",
		X: 1, Y: 2, Room: "kitchen", Confidence: 0.6, AnchorCount: 3,
	}, fixes[0])

	require.Len(t, events, 1)
	assert.Equal(t, StaleEventRow{
		Timestamp: t0.Add(time.Minute), TagID: "whiskers", LastSeen: t0, LastRoom: "kitchen",
	}, events[0])
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NoError(t, r.SavePositions(context.Background(), []models.PositionEstimate{{TagID: "x"}}))
	assert.NoError(t, r.Close())
}

func TestAllTables(t *testing.T) {
	tables := AllTables()
	require.Len(t, tables, 2)
	for _, sql := range tables {
		assert.Contains(t, sql, "ENGINE = MergeTree()")
		assert.Contains(t, sql, "ORDER BY (tag_id, timestamp)")
	}
}
