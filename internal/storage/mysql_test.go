package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safety-monitoring/internal/pipeline"
)

// Integration test against a real MySQL. Set MYSQL_TEST_DSN to run,
// e.g. root:testpass@tcp(localhost:3306)/safetydb_test?parseTime=true
func TestMySQLBackendRoundTrip(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}

	b, err := NewMySQLBackend(dsn)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	base, err := b.MaxID(ctx)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	events := []pipeline.Event{
		{
			ID: base + 1, Source: pipeline.SourceCam0, Type: pipeline.TypeCameraDetection,
			Timestamp: now, CreatedAt: now,
			Payload: &pipeline.DetectionPayload{Camera: "cam0", PeopleCount: 5, AccidentDetected: true, AccidentType: "fall", FPS: 10},
		},
		{
			ID: base + 2, Source: pipeline.SourceAudio, Type: pipeline.TypeNoiseLevel,
			Timestamp: now, CreatedAt: now,
			Payload: &pipeline.NoisePayload{NoiseLevel: 87.5, Threshold: 85, Alert: true},
		},
	}
	require.NoError(t, b.InsertBatch(ctx, events))

	got, err := b.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, base+2, got[0].ID)
	assert.Equal(t, 87.5, got[0].Payload.(*pipeline.NoisePayload).NoiseLevel)
	assert.Equal(t, 5, got[1].Payload.(*pipeline.DetectionPayload).PeopleCount)

	maxID, err := b.MaxID(ctx)
	require.NoError(t, err)
	assert.Equal(t, base+2, maxID)

	sum, err := b.Summary(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sum.TotalEvents, int64(2))
	assert.GreaterOrEqual(t, sum.BySource["cam0"], int64(1))
	assert.GreaterOrEqual(t, sum.ByType["noise_level"], int64(1))
	assert.GreaterOrEqual(t, sum.RecentAccidents, int64(1))

	// Duplicate id must be rejected, ids are assigned exactly once.
	err = b.InsertBatch(ctx, events[:1])
	assert.Error(t, err, fmt.Sprintf("expected duplicate key error for id %d", base+1))
}
