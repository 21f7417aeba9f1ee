package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/logging"
)

func TestRefreshAllIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(sensorTime)
	broken := json.RawMessage(`{"machineId": "L_003", "type": "L", "airTemperature": 298.2, "currentFailure": "No Failure"}`)
	predictor := &fakePredictor{fleet: []json.RawMessage{
		machinePayload("L_001", "No Failure", "No Failure", ""),
		machinePayload("M_002", "No Failure", "Power Failure", "2 days"),
		broken,
		machinePayload("H_004", "Maintenance", "No Failure", ""),
		machinePayload("L_005", "Tool Wear Failure", "No Failure", ""),
	}}
	cache := newClockCache(sensorTime)

	refresher := NewFleetRefresher(FleetDeps{
		Predictor: predictor,
		Pipeline:  h.pipeline,
		Cache:     cache,
		TTL:       cacheTTL,
		Logger:    logging.Discard(),
	})

	summary, err := refresher.RefreshAll(context.Background(), TriggerManual)
	require.NoError(t, err)

	assert.True(t, summary.Success)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, TriggerManual, summary.Trigger)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.SuccessCount)
	assert.Equal(t, 1, summary.FailCount)
	require.Len(t, summary.Items, 5)

	failed := summary.Items[2]
	assert.False(t, failed.Success)
	assert.Equal(t, "L_003", failed.MachineID)
	assert.Equal(t, domain.KindValidation, failed.Kind)

	assert.Equal(t, 4, h.repo.machineCount())
	assert.Equal(t, 4, cache.size())
	assert.Equal(t, int32(1), predictor.calls.Load())
	assert.Equal(t, 2, h.repo.ticketCount())
}

func TestRefreshAllReportsFleetFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(sensorTime)
	upstream := domain.Upstream("ml.PredictFleet", "HTTP 502", nil)
	refresher := NewFleetRefresher(FleetDeps{
		Predictor: &fakePredictor{err: upstream},
		Pipeline:  h.pipeline,
		Logger:    logging.Discard(),
	})

	summary, err := refresher.RefreshAll(context.Background(), TriggerScheduled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	assert.False(t, summary.Success)
	assert.Contains(t, summary.Error, "HTTP 502")
	assert.Zero(t, summary.Total)
}
