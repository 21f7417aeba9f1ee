package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"PMCopilot/internal/domain"
)

func TestLatestPredictionRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(sensorTime)
	if _, err := h.pipeline.Ingest(context.Background(), machinePayload("L_001", "No Failure", "Power Failure", "15 hours")); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	written := h.repo.predictions[0]

	got, err := NewQueries(h.repo).LatestPrediction(context.Background(), "L_001")
	if err != nil {
		t.Fatalf("LatestPrediction returned error: %v", err)
	}
	if got.ForecastFailureType != "Power Failure" || got.ForecastFailureType != written.ForecastFailureType {
		t.Fatalf("forecast type mismatch: %q vs %q", got.ForecastFailureType, written.ForecastFailureType)
	}
	if got.Recommendation == "" || got.Recommendation != written.Recommendation {
		t.Fatalf("recommendation mismatch: %q vs %q", got.Recommendation, written.Recommendation)
	}
	if !got.PredictedAt.Equal(sensorTime) {
		t.Fatalf("predictedAt mismatch: %s", got.PredictedAt)
	}
}

func TestCommitRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(sensorTime)
	h.repo.failOn = "ticket"

	_, err := h.pipeline.Ingest(context.Background(), machinePayload("L_001", "Power Failure", "No Failure", ""))
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if h.repo.machineCount() != 0 || len(h.repo.readings) != 0 || len(h.repo.predictions) != 0 {
		t.Fatalf("failed commit must leave no partial records")
	}
	if len(h.notifier.types()) != 0 {
		t.Fatalf("no event expected for a rolled back ingestion")
	}
}

func TestGetMachineFormatsSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(sensorTime)
	if _, err := h.pipeline.Ingest(context.Background(), machinePayload("M_010", "Maintenance", "Power Failure", "1 hour")); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	q := NewQueries(h.repo)
	res, err := q.GetMachine(context.Background(), "M_010")
	if err != nil {
		t.Fatalf("GetMachine returned error: %v", err)
	}
	if res.SensorData.Classification != domain.ClassificationMaintenance || res.Predicted != nil {
		t.Fatalf("unexpected maintenance view %+v", res)
	}
	if res.SensorData.AirTemperature == nil || *res.SensorData.AirTemperature != 0 {
		t.Fatalf("maintenance readings must be zero")
	}

	if _, err := q.GetMachine(context.Background(), "X_999"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListTicketsClampsPagination(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	q := NewQueries(repo)

	if _, err := q.ListTickets(context.Background(), domain.TicketFilter{Limit: 1000, Offset: -3}); err != nil {
		t.Fatalf("ListTickets returned error: %v", err)
	}
	if repo.lastFilter.Limit != 200 || repo.lastFilter.Offset != 0 {
		t.Fatalf("unexpected bounds %+v", repo.lastFilter)
	}

	if _, err := q.ListTickets(context.Background(), domain.TicketFilter{}); err != nil {
		t.Fatalf("ListTickets returned error: %v", err)
	}
	if repo.lastFilter.Limit != 50 {
		t.Fatalf("expected default limit 50, got %d", repo.lastFilter.Limit)
	}
}

func TestUpdateTicketStatus(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.addTicket(domain.Ticket{MachineID: "L_001", Title: "[ALERT] Power Failure", Status: domain.TicketOpen})
	q := NewQueries(repo)
	closedAt := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return closedAt }

	closed, err := q.UpdateTicketStatus(context.Background(), 1, "CLOSED")
	if err != nil {
		t.Fatalf("close returned error: %v", err)
	}
	if closed.Status != domain.TicketClosed || closed.ClosedAt == nil || !closed.ClosedAt.Equal(closedAt) {
		t.Fatalf("unexpected closed ticket %+v", closed)
	}

	reopened, err := q.UpdateTicketStatus(context.Background(), 1, "open")
	if err != nil {
		t.Fatalf("reopen returned error: %v", err)
	}
	if reopened.ClosedAt != nil {
		t.Fatalf("reopening must clear ClosedAt")
	}

	if _, err := q.UpdateTicketStatus(context.Background(), 1, "archived"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := q.UpdateTicketStatus(context.Background(), 42, "closed"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
