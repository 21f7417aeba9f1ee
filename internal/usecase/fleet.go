package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/normalizer"
	"PMCopilot/internal/ports"
)

// FleetDeps wires the fleet refresher.
type FleetDeps struct {
	Predictor ports.Predictor
	Pipeline  *Pipeline
	Cache     ports.PredictionCache
	TTL       time.Duration
	ItemDelay time.Duration
	Metrics   ports.Metrics
	Logger    *slog.Logger
}

// FleetRefresher runs the ingestion pipeline for every machine of one fleet response.
type FleetRefresher struct {
	predictor ports.Predictor
	pipeline  *Pipeline
	cache     ports.PredictionCache
	ttl       time.Duration
	itemDelay time.Duration
	metrics   ports.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewFleetRefresher builds the refresher.
func NewFleetRefresher(deps FleetDeps) *FleetRefresher {
	f := &FleetRefresher{
		predictor: deps.Predictor,
		pipeline:  deps.Pipeline,
		cache:     deps.Cache,
		ttl:       deps.TTL,
		itemDelay: deps.ItemDelay,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if f.metrics == nil {
		f.metrics = ports.NopMetrics{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// RefreshAll fetches the fleet once and ingests each machine sequentially.
// Per-machine failures are recorded in the summary; only a failed fleet call
// returns an error.
func (f *FleetRefresher) RefreshAll(ctx context.Context, trigger string) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: f.now().UTC(),
	}
	logger := f.logger.With("run_id", summary.RunID, "trigger", trigger)
	logger.Info("fleet refresh started")

	payloads, err := f.predictor.PredictFleet(ctx)
	if err != nil {
		summary.Error = err.Error()
		f.finish(&summary, "failed")
		logger.Error("fleet refresh failed", "error", err, "duration", summary.Duration)
		return summary, err
	}

	limit := rate.Inf
	if f.itemDelay > 0 {
		limit = rate.Every(f.itemDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	summary.Total = len(payloads)
	summary.Items = make([]domain.ItemResult, 0, len(payloads))
	for i, raw := range payloads {
		item := domain.ItemResult{MachineID: normalizer.ProbeMachineID(raw)}
		if item.MachineID == "" {
			item.MachineID = fmt.Sprintf("item-%d", i+1)
		}

		if err := limiter.Wait(ctx); err != nil {
			item.Error = err.Error()
			summary.Items = append(summary.Items, item)
			summary.FailCount++
			continue
		}

		res, err := f.pipeline.Ingest(ctx, raw)
		if err != nil {
			item.Error = err.Error()
			item.Kind = domain.KindOf(err)
			summary.Items = append(summary.Items, item)
			summary.FailCount++
			logger.Error("machine refresh failed", "machine_id", item.MachineID, "error", err)
			continue
		}

		item.MachineID = res.MachineID
		item.Success = true
		item.Result = &res
		summary.Items = append(summary.Items, item)
		summary.SuccessCount++
		f.writeThrough(ctx, res)
	}

	summary.Success = true
	f.finish(&summary, "ok")
	logger.Info("fleet refresh finished",
		"total", summary.Total,
		"succeeded", summary.SuccessCount,
		"failed", summary.FailCount,
		"duration", summary.Duration,
	)
	return summary, nil
}

func (f *FleetRefresher) finish(summary *domain.RunSummary, outcome string) {
	summary.FinishedAt = f.now().UTC()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	f.metrics.FleetRun(outcome, summary.Duration, summary.SuccessCount, summary.FailCount)
}

func (f *FleetRefresher) writeThrough(ctx context.Context, res domain.PredictionResult) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Set(ctx, res.MachineID, res, f.ttl); err != nil {
		f.logger.Warn("cache write failed", "machine_id", res.MachineID, "error", err)
	}
}
