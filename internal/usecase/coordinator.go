package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

var machineIDPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)

var idValidator = newIDValidator()

func newIDValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("machineid", func(fl validator.FieldLevel) bool {
		return machineIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// ValidateMachineID rejects identifiers outside [A-Z0-9_]{1,50}.
func ValidateMachineID(id string) error {
	if err := idValidator.Var(id, "required,max=50,machineid"); err != nil {
		return domain.Validation("fetch", "invalid machine id", id)
	}
	return nil
}

// CoordinatorDeps wires the coordinator.
type CoordinatorDeps struct {
	Cache     ports.PredictionCache
	Predictor ports.Predictor
	Pipeline  *Pipeline
	TTL       time.Duration
	Metrics   ports.Metrics
	Logger    *slog.Logger
}

// Coordinator serves predictions from the fast cache and coalesces misses
// into one upstream fetch per machine.
type Coordinator struct {
	cache     ports.PredictionCache
	predictor ports.Predictor
	pipeline  *Pipeline
	ttl       time.Duration
	metrics   ports.Metrics
	logger    *slog.Logger
	inflight  singleflight.Group
}

// NewCoordinator builds the coordinator.
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	c := &Coordinator{
		cache:     deps.Cache,
		predictor: deps.Predictor,
		pipeline:  deps.Pipeline,
		ttl:       deps.TTL,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
	if c.metrics == nil {
		c.metrics = ports.NopMetrics{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Fetch returns the cached result for machineID or fetches, persists and caches a fresh one.
func (c *Coordinator) Fetch(ctx context.Context, machineID string) (domain.PredictionResult, error) {
	if err := ValidateMachineID(machineID); err != nil {
		return domain.PredictionResult{}, err
	}

	if res, ok := c.lookup(ctx, machineID); ok {
		c.metrics.CacheLookup("hit")
		return res, nil
	}
	c.metrics.CacheLookup("miss")

	shared := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(machineID, func() (any, error) {
		return c.load(shared, machineID)
	})

	select {
	case <-ctx.Done():
		return domain.PredictionResult{}, ctx.Err()
	case r := <-ch:
		if r.Shared {
			c.metrics.CoalescedFetch()
		}
		if r.Err != nil {
			return domain.PredictionResult{}, r.Err
		}
		return r.Val.(domain.PredictionResult), nil
	}
}

func (c *Coordinator) load(ctx context.Context, machineID string) (domain.PredictionResult, error) {
	if res, ok := c.lookup(ctx, machineID); ok {
		return res, nil
	}

	start := time.Now()
	raw, err := c.predictor.PredictMachine(ctx, machineID)
	if err != nil {
		c.logger.Warn("upstream prediction failed", "machine_id", machineID, "error", err)
		return domain.PredictionResult{}, err
	}

	res, err := c.pipeline.Ingest(ctx, raw)
	if err != nil {
		c.logger.Warn("ingestion failed", "machine_id", machineID, "error", err)
		return domain.PredictionResult{}, err
	}

	c.store(ctx, machineID, res)
	c.logger.Debug("prediction refreshed", "machine_id", machineID, "duration", time.Since(start))
	return res, nil
}

func (c *Coordinator) lookup(ctx context.Context, machineID string) (domain.PredictionResult, bool) {
	if c.cache == nil {
		return domain.PredictionResult{}, false
	}
	res, ok, err := c.cache.Get(ctx, machineID)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss", "machine_id", machineID, "error", err)
		return domain.PredictionResult{}, false
	}
	return res, ok
}

func (c *Coordinator) store(ctx context.Context, machineID string, res domain.PredictionResult) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, machineID, res, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "machine_id", machineID, "error", err)
	}
}
