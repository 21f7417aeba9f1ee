package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/normalizer"
	"PMCopilot/internal/ports"
)

// PipelineDeps wires the collaborators of one ingestion.
type PipelineDeps struct {
	Normalizer *normalizer.Normalizer
	Gateway    *Gateway
	Tickets    *Ticketing
	Notifier   ports.Notifier
	Metrics    ports.Metrics
	Logger     *slog.Logger
}

// Pipeline turns one raw upstream payload into a persisted, formatted result.
type Pipeline struct {
	normalizer *normalizer.Normalizer
	gateway    *Gateway
	tickets    *Ticketing
	notifier   ports.Notifier
	metrics    ports.Metrics
	logger     *slog.Logger
}

// NewPipeline constructs the ingestion component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		normalizer: deps.Normalizer,
		gateway:    deps.Gateway,
		tickets:    deps.Tickets,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	if p.normalizer == nil {
		p.normalizer = normalizer.New()
	}
	if p.metrics == nil {
		p.metrics = ports.NopMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Ingest normalizes raw, commits it with any new ticket and formats the result.
func (p *Pipeline) Ingest(ctx context.Context, raw json.RawMessage) (domain.PredictionResult, error) {
	n, err := p.normalizer.Normalize(raw)
	if err != nil {
		p.metrics.Ingestion("invalid")
		return domain.PredictionResult{}, err
	}

	var draft *Draft
	if p.tickets != nil {
		draft = p.tickets.Prepare(ctx, n)
	}

	ticket, err := p.gateway.Commit(ctx, n, draft)
	if err != nil {
		p.metrics.Ingestion("failed")
		return domain.PredictionResult{}, err
	}
	p.metrics.Ingestion("ok")

	if ticket != nil {
		p.metrics.TicketCreated(ticket.Priority)
		p.logger.Info("ticket created",
			"machine_id", ticket.MachineID,
			"ticket_id", ticket.ID,
			"priority", ticket.Priority,
		)
		p.publish(ctx, domain.Event{Type: domain.EventTicketCreated, Timestamp: time.Now().UTC(), Payload: *ticket})
	}

	return domain.FormatNormalized(n, ticket), nil
}

func (p *Pipeline) publish(ctx context.Context, event domain.Event) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(context.WithoutCancel(ctx), event); err != nil {
		p.logger.Warn("event publish failed", "type", event.Type, "error", err)
	}
}
