package usecase

import (
	"context"
	"errors"
	"fmt"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

// Gateway commits one ingestion as a single unit of work.
type Gateway struct {
	repo    ports.Repository
	tickets *Ticketing
}

// NewGateway wires the repository with the ticketing engine.
func NewGateway(repo ports.Repository, tickets *Ticketing) *Gateway {
	return &Gateway{repo: repo, tickets: tickets}
}

// Commit writes machine, sensor reading and prediction, then inserts the draft
// ticket unless a duplicate is open. Once begun it is not cancelled by ctx.
func (g *Gateway) Commit(ctx context.Context, n domain.Normalized, draft *Draft) (*domain.Ticket, error) {
	if g.repo == nil {
		return nil, domain.Persistence("commit", "repository not configured", nil)
	}

	ctx = context.WithoutCancel(ctx)
	var ticket *domain.Ticket
	err := g.repo.InTx(ctx, func(tx ports.TxRepository) error {
		if err := tx.UpsertMachine(ctx, n.Sensor); err != nil {
			return err
		}
		if err := tx.InsertSensorReading(ctx, n.Sensor); err != nil {
			return err
		}
		if _, err := tx.InsertPrediction(ctx, n.Prediction); err != nil {
			return err
		}
		if g.tickets == nil {
			return nil
		}
		created, err := g.tickets.MaybeCreate(ctx, tx, n.Sensor.MachineID, draft)
		if err != nil {
			return err
		}
		ticket = created
		return nil
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.Persistence("commit", fmt.Sprintf("ingest %s", n.Sensor.MachineID), err)
	}
	return ticket, nil
}
