package usecase

import (
	"context"
	"time"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// MachinePage is one page of formatted machine snapshots.
type MachinePage struct {
	Machines []domain.PredictionResult `json:"machines"`
	Total    int                       `json:"total"`
	Limit    int                       `json:"limit"`
	Offset   int                       `json:"offset"`
}

// Queries serves read-only views over the system of record.
type Queries struct {
	repo ports.Repository
	now  func() time.Time
}

// NewQueries builds the read side.
func NewQueries(repo ports.Repository) *Queries {
	return &Queries{repo: repo, now: time.Now}
}

// GetMachine returns the latest formatted snapshot of one machine.
func (q *Queries) GetMachine(ctx context.Context, machineID string) (domain.PredictionResult, error) {
	if err := ValidateMachineID(machineID); err != nil {
		return domain.PredictionResult{}, err
	}
	snap, err := q.repo.GetMachine(ctx, machineID)
	if err != nil {
		return domain.PredictionResult{}, err
	}
	return domain.FormatSnapshot(snap), nil
}

// ListMachines pages through formatted machine snapshots.
func (q *Queries) ListMachines(ctx context.Context, limit, offset int) (MachinePage, error) {
	limit, offset = pageBounds(limit, offset)
	snaps, total, err := q.repo.ListMachines(ctx, limit, offset)
	if err != nil {
		return MachinePage{}, err
	}

	page := MachinePage{
		Machines: make([]domain.PredictionResult, 0, len(snaps)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for _, s := range snaps {
		page.Machines = append(page.Machines, domain.FormatSnapshot(s))
	}
	return page, nil
}

// LatestPrediction returns the prediction with the greatest PredictedAt.
func (q *Queries) LatestPrediction(ctx context.Context, machineID string) (domain.Prediction, error) {
	if err := ValidateMachineID(machineID); err != nil {
		return domain.Prediction{}, err
	}
	return q.repo.LatestPrediction(ctx, machineID)
}

// ListTickets filters tickets, newest first.
func (q *Queries) ListTickets(ctx context.Context, filter domain.TicketFilter) (domain.TicketPage, error) {
	filter.Limit, filter.Offset = pageBounds(filter.Limit, filter.Offset)
	return q.repo.ListTickets(ctx, filter)
}

// GetTicket loads a ticket by id.
func (q *Queries) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	if id <= 0 {
		return domain.Ticket{}, domain.Validation("ticket", "invalid ticket id")
	}
	return q.repo.GetTicket(ctx, id)
}

// UpdateTicketStatus opens or closes a ticket; closing stamps ClosedAt.
func (q *Queries) UpdateTicketStatus(ctx context.Context, id int64, status string) (domain.Ticket, error) {
	if id <= 0 {
		return domain.Ticket{}, domain.Validation("ticket", "invalid ticket id")
	}
	st, err := domain.ParseTicketStatus(status)
	if err != nil {
		return domain.Ticket{}, domain.Validation("ticket", err.Error())
	}
	return q.repo.UpdateTicketStatus(ctx, id, st, q.now().UTC())
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
