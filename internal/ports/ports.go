package ports

import (
	"context"
	"encoding/json"
	"time"

	"PMCopilot/internal/domain"
)

// Predictor calls the external ML prediction service.
type Predictor interface {
	PredictMachine(ctx context.Context, machineID string) (json.RawMessage, error)
	PredictFleet(ctx context.Context) ([]json.RawMessage, error)
}

// TextGenerator turns a prompt into free-form text (LLM backends).
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// PredictionCache is the fast, TTL-bound cache of result envelopes.
type PredictionCache interface {
	Get(ctx context.Context, machineID string) (domain.PredictionResult, bool, error)
	Set(ctx context.Context, machineID string, result domain.PredictionResult, ttl time.Duration) error
}

// Repository is the system of record for machines, predictions and tickets.
type Repository interface {
	InTx(ctx context.Context, fn func(tx TxRepository) error) error

	HasOpenTicket(ctx context.Context, machineID, failureRef string) (bool, error)
	GetMachine(ctx context.Context, machineID string) (domain.MachineSnapshot, error)
	ListMachines(ctx context.Context, limit, offset int) ([]domain.MachineSnapshot, int, error)
	LatestPrediction(ctx context.Context, machineID string) (domain.Prediction, error)
	ListTickets(ctx context.Context, filter domain.TicketFilter) (domain.TicketPage, error)
	GetTicket(ctx context.Context, id int64) (domain.Ticket, error)
	UpdateTicketStatus(ctx context.Context, id int64, status domain.TicketStatus, at time.Time) (domain.Ticket, error)
}

// TxRepository holds the writes that form one ingestion unit of work.
type TxRepository interface {
	UpsertMachine(ctx context.Context, data domain.SensorData) error
	InsertSensorReading(ctx context.Context, data domain.SensorData) error
	InsertPrediction(ctx context.Context, prediction domain.Prediction) (int64, error)
	HasOpenTicket(ctx context.Context, machineID, failureRef string) (bool, error)
	InsertTicket(ctx context.Context, ticket domain.Ticket) (domain.Ticket, error)
}

// Notifier pushes events to real-time channels (websocket, broker, chat).
type Notifier interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Scheduler drives a job on a fixed interval.
type Scheduler interface {
	Start(interval time.Duration, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Metrics records pipeline observations.
type Metrics interface {
	CacheLookup(result string)
	CoalescedFetch()
	UpstreamCall(endpoint, outcome string, duration time.Duration)
	Ingestion(outcome string)
	TicketCreated(priority domain.TicketPriority)
	FleetRun(outcome string, duration time.Duration, succeeded, failed int)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) CacheLookup(string) {}
func (NopMetrics) CoalescedFetch() {}
func (NopMetrics) UpstreamCall(string, string, time.Duration) {}
func (NopMetrics) Ingestion(string) {}
func (NopMetrics) TicketCreated(domain.TicketPriority) {}
func (NopMetrics) FleetRun(string, time.Duration, int, int) {}

var _ Metrics = NopMetrics{}
