package domain

import "time"

// Event types broadcast on the real-time channel.
const (
	EventMachinesUpdated = "machines:updated"
	EventTicketCreated   = "ticket:created"
)

// Event is a small fire-and-forget notification payload.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// ItemResult is the outcome of one machine inside a fleet run.
type ItemResult struct {
	MachineID string            `json:"machineId"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Kind      ErrorKind         `json:"kind,omitempty"`
	Result    *PredictionResult `json:"data,omitempty"`
}

// RunSummary describes one fleet-wide refresh.
type RunSummary struct {
	RunID        string        `json:"runId"`
	Trigger      string        `json:"trigger"`
	StartedAt    time.Time     `json:"startedAt"`
	FinishedAt   time.Time     `json:"finishedAt"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	Total        int           `json:"total"`
	SuccessCount int           `json:"successCount"`
	FailCount    int           `json:"failCount"`
	Items        []ItemResult  `json:"items,omitempty"`
}
