package domain

import "time"

// Failure classifications reported by the upstream predictor.
const (
	ClassificationNoFailure   = "No Failure"
	ClassificationMaintenance = "Maintenance"
	ClassificationUnknown     = "Unknown"
)

// SensorData is the normalized sensor snapshot of a single ingestion.
type SensorData struct {
	MachineID          string
	MachineType        string
	AirTemperature     float64
	ProcessTemperature float64
	RotationalSpeed    int
	Torque             float64
	ToolWear           int
	Timestamp          time.Time
}

// Machine is the fleet entity carrying the latest known snapshot.
type Machine struct {
	ID                 string
	Type               string
	AirTemperature     *float64
	ProcessTemperature *float64
	RotationalSpeed    *int
	Torque             *float64
	ToolWear           *int
	SensorTimestamp    *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasSnapshot reports whether at least one ingestion populated the machine.
func (m Machine) HasSnapshot() bool {
	return m.SensorTimestamp != nil
}

// SensorReading is an append-only row written once per ingestion.
type SensorReading struct {
	ID        int64
	Data      SensorData
	CreatedAt time.Time
}

// MachineSnapshot joins a machine with its latest prediction and most urgent ticket.
type MachineSnapshot struct {
	Machine    Machine
	Prediction *Prediction
	Ticket     *Ticket
}

// IsActiveFailure reports whether a classification describes a real failure.
func IsActiveFailure(classification string) bool {
	switch classification {
	case "", ClassificationNoFailure, ClassificationMaintenance, ClassificationUnknown:
		return false
	default:
		return true
	}
}
