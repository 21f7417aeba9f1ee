package domain

import (
	"math"
	"time"
)

// SensorView is the caller-facing rendering of a sensor snapshot.
type SensorView struct {
	Type               string   `json:"type"`
	AirTemperature     *float64 `json:"airTemperature"`
	ProcessTemperature *float64 `json:"processTemperature"`
	RotationalSpeed    *int     `json:"rotationalSpeed"`
	Torque             *float64 `json:"torque"`
	ToolWear           *int     `json:"toolWear"`
	Timestamp          *string  `json:"timestamp"`
	Classification     string   `json:"classification"`
}

// RiskView carries the computed risk score and tier.
type RiskView struct {
	Score int       `json:"score"`
	Level RiskLevel `json:"level"`
}

// ForecastView is present only when a real failure is forecast.
type ForecastView struct {
	Forecast       string  `json:"forecast"`
	Recommendation string  `json:"recommendation"`
	PredictedAt    *string `json:"predictedAt"`
	Timestamp      *string `json:"timestamp"`
	Countdown      *string `json:"countdown"`
}

// PredictionResult is the envelope served to callers and held in the fast cache.
type PredictionResult struct {
	MachineID  string        `json:"machineId"`
	SensorData SensorView    `json:"sensorData"`
	Risk       *RiskView     `json:"risk,omitempty"`
	Predicted  *ForecastView `json:"predicted,omitempty"`
	Ticket     *Ticket       `json:"ticket"`
}

// FormatNormalized renders a fresh ingestion in one of the three result variants.
func FormatNormalized(n Normalized, ticket *Ticket) PredictionResult {
	s := n.Sensor
	ts := s.Timestamp
	m := Machine{
		ID:                 s.MachineID,
		Type:               s.MachineType,
		AirTemperature:     &s.AirTemperature,
		ProcessTemperature: &s.ProcessTemperature,
		RotationalSpeed:    &s.RotationalSpeed,
		Torque:             &s.Torque,
		ToolWear:           &s.ToolWear,
		SensorTimestamp:    &ts,
	}
	p := n.Prediction
	return FormatSnapshot(MachineSnapshot{Machine: m, Prediction: &p, Ticket: ticket})
}

// FormatSnapshot renders a stored machine snapshot in one of the three result variants.
func FormatSnapshot(snap MachineSnapshot) PredictionResult {
	m := snap.Machine
	p := snap.Prediction

	if p == nil && !m.HasSnapshot() {
		return PredictionResult{
			MachineID: m.ID,
			SensorData: SensorView{
				Type:           m.Type,
				Classification: ClassificationUnknown,
			},
		}
	}

	classification := ClassificationNoFailure
	if p != nil && p.Classification != "" {
		classification = p.Classification
	}

	view := SensorView{
		Type:           m.Type,
		Timestamp:      isoTime(m.SensorTimestamp),
		Classification: classification,
	}

	if p != nil && p.IsMaintenance() {
		zero, zeroInt := 0.0, 0
		view.AirTemperature = &zero
		view.ProcessTemperature = &zero
		view.RotationalSpeed = &zeroInt
		view.Torque = &zero
		view.ToolWear = &zeroInt
	} else {
		view.AirTemperature = round2(m.AirTemperature)
		view.ProcessTemperature = round2(m.ProcessTemperature)
		view.RotationalSpeed = m.RotationalSpeed
		view.Torque = round2(m.Torque)
		view.ToolWear = m.ToolWear
	}

	result := PredictionResult{MachineID: m.ID, SensorData: view}
	if p == nil {
		return result
	}
	result.Risk = &RiskView{Score: p.RiskScore, Level: p.RiskLevel}
	if p.IsMaintenance() {
		return result
	}

	result.Ticket = snap.Ticket
	if !p.HasForecastFailure() {
		return result
	}

	result.Predicted = &ForecastView{
		Forecast:       p.ForecastFailureType,
		Recommendation: p.Recommendation,
		PredictedAt:    isoTime(&p.PredictedAt),
		Timestamp:      isoTime(p.ForecastAt),
		Countdown:      optionalString(p.ForecastCountdownRaw),
	}
	if result.Predicted.Timestamp == nil {
		result.Predicted.Timestamp = optionalString(p.ForecastTimestampRaw)
	}
	return result
}

func isoTime(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func round2(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := math.Round(*v*100) / 100
	return &r
}
