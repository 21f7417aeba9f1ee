package domain

import (
	"encoding/json"
	"time"
)

// RiskLevel is the four-tier bucket derived from the risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Prediction is the persisted result of one upstream prediction.
type Prediction struct {
	ID                   int64
	MachineID            string
	Classification       string
	ForecastFailureType  string
	Recommendation       string
	RiskScore            int
	RiskLevel            RiskLevel
	PredictedAt          time.Time
	ForecastAt           *time.Time
	ForecastTimestampRaw string
	ForecastCountdownRaw string
	RawPayload           json.RawMessage
}

// IsMaintenance reports whether the machine was under maintenance.
func (p Prediction) IsMaintenance() bool {
	return p.Classification == ClassificationMaintenance
}

// HasForecastFailure reports whether a real failure is forecast.
func (p Prediction) HasForecastFailure() bool {
	return IsActiveFailure(p.ForecastFailureType)
}

// Normalized is the output of the response normalizer for one machine.
type Normalized struct {
	Sensor     SensorData
	Prediction Prediction
}
