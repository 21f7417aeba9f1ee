package normalizer

import (
	"math"
	"strings"

	"PMCopilot/internal/domain"
)

const (
	weightTemperature = 0.35
	weightToolWear    = 0.30
	weightTorque      = 0.20
	weightRPM         = 0.15
)

// Baseline is the per-machine-type ceiling each risk sub-score is normalized against.
type Baseline struct {
	TempDangerDelta  float64
	ExpectedToolLife float64
	MaxTorque        float64
	MaxRPM           float64
}

// DefaultBaseline applies to machine types without an override.
var DefaultBaseline = Baseline{
	TempDangerDelta:  15,
	ExpectedToolLife: 1000,
	MaxTorque:        200,
	MaxRPM:           3000,
}

// Baselines maps machine types (L, M, H) to their baseline.
type Baselines map[string]Baseline

// DefaultBaselines returns the built-in per-type baselines.
func DefaultBaselines() Baselines {
	return Baselines{
		"L": {TempDangerDelta: 15, ExpectedToolLife: 800, MaxTorque: 180, MaxRPM: 3000},
		"M": DefaultBaseline,
		"H": {TempDangerDelta: 12, ExpectedToolLife: 1200, MaxTorque: 220, MaxRPM: 3000},
	}
}

// For returns the baseline for a machine type with unset fields taken from DefaultBaseline.
func (b Baselines) For(machineType string) Baseline {
	base, ok := b[strings.ToUpper(strings.TrimSpace(machineType))]
	if !ok {
		return DefaultBaseline
	}
	if base.TempDangerDelta <= 0 {
		base.TempDangerDelta = DefaultBaseline.TempDangerDelta
	}
	if base.ExpectedToolLife <= 0 {
		base.ExpectedToolLife = DefaultBaseline.ExpectedToolLife
	}
	if base.MaxTorque <= 0 {
		base.MaxTorque = DefaultBaseline.MaxTorque
	}
	if base.MaxRPM <= 0 {
		base.MaxRPM = DefaultBaseline.MaxRPM
	}
	return base
}

// RiskScore combines the weighted sub-scores into an integer in [0, 100].
func RiskScore(s domain.SensorData, b Baseline) int {
	tempDelta := math.Max(0, s.ProcessTemperature-s.AirTemperature)
	score := weightTemperature*clamp01(tempDelta/b.TempDangerDelta) +
		weightToolWear*clamp01(float64(s.ToolWear)/b.ExpectedToolLife) +
		weightTorque*clamp01(math.Abs(s.Torque)/b.MaxTorque) +
		weightRPM*clamp01(float64(s.RotationalSpeed)/b.MaxRPM)
	return int(math.Round(score * 100))
}

// RiskLevelFor maps a score to its tier.
func RiskLevelFor(score int) domain.RiskLevel {
	switch {
	case score >= 85:
		return domain.RiskCritical
	case score >= 60:
		return domain.RiskHigh
	case score >= 30:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
