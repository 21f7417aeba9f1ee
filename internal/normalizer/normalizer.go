package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"PMCopilot/internal/domain"
)

// KelvinThreshold separates Kelvin readings from Celsius ones; higher values are Kelvin.
const KelvinThreshold = 200.0

const kelvinOffset = 273.15

const op = "normalize"

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the clock used when the payload carries no sensor timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// WithBaselines merges per-type risk baselines over the defaults.
func WithBaselines(b Baselines) Option {
	return func(n *Normalizer) {
		for k, v := range b {
			n.baselines[strings.ToUpper(k)] = v
		}
	}
}

// WithRegistry replaces the shape registry.
func WithRegistry(r *Registry) Option {
	return func(n *Normalizer) {
		if r != nil {
			n.shapes = r
		}
	}
}

// Normalizer maps upstream prediction payloads of any known shape onto domain records.
type Normalizer struct {
	shapes    *Registry
	validate  *validator.Validate
	baselines Baselines
	now       func() time.Time
}

// New builds a Normalizer with the default shapes and baselines.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		shapes:    DefaultRegistry(),
		validate:  validator.New(),
		baselines: DefaultBaselines(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates one raw payload and derives sensor data, risk, forecast and recommendation.
func (n *Normalizer) Normalize(raw json.RawMessage) (domain.Normalized, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return domain.Normalized{}, domain.Validation(op, "prediction payload is not a JSON object")
	}

	c, err := n.shapes.Extract(obj)
	if err != nil {
		return domain.Normalized{}, domain.Validation(op, "unrecognized prediction payload", err.Error())
	}
	if len(c.Problems) > 0 {
		return domain.Normalized{}, domain.Validation(op, "invalid prediction payload", c.Problems...)
	}
	if err := n.validate.Struct(c); err != nil {
		return domain.Normalized{}, domain.Validation(op, "invalid prediction payload", validationDetails(err)...)
	}

	return n.build(c), nil
}

func (n *Normalizer) build(c Canonical) domain.Normalized {
	maintenance := c.CurrentFailure == domain.ClassificationMaintenance

	sensorAt, ok := ParseTimestamp(c.Timestamp)
	if !ok {
		sensorAt = n.now().UTC()
	}

	sensor := domain.SensorData{
		MachineID:   c.MachineID,
		MachineType: c.MachineType,
		Timestamp:   sensorAt,
	}
	if !maintenance {
		sensor.AirTemperature = round2(toCelsius(*c.AirTemperature))
		sensor.ProcessTemperature = round2(toCelsius(*c.ProcessTemperature))
		sensor.RotationalSpeed = int(math.Round(*c.RotationalSpeed))
		sensor.Torque = round2(*c.Torque)
		sensor.ToolWear = int(math.Round(*c.ToolWear))
	}

	prediction := domain.Prediction{
		MachineID:      c.MachineID,
		Classification: c.CurrentFailure,
		PredictedAt:    sensorAt,
		RiskLevel:      domain.RiskLow,
	}

	if !maintenance {
		prediction.RiskScore = RiskScore(sensor, n.baselines.For(c.MachineType))
		prediction.RiskLevel = RiskLevelFor(prediction.RiskScore)

		prediction.ForecastFailureType = domain.ClassificationNoFailure
		if c.ForecastFailure != "" && c.ForecastFailure != domain.ClassificationNoFailure {
			prediction.ForecastFailureType = c.ForecastFailure
		}
	}

	if prediction.HasForecastFailure() {
		prediction.ForecastTimestampRaw = c.ForecastTimestamp
		prediction.ForecastCountdownRaw = c.ForecastCountdown
		at := ResolveForecastAt(c.ForecastTimestamp, c.ForecastCountdown, sensorAt)
		prediction.ForecastAt = &at
	}

	prediction.Recommendation = Recommend(
		recommendationKey(c.CurrentFailure, prediction.ForecastFailureType),
		prediction.RiskScore,
	)
	prediction.RawPayload = rawPayload(c, prediction)

	return domain.Normalized{Sensor: sensor, Prediction: prediction}
}

type storedPayload struct {
	Shape                       string `json:"shape"`
	PredictedFailureType        string `json:"predictedFailureType"`
	ForecastFailureType         string `json:"forecastFailureType,omitempty"`
	ForecastFailureTimestampRaw string `json:"forecastFailureTimestampRaw,omitempty"`
	ForecastFailureCountdownRaw string `json:"forecastFailureCountdownRaw,omitempty"`
}

func rawPayload(c Canonical, p domain.Prediction) json.RawMessage {
	stored := storedPayload{Shape: c.Shape, PredictedFailureType: c.CurrentFailure}
	if p.HasForecastFailure() {
		stored.ForecastFailureType = p.ForecastFailureType
		stored.ForecastFailureTimestampRaw = p.ForecastTimestampRaw
		stored.ForecastFailureCountdownRaw = p.ForecastCountdownRaw
	}
	b, _ := json.Marshal(stored)
	return b
}

// ProbeMachineID extracts a machine id from a payload that may fail normalization.
func ProbeMachineID(raw json.RawMessage) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	for depth := 0; depth < 3 && obj != nil; depth++ {
		if id := pickString(obj, "machineId", "machineID", "machine_id", "Machine ID", "id"); id != "" {
			return id
		}
		if inner, ok := obj["data"].(map[string]any); ok {
			obj = inner
			continue
		}
		if inner, ok := obj["sensorData"].(map[string]any); ok {
			obj = inner
			continue
		}
		break
	}
	return ""
}

func toCelsius(v float64) float64 {
	if v > KelvinThreshold {
		return v - kelvinOffset
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
	}
	return details
}
