package normalizer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Canonical is the shape-independent record extracted from an upstream payload.
type Canonical struct {
	MachineID          string   `validate:"required"`
	MachineType        string   `validate:"required"`
	AirTemperature     *float64 `validate:"required"`
	ProcessTemperature *float64 `validate:"required"`
	RotationalSpeed    *float64 `validate:"required"`
	Torque             *float64 `validate:"required"`
	ToolWear           *float64 `validate:"required"`
	CurrentFailure     string   `validate:"required"`
	ForecastFailure    string
	ForecastTimestamp  string
	ForecastCountdown  string
	Timestamp          string

	// Shape names the strategy that produced the record.
	Shape string `validate:"-"`
	// Problems collects fields that were present but unusable.
	Problems []string `validate:"-"`
}

// Shape captures one upstream payload layout.
type Shape interface {
	Name() string
	Match(obj map[string]any) bool
	Extract(obj map[string]any) (Canonical, error)
}

// Registry keeps shape strategies in the order they are tried.
type Registry struct {
	shapes []Shape
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry knows every payload layout the prediction service has produced.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(envelopeShape{registry: r})
	r.Register(nestedShape{})
	r.Register(labeledShape{})
	r.Register(flatShape{})
	return r
}

// Register appends a shape, replacing an existing one with the same name in place.
func (r *Registry) Register(shape Shape) {
	for i, s := range r.shapes {
		if s.Name() == shape.Name() {
			r.shapes[i] = shape
			return
		}
	}
	r.shapes = append(r.shapes, shape)
}

// Resolve returns the first shape matching obj.
func (r *Registry) Resolve(obj map[string]any) (Shape, error) {
	for _, s := range r.shapes {
		if s.Match(obj) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no known payload shape matches keys %v", keysOf(obj))
}

// Extract resolves the shape of obj and extracts its canonical record.
func (r *Registry) Extract(obj map[string]any) (Canonical, error) {
	shape, err := r.Resolve(obj)
	if err != nil {
		return Canonical{}, err
	}
	c, err := shape.Extract(obj)
	if err != nil {
		return Canonical{}, fmt.Errorf("%s shape: %w", shape.Name(), err)
	}
	if c.Shape == "" {
		c.Shape = shape.Name()
	}
	return c, nil
}

// envelopeShape unwraps {success, data:{...}} and re-detects the inner object.
type envelopeShape struct {
	registry *Registry
}

func (envelopeShape) Name() string { return "envelope" }

func (envelopeShape) Match(obj map[string]any) bool {
	if _, ok := obj["success"]; !ok {
		return false
	}
	_, ok := obj["data"].(map[string]any)
	return ok
}

func (s envelopeShape) Extract(obj map[string]any) (Canonical, error) {
	if ok, isBool := obj["success"].(bool); isBool && !ok {
		return Canonical{}, fmt.Errorf("upstream reported success=false")
	}
	inner := obj["data"].(map[string]any)
	c, err := s.registry.Extract(inner)
	if err != nil {
		return Canonical{}, err
	}
	c.Shape = "envelope/" + c.Shape
	return c, nil
}

// nestedShape handles {sensorData:{...}, predictionResult:{...}}.
type nestedShape struct{}

func (nestedShape) Name() string { return "nested" }

func (nestedShape) Match(obj map[string]any) bool {
	_, sensor := obj["sensorData"].(map[string]any)
	_, prediction := obj["predictionResult"].(map[string]any)
	return sensor && prediction
}

func (nestedShape) Extract(obj map[string]any) (Canonical, error) {
	var c Canonical
	sensor := obj["sensorData"].(map[string]any)
	prediction := obj["predictionResult"].(map[string]any)
	readSensorFields(&c, sensor)
	readPredictionFields(&c, prediction)
	if c.Timestamp == "" {
		c.Timestamp = pickString(obj, "timestamp", "Timestamp")
	}
	return c, nil
}

// labeledShape handles the dataset-style labels ("Air temperature [K]", ...).
type labeledShape struct{}

func (labeledShape) Name() string { return "labeled" }

func (labeledShape) Match(obj map[string]any) bool {
	for _, k := range []string{"Machine ID", "Predicted Failure Type", "Air temperature [K]"} {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func (labeledShape) Extract(obj map[string]any) (Canonical, error) {
	c := Canonical{
		MachineID:         pickString(obj, "Machine ID"),
		MachineType:       pickString(obj, "Type"),
		CurrentFailure:    pickString(obj, "Predicted Failure Type"),
		ForecastFailure:   pickString(obj, "Forecast Failure Type"),
		ForecastTimestamp: pickString(obj, "Forecast Failure Timestamp"),
		ForecastCountdown: pickString(obj, "Forecast Failure Countdown"),
		Timestamp:         pickString(obj, "Timestamp", "timestamp"),
	}
	c.AirTemperature = pickNumber(&c, obj, "Air temperature [K]")
	c.ProcessTemperature = pickNumber(&c, obj, "Process temperature [K]")
	c.RotationalSpeed = pickNumber(&c, obj, "Rotational speed [rpm]")
	c.Torque = pickNumber(&c, obj, "Torque [Nm]")
	c.ToolWear = pickNumber(&c, obj, "Tool wear [min]")
	return c, nil
}

// flatShape handles a single camelCase or snake_case object; it is the fallback.
type flatShape struct{}

func (flatShape) Name() string { return "flat" }

func (flatShape) Match(map[string]any) bool { return true }

func (flatShape) Extract(obj map[string]any) (Canonical, error) {
	var c Canonical
	readSensorFields(&c, obj)
	readPredictionFields(&c, obj)
	return c, nil
}

func readSensorFields(c *Canonical, m map[string]any) {
	c.MachineID = pickString(m, "machineId", "machineID", "machine_id", "id")
	c.MachineType = pickString(m, "type", "machineType", "machine_type", "Type")
	c.AirTemperature = pickNumber(c, m, "airTemperature", "air_temperature")
	c.ProcessTemperature = pickNumber(c, m, "processTemperature", "process_temperature")
	c.RotationalSpeed = pickNumber(c, m, "rotationalSpeed", "rotational_speed", "rpm")
	c.Torque = pickNumber(c, m, "torque", "Torque")
	c.ToolWear = pickNumber(c, m, "toolWear", "tool_wear")
	c.Timestamp = pickString(m, "timestamp", "Timestamp")
}

func readPredictionFields(c *Canonical, m map[string]any) {
	c.CurrentFailure = pickString(m, "currentFailure", "current_failure", "prediction", "predictedFailure", "predicted_failure")
	c.ForecastFailure = pickString(m, "forecast", "forecastFailure", "forecast_failure")
	c.ForecastTimestamp = pickString(m, "predictedAt", "predicted_at", "forecastTimestamp", "forecast_timestamp")
	c.ForecastCountdown = pickString(m, "countdown", "forecastCountdown", "forecast_countdown")
}

func pick(m map[string]any, keys ...string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

func pickString(m map[string]any, keys ...string) string {
	_, v, ok := pick(m, keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func pickNumber(c *Canonical, m map[string]any, keys ...string) *float64 {
	key, v, ok := pick(m, keys...)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return &f
		}
	}
	c.Problems = append(c.Problems, fmt.Sprintf("%s: expected a number, got %v", key, v))
	return nil
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
