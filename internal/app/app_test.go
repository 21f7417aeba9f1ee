package app

import (
	"context"
	"testing"

	"PMCopilot/internal/config"
	"PMCopilot/internal/logging"
	"PMCopilot/internal/normalizer"
)

func TestBaselinesOverlayDefaults(t *testing.T) {
	t.Parallel()

	got := baselines(config.RiskConfig{Baselines: map[string]config.BaselineConfig{
		"h": {MaxTorque: 250},
		"X": {TempDangerDelta: 9, ExpectedToolLife: 500, MaxTorque: 100, MaxRPM: 2000},
	}})

	h := got.For("H")
	if h.MaxTorque != 250 || h.ExpectedToolLife != normalizer.DefaultBaseline.ExpectedToolLife {
		t.Fatalf("unexpected H baseline %+v", h)
	}
	if x := got.For("X"); x.MaxRPM != 2000 || x.TempDangerDelta != 9 {
		t.Fatalf("unexpected X baseline %+v", x)
	}
	if l := got.For("L"); l != normalizer.DefaultBaselines()["L"] {
		t.Fatalf("L baseline should keep its default, got %+v", l)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	if _, err := New(context.Background(), cfg, logging.Discard()); err == nil {
		t.Fatalf("expected validation error for empty config")
	}
}
