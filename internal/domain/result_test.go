package domain

import (
	"testing"
	"time"
)

func TestFormatSnapshotVariants(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	forecastAt := at.Add(15 * time.Hour)
	air, proc, torque := 25.123, 35.456, 40.0
	rpm, wear := 1500, 120
	machine := Machine{
		ID: "L_001", Type: "L",
		AirTemperature: &air, ProcessTemperature: &proc, RotationalSpeed: &rpm,
		Torque: &torque, ToolWear: &wear, SensorTimestamp: &at,
	}

	t.Run("never ingested", func(t *testing.T) {
		t.Parallel()
		res := FormatSnapshot(MachineSnapshot{Machine: Machine{ID: "M_002", Type: "M"}})
		if res.SensorData.Classification != ClassificationUnknown || res.Risk != nil || res.Ticket != nil {
			t.Fatalf("unexpected unknown view %+v", res)
		}
	})

	t.Run("forecast failure", func(t *testing.T) {
		t.Parallel()
		ticket := &Ticket{ID: 7, MachineID: "L_001"}
		res := FormatSnapshot(MachineSnapshot{
			Machine: machine,
			Prediction: &Prediction{
				Classification: ClassificationNoFailure, ForecastFailureType: "Power Failure",
				Recommendation: "Check power supply.", RiskScore: 40, RiskLevel: RiskMedium,
				PredictedAt: at, ForecastAt: &forecastAt, ForecastCountdownRaw: "15 hours",
			},
			Ticket: ticket,
		})
		if res.Predicted == nil || res.Predicted.Forecast != "Power Failure" {
			t.Fatalf("expected predicted block, got %+v", res.Predicted)
		}
		if *res.Predicted.Timestamp != "2025-01-01T15:00:00Z" || *res.Predicted.Countdown != "15 hours" {
			t.Fatalf("unexpected forecast view %+v", res.Predicted)
		}
		if *res.SensorData.AirTemperature != 25.12 || *res.SensorData.ProcessTemperature != 35.46 {
			t.Fatalf("temperatures must be rounded to 2 decimals")
		}
		if res.Ticket != ticket || res.Risk.Level != RiskMedium {
			t.Fatalf("unexpected ticket/risk %+v %+v", res.Ticket, res.Risk)
		}
	})

	t.Run("maintenance", func(t *testing.T) {
		t.Parallel()
		res := FormatSnapshot(MachineSnapshot{
			Machine:    machine,
			Prediction: &Prediction{Classification: ClassificationMaintenance, RiskLevel: RiskLow, PredictedAt: at},
			Ticket:     &Ticket{ID: 1},
		})
		if *res.SensorData.Torque != 0 || *res.SensorData.RotationalSpeed != 0 {
			t.Fatalf("maintenance readings must be zero")
		}
		if res.Predicted != nil || res.Ticket != nil {
			t.Fatalf("maintenance view carries no forecast or ticket")
		}
	})
}
