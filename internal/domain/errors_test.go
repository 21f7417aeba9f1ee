package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesByKind(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := fmt.Errorf("fetch L_001: %w", Upstream("ml.PredictMachine", "no response received", cause))

	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream kind")
	}
	if errors.Is(err, ErrPersistence) {
		t.Fatalf("upstream error must not match persistence")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause must stay reachable")
	}
	if KindOf(err) != KindUpstream {
		t.Fatalf("unexpected kind %q", KindOf(err))
	}
	if KindOf(cause) != "" {
		t.Fatalf("plain errors carry no kind")
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := Validation("normalize", "invalid prediction payload", "torque: required", "type: required")
	want := "normalize: invalid prediction payload (torque: required; type: required)"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}

	nf := NotFound("", "machine %s not found", "X_1")
	if nf.Error() != "machine X_1 not found" {
		t.Fatalf("unexpected message %q", nf.Error())
	}
}

func TestParseTicketEnums(t *testing.T) {
	t.Parallel()

	if p, err := ParsePriority(" urgent "); err != nil || p != PriorityUrgent {
		t.Fatalf("ParsePriority: %v, %v", p, err)
	}
	if _, err := ParsePriority("critical"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
	if s, err := ParseTicketStatus("Closed"); err != nil || s != TicketClosed {
		t.Fatalf("ParseTicketStatus: %v, %v", s, err)
	}
}
