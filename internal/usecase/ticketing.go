package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

const (
	urgentWindow = 24 * time.Hour
	soonWindow   = 72 * time.Hour
)

// Decision is the outcome of assessing whether a prediction warrants a ticket.
type Decision struct {
	Needed      bool
	FailureType string
	IsCurrent   bool
}

// Assess decides ticket necessity from the current and forecast classifications.
func Assess(current, forecast string) Decision {
	if current == domain.ClassificationMaintenance {
		return Decision{}
	}
	if domain.IsActiveFailure(current) {
		return Decision{Needed: true, FailureType: current, IsCurrent: true}
	}
	if domain.IsActiveFailure(forecast) {
		return Decision{Needed: true, FailureType: forecast}
	}
	return Decision{}
}

// Reference is the title fragment the duplicate check matches on.
func (d Decision) Reference() string {
	if d.IsCurrent {
		return "[ALERT] " + d.FailureType
	}
	return "[ALERT] PREDICTION: " + d.FailureType
}

// Draft is a ticket prepared outside the transaction, inserted inside it.
type Draft struct {
	Decision
	Title             string
	Issue             string
	Priority          domain.TicketPriority
	ExpectedFailureAt *time.Time
	Generated         bool
}

// PriorityFor maps the time left before failure and its currency to a priority.
func PriorityFor(isCurrent bool, untilFailure time.Duration) domain.TicketPriority {
	switch {
	case untilFailure <= urgentWindow:
		if isCurrent {
			return domain.PriorityUrgent
		}
		return domain.PriorityHigh
	case untilFailure <= soonWindow:
		if isCurrent {
			return domain.PriorityHigh
		}
		return domain.PriorityMedium
	default:
		if isCurrent {
			return domain.PriorityMedium
		}
		return domain.PriorityLow
	}
}

// Ticketing prepares and inserts maintenance tickets for failing machines.
type Ticketing struct {
	repo      ports.Repository
	generator ports.TextGenerator
	now       func() time.Time
	logger    *slog.Logger
}

// NewTicketing builds the engine. generator may be nil; the template is used then.
func NewTicketing(repo ports.Repository, generator ports.TextGenerator, logger *slog.Logger) *Ticketing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticketing{
		repo:      repo,
		generator: generator,
		now:       time.Now,
		logger:    logger,
	}
}

// Prepare returns a draft when a ticket is warranted and not already open.
// Content generation happens here so no transaction spans the text generator call.
func (t *Ticketing) Prepare(ctx context.Context, n domain.Normalized) *Draft {
	d := Assess(n.Prediction.Classification, n.Prediction.ForecastFailureType)
	if !d.Needed {
		return nil
	}

	machineID := n.Sensor.MachineID
	if t.repo != nil {
		exists, err := t.repo.HasOpenTicket(ctx, machineID, d.FailureType)
		switch {
		case err != nil:
			t.logger.Warn("ticket pre-check failed", "machine_id", machineID, "error", err)
		case exists:
			t.logger.Debug("open ticket already exists", "machine_id", machineID, "failure", d.FailureType)
			return nil
		}
	}

	expected := expectedFailureAt(n, d)
	draft := &Draft{
		Decision:          d,
		Priority:          PriorityFor(d.IsCurrent, expected.Sub(t.now())),
		ExpectedFailureAt: &expected,
	}

	title, issue, ok := t.generate(ctx, n, d, expected)
	if !ok {
		title, issue = fallbackContent(n, d, expected)
	}
	draft.Title = d.Reference() + " - " + title
	draft.Issue = issue
	draft.Generated = ok
	return draft
}

// MaybeCreate inserts the draft unless an open ticket for the same failure exists.
func (t *Ticketing) MaybeCreate(ctx context.Context, tx ports.TxRepository, machineID string, draft *Draft) (*domain.Ticket, error) {
	if draft == nil || !draft.Needed {
		return nil, nil
	}

	exists, err := tx.HasOpenTicket(ctx, machineID, draft.FailureType)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, nil
	}

	created, err := tx.InsertTicket(ctx, domain.Ticket{
		MachineID:         machineID,
		Title:             draft.Title,
		Issue:             draft.Issue,
		Priority:          draft.Priority,
		Status:            domain.TicketOpen,
		ExpectedFailureAt: draft.ExpectedFailureAt,
		CreatedAt:         t.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (t *Ticketing) generate(ctx context.Context, n domain.Normalized, d Decision, expected time.Time) (string, string, bool) {
	if t.generator == nil {
		return "", "", false
	}

	text, err := t.generator.Generate(ctx, buildPrompt(n, d, expected))
	if err != nil {
		t.logger.Warn("ticket text generation failed, using template", "machine_id", n.Sensor.MachineID, "error", err)
		return "", "", false
	}

	title, issue, err := parseGenerated(text)
	if err != nil {
		t.logger.Warn("ticket text unusable, using template", "machine_id", n.Sensor.MachineID, "error", err)
		return "", "", false
	}
	return title, issue, true
}

func expectedFailureAt(n domain.Normalized, d Decision) time.Time {
	if !d.IsCurrent && n.Prediction.ForecastAt != nil {
		return n.Prediction.ForecastAt.UTC()
	}
	return n.Sensor.Timestamp.UTC()
}

func buildPrompt(n domain.Normalized, d Decision, expected time.Time) string {
	s := n.Sensor
	kind := "is currently failing with"
	if !d.IsCurrent {
		kind = "is forecast to fail with"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Machine %s (type %s) %s %q.\n", s.MachineID, s.MachineType, kind, d.FailureType)
	fmt.Fprintf(&b, "Expected failure time: %s.\n", expected.Format(time.RFC3339))
	fmt.Fprintf(&b, "Sensors: air %.2f C, process %.2f C, %d rpm, torque %.2f Nm, tool wear %d min.\n",
		s.AirTemperature, s.ProcessTemperature, s.RotationalSpeed, s.Torque, s.ToolWear)
	fmt.Fprintf(&b, "Risk score: %d (%s). Recommendation: %s\n",
		n.Prediction.RiskScore, n.Prediction.RiskLevel, n.Prediction.Recommendation)
	b.WriteString("Write a maintenance ticket. Reply with only a JSON object of the form ")
	b.WriteString(`{"title": "<short title>", "issue": "<description of the problem and the actions to take>"}`)
	return b.String()
}

type generatedTicket struct {
	Title string `json:"title"`
	Issue string `json:"issue"`
}

func parseGenerated(text string) (string, string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", "", fmt.Errorf("no json object in generator output")
	}

	var g generatedTicket
	if err := json.Unmarshal([]byte(text[start:end+1]), &g); err != nil {
		return "", "", fmt.Errorf("decode generator output: %w", err)
	}
	g.Title = strings.TrimSpace(g.Title)
	g.Issue = strings.TrimSpace(g.Issue)
	if g.Title == "" || g.Issue == "" {
		return "", "", fmt.Errorf("generator output misses title or issue")
	}
	return g.Title, g.Issue, nil
}

func fallbackContent(n domain.Normalized, d Decision, expected time.Time) (string, string) {
	s := n.Sensor
	title := fmt.Sprintf("%s detected on %s", d.FailureType, s.MachineID)
	if !d.IsCurrent {
		title = fmt.Sprintf("%s expected on %s", d.FailureType, s.MachineID)
	}

	var b strings.Builder
	if d.IsCurrent {
		fmt.Fprintf(&b, "Machine %s reports %s.\n", s.MachineID, d.FailureType)
	} else {
		fmt.Fprintf(&b, "Machine %s is predicted to suffer %s by %s.\n", s.MachineID, d.FailureType, expected.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Air temperature: %.2f C\n", s.AirTemperature)
	fmt.Fprintf(&b, "Process temperature: %.2f C\n", s.ProcessTemperature)
	fmt.Fprintf(&b, "Rotational speed: %d rpm\n", s.RotationalSpeed)
	fmt.Fprintf(&b, "Torque: %.2f Nm\n", s.Torque)
	fmt.Fprintf(&b, "Tool wear: %d min\n", s.ToolWear)
	fmt.Fprintf(&b, "Risk: %d (%s)\n", n.Prediction.RiskScore, n.Prediction.RiskLevel)
	if n.Prediction.Recommendation != "" {
		fmt.Fprintf(&b, "Recommendation: %s\n", n.Prediction.Recommendation)
	}
	return title, strings.TrimRight(b.String(), "\n")
}
