package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends fleet and ticket events to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase points the notifier at another Bot API host.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = strings.TrimRight(base, "/")
	return n
}

// Publish posts a Markdown rendering of the event. Unknown payloads are ignored.
func (n *Notifier) Publish(ctx context.Context, event domain.Event) error {
	text, ok := render(event)
	if !ok {
		return nil
	}
	return n.send(ctx, text)
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func render(event domain.Event) (string, bool) {
	switch p := event.Payload.(type) {
	case domain.RunSummary:
		return renderSummary(p), true
	case *domain.RunSummary:
		if p != nil {
			return renderSummary(*p), true
		}
	case domain.Ticket:
		return renderTicket(p), true
	case *domain.Ticket:
		if p != nil {
			return renderTicket(*p), true
		}
	}
	return "", false
}

func renderSummary(s domain.RunSummary) string {
	var b strings.Builder
	status := "completed"
	if !s.Success {
		status = "failed"
	}
	fmt.Fprintf(&b, "*Fleet refresh %s* (%s)\n", status, s.Trigger)
	fmt.Fprintf(&b, "Machines: %d, ok: %d, failed: %d, took %s\n",
		s.Total, s.SuccessCount, s.FailCount, s.Duration.Round(time.Millisecond))
	if s.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", s.Error)
	}
	for _, item := range s.Items {
		if !item.Success {
			fmt.Fprintf(&b, "- `%s`: %s\n", item.MachineID, item.Error)
		}
	}
	return b.String()
}

func renderTicket(t domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*New %s ticket* for `%s`\n", t.Priority, t.MachineID)
	fmt.Fprintf(&b, "%s\n", t.Title)
	if t.ExpectedFailureAt != nil {
		fmt.Fprintf(&b, "Expected failure: %s\n", t.ExpectedFailureAt.UTC().Format(time.RFC3339))
	}
	if t.Issue != "" {
		fmt.Fprintf(&b, "\n%s\n", t.Issue)
	}
	return b.String()
}
