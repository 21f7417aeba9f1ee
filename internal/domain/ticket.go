package domain

import (
	"fmt"
	"strings"
	"time"
)

// TicketPriority ranks how soon a ticket must be handled.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "LOW"
	PriorityMedium TicketPriority = "MEDIUM"
	PriorityHigh   TicketPriority = "HIGH"
	PriorityUrgent TicketPriority = "URGENT"
)

// ParsePriority accepts any casing of a known priority.
func ParsePriority(v string) (TicketPriority, error) {
	p := TicketPriority(strings.ToUpper(strings.TrimSpace(v)))
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	}
	return "", fmt.Errorf("unknown ticket priority %q", v)
}

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// ParseTicketStatus accepts any casing of a known status.
func ParseTicketStatus(v string) (TicketStatus, error) {
	s := TicketStatus(strings.ToLower(strings.TrimSpace(v)))
	switch s {
	case TicketOpen, TicketClosed:
		return s, nil
	}
	return "", fmt.Errorf("unknown ticket status %q", v)
}

// Ticket is a maintenance work item, usually created by the auto-ticketing engine.
type Ticket struct {
	ID                int64          `json:"id"`
	MachineID         string         `json:"machineId"`
	Title             string         `json:"title"`
	Issue             string         `json:"issue"`
	Priority          TicketPriority `json:"priority"`
	Status            TicketStatus   `json:"status"`
	ExpectedFailureAt *time.Time     `json:"expectedFailureAt"`
	CreatedAt         time.Time      `json:"createdAt"`
	ClosedAt          *time.Time     `json:"closedAt"`
}

// TicketFilter narrows ticket listings; zero values mean "any".
type TicketFilter struct {
	MachineID string
	Status    TicketStatus
	Priority  TicketPriority
	Limit     int
	Offset    int
}

// TicketPage is one page of a ticket listing.
type TicketPage struct {
	Tickets []Ticket `json:"tickets"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}
