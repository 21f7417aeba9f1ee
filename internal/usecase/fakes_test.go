package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/logging"
	"PMCopilot/internal/normalizer"
	"PMCopilot/internal/ports"
)

var sensorTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func machinePayload(id, current, forecast, countdown string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"machineId": %q,
		"type": "L",
		"airTemperature": 298.2,
		"processTemperature": 308.7,
		"rotationalSpeed": 1408,
		"torque": 46.3,
		"toolWear": 3,
		"timestamp": "2025-01-01T00:00:00Z",
		"currentFailure": %q,
		"forecast": %q,
		"countdown": %q
	}`, id, current, forecast, countdown))
}

// memRepo is an in-memory Repository with rollback on failed transactions.
type memRepo struct {
	mu          sync.Mutex
	machines    map[string]domain.Machine
	readings    []domain.SensorData
	predictions []domain.Prediction
	tickets     []domain.Ticket
	nextID      int64
	failOn      string
	lastFilter  domain.TicketFilter
}

func newMemRepo() *memRepo {
	return &memRepo{machines: map[string]domain.Machine{}}
}

func (r *memRepo) InTx(ctx context.Context, fn func(tx ports.TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	machines := make(map[string]domain.Machine, len(r.machines))
	for k, v := range r.machines {
		machines[k] = v
	}
	readings := append([]domain.SensorData(nil), r.readings...)
	predictions := append([]domain.Prediction(nil), r.predictions...)
	tickets := append([]domain.Ticket(nil), r.tickets...)

	if err := fn(memTx{r}); err != nil {
		r.machines, r.readings, r.predictions, r.tickets = machines, readings, predictions, tickets
		return err
	}
	return nil
}

func (r *memRepo) HasOpenTicket(_ context.Context, machineID, failureRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasOpen(machineID, failureRef), nil
}

func (r *memRepo) hasOpen(machineID, failureRef string) bool {
	for _, t := range r.tickets {
		if t.MachineID == machineID && t.Status == domain.TicketOpen &&
			strings.Contains(strings.ToLower(t.Title), strings.ToLower(failureRef)) {
			return true
		}
	}
	return false
}

func (r *memRepo) GetMachine(_ context.Context, machineID string) (domain.MachineSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[machineID]
	if !ok {
		return domain.MachineSnapshot{}, domain.NotFound("memRepo.GetMachine", "machine %s not found", machineID)
	}
	snap := domain.MachineSnapshot{Machine: m}
	if p, ok := r.latest(machineID); ok {
		snap.Prediction = &p
	}
	return snap, nil
}

func (r *memRepo) ListMachines(_ context.Context, limit, offset int) ([]domain.MachineSnapshot, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.machines))
	for id := range r.machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []domain.MachineSnapshot
	for i, id := range ids {
		if i < offset || len(out) >= limit {
			continue
		}
		out = append(out, domain.MachineSnapshot{Machine: r.machines[id]})
	}
	return out, len(ids), nil
}

func (r *memRepo) LatestPrediction(_ context.Context, machineID string) (domain.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.latest(machineID)
	if !ok {
		return domain.Prediction{}, domain.NotFound("memRepo.LatestPrediction", "no prediction for %s", machineID)
	}
	return p, nil
}

func (r *memRepo) latest(machineID string) (domain.Prediction, bool) {
	var best domain.Prediction
	found := false
	for _, p := range r.predictions {
		if p.MachineID == machineID && (!found || !p.PredictedAt.Before(best.PredictedAt)) {
			best, found = p, true
		}
	}
	return best, found
}

func (r *memRepo) ListTickets(_ context.Context, filter domain.TicketFilter) (domain.TicketPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter
	return domain.TicketPage{Tickets: append([]domain.Ticket(nil), r.tickets...), Total: len(r.tickets), Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (r *memRepo) GetTicket(_ context.Context, id int64) (domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Ticket{}, domain.NotFound("memRepo.GetTicket", "ticket %d not found", id)
}

func (r *memRepo) UpdateTicketStatus(_ context.Context, id int64, status domain.TicketStatus, at time.Time) (domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.tickets {
		if t.ID != id {
			continue
		}
		t.Status = status
		t.ClosedAt = nil
		if status == domain.TicketClosed {
			t.ClosedAt = &at
		}
		r.tickets[i] = t
		return t, nil
	}
	return domain.Ticket{}, domain.NotFound("memRepo.UpdateTicketStatus", "ticket %d not found", id)
}

func (r *memRepo) ticketCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}

func (r *memRepo) machineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

func (r *memRepo) addTicket(t domain.Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t.ID = r.nextID
	r.tickets = append(r.tickets, t)
}

// memTx runs with memRepo.mu already held.
type memTx struct{ r *memRepo }

func (t memTx) fail(step string) error {
	if t.r.failOn == step {
		return domain.Persistence("memTx."+step, "injected failure", nil)
	}
	return nil
}

func (t memTx) UpsertMachine(_ context.Context, data domain.SensorData) error {
	if err := t.fail("machine"); err != nil {
		return err
	}
	ts := data.Timestamp
	air, proc, torque := data.AirTemperature, data.ProcessTemperature, data.Torque
	rpm, wear := data.RotationalSpeed, data.ToolWear
	t.r.machines[data.MachineID] = domain.Machine{
		ID: data.MachineID, Type: data.MachineType,
		AirTemperature: &air, ProcessTemperature: &proc, RotationalSpeed: &rpm,
		Torque: &torque, ToolWear: &wear, SensorTimestamp: &ts,
	}
	return nil
}

func (t memTx) InsertSensorReading(_ context.Context, data domain.SensorData) error {
	if err := t.fail("reading"); err != nil {
		return err
	}
	t.r.readings = append(t.r.readings, data)
	return nil
}

func (t memTx) InsertPrediction(_ context.Context, p domain.Prediction) (int64, error) {
	if err := t.fail("prediction"); err != nil {
		return 0, err
	}
	t.r.nextID++
	p.ID = t.r.nextID
	t.r.predictions = append(t.r.predictions, p)
	return p.ID, nil
}

func (t memTx) HasOpenTicket(_ context.Context, machineID, failureRef string) (bool, error) {
	return t.r.hasOpen(machineID, failureRef), nil
}

func (t memTx) InsertTicket(_ context.Context, tk domain.Ticket) (domain.Ticket, error) {
	if err := t.fail("ticket"); err != nil {
		return domain.Ticket{}, err
	}
	t.r.nextID++
	tk.ID = t.r.nextID
	t.r.tickets = append(t.r.tickets, tk)
	return tk, nil
}

// fakePredictor counts upstream calls and can block until released.
type fakePredictor struct {
	calls   atomic.Int32
	gate    chan struct{}
	entered chan struct{}
	err     error
	fleet   []json.RawMessage
	payload func(id string) json.RawMessage
}

func (p *fakePredictor) PredictMachine(ctx context.Context, machineID string) (json.RawMessage, error) {
	p.calls.Add(1)
	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.payload != nil {
		return p.payload(machineID), nil
	}
	return machinePayload(machineID, "No Failure", "No Failure", ""), nil
}

func (p *fakePredictor) PredictFleet(context.Context) ([]json.RawMessage, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return p.fleet, nil
}

// clockCache is a TTL cache driven by an adjustable clock.
type clockCache struct {
	mu      sync.Mutex
	now     time.Time
	entries map[string]cacheEntry
	getErr  error
}

type cacheEntry struct {
	value     domain.PredictionResult
	expiresAt time.Time
}

func newClockCache(now time.Time) *clockCache {
	return &clockCache{now: now, entries: map[string]cacheEntry{}}
}

func (c *clockCache) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *clockCache) Get(_ context.Context, machineID string) (domain.PredictionResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return domain.PredictionResult{}, false, c.getErr
	}
	e, ok := c.entries[machineID]
	if !ok || !c.now.Before(e.expiresAt) {
		return domain.PredictionResult{}, false, nil
	}
	return e.value, true, nil
}

func (c *clockCache) Set(_ context.Context, machineID string, result domain.PredictionResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[machineID] = cacheEntry{value: result, expiresAt: c.now.Add(ttl)}
	return nil
}

func (c *clockCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type stubGenerator struct {
	text  string
	err   error
	calls atomic.Int32
}

func (g *stubGenerator) Generate(context.Context, string) (string, error) {
	g.calls.Add(1)
	return g.text, g.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
	panics bool
}

func (n *recordingNotifier) Publish(_ context.Context, e domain.Event) error {
	if n.panics {
		panic("notifier exploded")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	repo      *memRepo
	tickets   *Ticketing
	pipeline  *Pipeline
	notifier  *recordingNotifier
	generator *stubGenerator
}

func newHarness(now time.Time) *harness {
	h := &harness{
		repo:      newMemRepo(),
		notifier:  &recordingNotifier{},
		generator: &stubGenerator{err: fmt.Errorf("offline")},
	}
	logger := logging.Discard()
	h.tickets = NewTicketing(h.repo, h.generator, logger)
	h.tickets.now = func() time.Time { return now }
	h.pipeline = NewPipeline(PipelineDeps{
		Normalizer: normalizer.New(normalizer.WithClock(func() time.Time { return now })),
		Gateway:    NewGateway(h.repo, h.tickets),
		Tickets:    h.tickets,
		Notifier:   h.notifier,
		Logger:     logger,
	})
	return h
}
