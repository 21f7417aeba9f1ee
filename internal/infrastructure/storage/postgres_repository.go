package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"PMCopilot/internal/domain"
	"PMCopilot/internal/ports"
)

//go:embed schema.sql
var schema string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var (
	machineColumns = []string{
		"id", "type", "air_temperature", "process_temperature", "rotational_speed",
		"torque", "tool_wear", "sensor_timestamp", "created_at", "updated_at",
	}
	predictionColumns = []string{
		"id", "machine_id", "classification", "forecast_failure_type", "recommendation",
		"risk_score", "risk_level", "predicted_at", "forecast_at",
		"forecast_timestamp_raw", "forecast_countdown_raw", "raw_payload",
	}
	ticketColumns = []string{
		"id", "machine_id", "title", "issue", "priority", "status",
		"expected_failure_at", "created_at", "closed_at",
	}
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Open connects to Postgres through lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema; every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return wrapErr("storage.Migrate", "apply schema", err)
	}
	return nil
}

// PostgresRepository persists machines, readings, predictions and tickets into Postgres.
type PostgresRepository struct {
	db *sql.DB
	store
}

var _ ports.Repository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, store: store{q: db}}
}

// InTx runs fn inside one transaction, committing only when fn succeeds.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx ports.TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("storage.InTx", "begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txRepository{store: store{q: tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, wrapErr("storage.InTx", "rollback", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapErr("storage.InTx", "commit", err)
	}
	return nil
}

// GetMachine loads a machine with its latest prediction and most urgent open ticket.
func (r *PostgresRepository) GetMachine(ctx context.Context, machineID string) (domain.MachineSnapshot, error) {
	const op = "storage.GetMachine"

	query, args, err := psql.Select(machineColumns...).From("machines").
		Where(sq.Eq{"id": machineID}).ToSql()
	if err != nil {
		return domain.MachineSnapshot{}, wrapErr(op, "build query", err)
	}

	m, err := scanMachine(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MachineSnapshot{}, domain.NotFound(op, "machine %s not found", machineID)
	}
	if err != nil {
		return domain.MachineSnapshot{}, wrapErr(op, "select machine", err)
	}
	return r.snapshot(ctx, m)
}

// ListMachines returns one page of machines ordered by id and the total count.
func (r *PostgresRepository) ListMachines(ctx context.Context, limit, offset int) ([]domain.MachineSnapshot, int, error) {
	const op = "storage.ListMachines"

	var total int
	countQuery, countArgs, err := psql.Select("COUNT(*)").From("machines").ToSql()
	if err != nil {
		return nil, 0, wrapErr(op, "build count", err)
	}
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, wrapErr(op, "count machines", err)
	}

	query, args, err := psql.Select(machineColumns...).From("machines").
		OrderBy("id").Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, 0, wrapErr(op, "build query", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrapErr(op, "select machines", err)
	}
	var machines []domain.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			_ = rows.Close()
			return nil, 0, wrapErr(op, "scan machine", err)
		}
		machines = append(machines, m)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, 0, wrapErr(op, "rows iteration", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, 0, wrapErr(op, "close rows", closeErr)
	}

	snapshots := make([]domain.MachineSnapshot, 0, len(machines))
	for _, m := range machines {
		snap, err := r.snapshot(ctx, m)
		if err != nil {
			return nil, 0, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, total, nil
}

func (r *PostgresRepository) snapshot(ctx context.Context, m domain.Machine) (domain.MachineSnapshot, error) {
	snap := domain.MachineSnapshot{Machine: m}

	p, err := r.LatestPrediction(ctx, m.ID)
	switch {
	case err == nil:
		snap.Prediction = &p
	case !errors.Is(err, domain.ErrNotFound):
		return domain.MachineSnapshot{}, err
	}

	t, err := r.mostUrgentOpenTicket(ctx, m.ID)
	if err != nil {
		return domain.MachineSnapshot{}, err
	}
	snap.Ticket = t
	return snap, nil
}

func (r *PostgresRepository) mostUrgentOpenTicket(ctx context.Context, machineID string) (*domain.Ticket, error) {
	const op = "storage.mostUrgentOpenTicket"

	query, args, err := psql.Select(ticketColumns...).From("tickets").
		Where(sq.Eq{"machine_id": machineID, "status": string(domain.TicketOpen)}).
		OrderBy("expected_failure_at ASC NULLS LAST", "created_at DESC").
		Limit(1).ToSql()
	if err != nil {
		return nil, wrapErr(op, "build query", err)
	}

	t, err := scanTicket(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(op, "select ticket", err)
	}
	return &t, nil
}

// LatestPrediction returns the prediction with the greatest PredictedAt.
func (r *PostgresRepository) LatestPrediction(ctx context.Context, machineID string) (domain.Prediction, error) {
	const op = "storage.LatestPrediction"

	query, args, err := psql.Select(predictionColumns...).From("predictions").
		Where(sq.Eq{"machine_id": machineID}).
		OrderBy("predicted_at DESC", "id DESC").
		Limit(1).ToSql()
	if err != nil {
		return domain.Prediction{}, wrapErr(op, "build query", err)
	}

	p, err := scanPrediction(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Prediction{}, domain.NotFound(op, "no prediction for machine %s", machineID)
	}
	if err != nil {
		return domain.Prediction{}, wrapErr(op, "select prediction", err)
	}
	return p, nil
}

// ListTickets returns tickets matching the filter, newest first, with the total count.
func (r *PostgresRepository) ListTickets(ctx context.Context, filter domain.TicketFilter) (domain.TicketPage, error) {
	const op = "storage.ListTickets"

	where := sq.Eq{}
	if filter.MachineID != "" {
		where["machine_id"] = filter.MachineID
	}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}
	if filter.Priority != "" {
		where["priority"] = string(filter.Priority)
	}

	page := domain.TicketPage{Tickets: []domain.Ticket{}, Limit: filter.Limit, Offset: filter.Offset}

	countBuilder := psql.Select("COUNT(*)").From("tickets")
	listBuilder := psql.Select(ticketColumns...).From("tickets")
	if len(where) > 0 {
		countBuilder = countBuilder.Where(where)
		listBuilder = listBuilder.Where(where)
	}

	countQuery, countArgs, err := countBuilder.ToSql()
	if err != nil {
		return domain.TicketPage{}, wrapErr(op, "build count", err)
	}
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&page.Total); err != nil {
		return domain.TicketPage{}, wrapErr(op, "count tickets", err)
	}

	query, args, err := listBuilder.
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(filter.Limit)).Offset(uint64(filter.Offset)).ToSql()
	if err != nil {
		return domain.TicketPage{}, wrapErr(op, "build query", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.TicketPage{}, wrapErr(op, "select tickets", err)
	}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			_ = rows.Close()
			return domain.TicketPage{}, wrapErr(op, "scan ticket", err)
		}
		page.Tickets = append(page.Tickets, t)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return domain.TicketPage{}, wrapErr(op, "rows iteration", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return domain.TicketPage{}, wrapErr(op, "close rows", closeErr)
	}
	return page, nil
}

// GetTicket loads a ticket by id.
func (r *PostgresRepository) GetTicket(ctx context.Context, id int64) (domain.Ticket, error) {
	const op = "storage.GetTicket"

	query, args, err := psql.Select(ticketColumns...).From("tickets").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Ticket{}, wrapErr(op, "build query", err)
	}
	t, err := scanTicket(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ticket{}, domain.NotFound(op, "ticket %d not found", id)
	}
	if err != nil {
		return domain.Ticket{}, wrapErr(op, "select ticket", err)
	}
	return t, nil
}

// UpdateTicketStatus sets the status; closing stamps closed_at and reopening clears it.
func (r *PostgresRepository) UpdateTicketStatus(ctx context.Context, id int64, status domain.TicketStatus, at time.Time) (domain.Ticket, error) {
	const op = "storage.UpdateTicketStatus"

	var closedAt any
	if status == domain.TicketClosed {
		closedAt = at.UTC()
	}

	query, args, err := psql.Update("tickets").
		Set("status", string(status)).
		Set("closed_at", closedAt).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(ticketColumns, ", ")).
		ToSql()
	if err != nil {
		return domain.Ticket{}, wrapErr(op, "build query", err)
	}

	t, err := scanTicket(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ticket{}, domain.NotFound(op, "ticket %d not found", id)
	}
	if err != nil {
		return domain.Ticket{}, wrapErr(op, "update ticket", err)
	}
	return t, nil
}

// txRepository exposes the ingestion writes bound to one transaction.
type txRepository struct {
	store
}

var _ ports.TxRepository = (*txRepository)(nil)

// store holds the statements shared by the pool and transaction views.
type store struct {
	q querier
}

// UpsertMachine creates the machine or refreshes its latest snapshot.
func (s store) UpsertMachine(ctx context.Context, data domain.SensorData) error {
	const op = "storage.UpsertMachine"

	query, args, err := psql.Insert("machines").
		Columns("id", "type", "air_temperature", "process_temperature", "rotational_speed",
			"torque", "tool_wear", "sensor_timestamp", "updated_at").
		Values(data.MachineID, data.MachineType, data.AirTemperature, data.ProcessTemperature,
			data.RotationalSpeed, data.Torque, data.ToolWear, data.Timestamp.UTC(), sq.Expr("NOW()")).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			air_temperature = EXCLUDED.air_temperature,
			process_temperature = EXCLUDED.process_temperature,
			rotational_speed = EXCLUDED.rotational_speed,
			torque = EXCLUDED.torque,
			tool_wear = EXCLUDED.tool_wear,
			sensor_timestamp = EXCLUDED.sensor_timestamp,
			updated_at = NOW()`).
		ToSql()
	if err != nil {
		return wrapErr(op, "build query", err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return wrapErr(op, "upsert machine "+data.MachineID, err)
	}
	return nil
}

// InsertSensorReading appends one immutable reading.
func (s store) InsertSensorReading(ctx context.Context, data domain.SensorData) error {
	const op = "storage.InsertSensorReading"

	query, args, err := psql.Insert("sensor_readings").
		Columns("machine_id", "air_temperature", "process_temperature", "rotational_speed",
			"torque", "tool_wear", "recorded_at").
		Values(data.MachineID, data.AirTemperature, data.ProcessTemperature, data.RotationalSpeed,
			data.Torque, data.ToolWear, data.Timestamp.UTC()).
		ToSql()
	if err != nil {
		return wrapErr(op, "build query", err)
	}
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return wrapErr(op, "insert reading for "+data.MachineID, err)
	}
	return nil
}

// InsertPrediction stores a prediction and returns its id.
func (s store) InsertPrediction(ctx context.Context, p domain.Prediction) (int64, error) {
	const op = "storage.InsertPrediction"

	var payload any
	if len(p.RawPayload) > 0 {
		payload = []byte(p.RawPayload)
	}

	query, args, err := psql.Insert("predictions").
		Columns("machine_id", "classification", "forecast_failure_type", "recommendation",
			"risk_score", "risk_level", "predicted_at", "forecast_at",
			"forecast_timestamp_raw", "forecast_countdown_raw", "raw_payload").
		Values(p.MachineID, p.Classification, nullString(p.ForecastFailureType), p.Recommendation,
			p.RiskScore, string(p.RiskLevel), p.PredictedAt.UTC(), nullTime(p.ForecastAt),
			nullString(p.ForecastTimestampRaw), nullString(p.ForecastCountdownRaw), payload).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, wrapErr(op, "build query", err)
	}

	var id int64
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, wrapErr(op, "insert prediction for "+p.MachineID, err)
	}
	return id, nil
}

// HasOpenTicket reports whether an open ticket for the machine mentions failureRef in its title.
func (s store) HasOpenTicket(ctx context.Context, machineID, failureRef string) (bool, error) {
	const op = "storage.HasOpenTicket"

	query, args, err := psql.Select("id").From("tickets").
		Where(sq.Eq{"machine_id": machineID, "status": string(domain.TicketOpen)}).
		Where(sq.Expr("title ILIKE ?", "%"+escapeLike(failureRef)+"%")).
		Limit(1).ToSql()
	if err != nil {
		return false, wrapErr(op, "build query", err)
	}

	var id int64
	err = s.q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr(op, "select ticket", err)
	}
	return true, nil
}

// InsertTicket stores an open ticket and returns it with id and created_at.
func (s store) InsertTicket(ctx context.Context, t domain.Ticket) (domain.Ticket, error) {
	const op = "storage.InsertTicket"

	status := t.Status
	if status == "" {
		status = domain.TicketOpen
	}

	query, args, err := psql.Insert("tickets").
		Columns("machine_id", "title", "issue", "priority", "status", "expected_failure_at").
		Values(t.MachineID, t.Title, t.Issue, string(t.Priority), string(status), nullTime(t.ExpectedFailureAt)).
		Suffix("RETURNING " + strings.Join(ticketColumns, ", ")).
		ToSql()
	if err != nil {
		return domain.Ticket{}, wrapErr(op, "build query", err)
	}

	created, err := scanTicket(s.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		return domain.Ticket{}, wrapErr(op, "insert ticket for "+t.MachineID, err)
	}
	return created, nil
}

func scanMachine(row rowScanner) (domain.Machine, error) {
	var (
		m           domain.Machine
		air, proc   sql.NullFloat64
		torque      sql.NullFloat64
		rpm, wear   sql.NullInt64
		sensorStamp sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.Type, &air, &proc, &rpm, &torque, &wear, &sensorStamp, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.Machine{}, err
	}
	m.AirTemperature = floatPtr(air)
	m.ProcessTemperature = floatPtr(proc)
	m.Torque = floatPtr(torque)
	m.RotationalSpeed = intPtr(rpm)
	m.ToolWear = intPtr(wear)
	m.SensorTimestamp = timePtr(sensorStamp)
	return m, nil
}

func scanPrediction(row rowScanner) (domain.Prediction, error) {
	var (
		p                      domain.Prediction
		forecast, tsRaw, cdRaw sql.NullString
		riskLevel              string
		forecastAt             sql.NullTime
		payload                []byte
	)
	if err := row.Scan(&p.ID, &p.MachineID, &p.Classification, &forecast, &p.Recommendation,
		&p.RiskScore, &riskLevel, &p.PredictedAt, &forecastAt, &tsRaw, &cdRaw, &payload); err != nil {
		return domain.Prediction{}, err
	}
	p.ForecastFailureType = forecast.String
	p.RiskLevel = domain.RiskLevel(riskLevel)
	p.ForecastAt = timePtr(forecastAt)
	p.ForecastTimestampRaw = tsRaw.String
	p.ForecastCountdownRaw = cdRaw.String
	if len(payload) > 0 {
		p.RawPayload = append([]byte(nil), payload...)
	}
	return p, nil
}

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var (
		t                  domain.Ticket
		priority, status   string
		expected, closedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.MachineID, &t.Title, &t.Issue, &priority, &status,
		&expected, &t.CreatedAt, &closedAt); err != nil {
		return domain.Ticket{}, err
	}
	t.Priority = domain.TicketPriority(priority)
	t.Status = domain.TicketStatus(status)
	t.ExpectedFailureAt = timePtr(expected)
	t.ClosedAt = timePtr(closedAt)
	return t, nil
}

// wrapErr turns storage failures into persistence errors, naming Postgres constraint codes.
func wrapErr(op, msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			msg += ": unique violation"
		case "23503":
			msg += ": foreign key violation"
		default:
			msg += fmt.Sprintf(": postgres %s (%s)", pqErr.Code, pqErr.Code.Name())
		}
		if pqErr.Constraint != "" {
			msg += " on " + pqErr.Constraint
		}
	}
	return domain.Persistence(op, msg, err)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
