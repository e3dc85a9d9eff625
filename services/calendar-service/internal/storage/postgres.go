package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fitdesk/leadcal/libs/db"
	"github.com/fitdesk/leadcal/services/calendar-service/internal/model"
)

// PostgresStore persists appointments in the appointments table (see migrations). The
// appointments_no_overlap exclusion constraint backs the ledger's check across replicas.
type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const appointmentColumns = `id, owner_id, lead_id, lead_name, lead_email, lead_phone, title, description, location,
	start_time, end_time, type, status, reminder_sent, reminder_24h_sent,
	external_calendar_id, external_provider, cancel_reason, cancelled_at, completed_at,
	created_at, updated_at, created_by`

func (s *PostgresStore) Insert(ctx context.Context, a model.Appointment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`, a.ID, a.OwnerID, a.LeadID, a.LeadName, a.LeadEmail, a.LeadPhone, a.Title, a.Description, a.Location,
		a.StartTime, a.EndTime, string(a.Type), string(a.Status), a.ReminderSent, a.Reminder24hSent,
		a.ExternalCalendarID, a.ExternalProvider, a.CancelReason, a.CancelledAt, a.CompletedAt,
		a.CreatedAt, a.UpdatedAt, a.CreatedBy)
	return mapPgError(err, a.ID)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return model.Appointment{}, errors.Wrapf(err, "get appointment %s", id)
	}
	return appt, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]model.Appointment, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + appointmentColumns + ` FROM appointments` + where + ` ORDER BY start_time ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list appointments")
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan appointment")
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "list appointments")
	}
	return appts, nil
}

func (s *PostgresStore) Update(ctx context.Context, a model.Appointment) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET lead_name = $2, lead_email = $3, lead_phone = $4, title = $5, description = $6, location = $7,
			start_time = $8, end_time = $9, type = $10, status = $11, reminder_sent = $12, reminder_24h_sent = $13,
			external_calendar_id = $14, external_provider = $15, cancel_reason = $16, cancelled_at = $17,
			completed_at = $18, updated_at = $19
		WHERE id = $1
	`, a.ID, a.LeadName, a.LeadEmail, a.LeadPhone, a.Title, a.Description, a.Location,
		a.StartTime, a.EndTime, string(a.Type), string(a.Status), a.ReminderSent, a.Reminder24hSent,
		a.ExternalCalendarID, a.ExternalProvider, a.CancelReason, a.CancelledAt,
		a.CompletedAt, a.UpdatedAt)
	if err != nil {
		return mapPgError(err, a.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "id %s", a.ID)
	}
	return nil
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if f.LeadID != "" {
		add("lead_id = $%d", f.LeadID)
	}
	if !f.StartFrom.IsZero() {
		add("start_time >= $%d", f.StartFrom)
	}
	if !f.StartTo.IsZero() {
		add("start_time < $%d", f.StartTo)
	}
	if f.Overlapping.Valid() {
		add("start_time < $%d", f.Overlapping.End)
		add("end_time > $%d", f.Overlapping.Start)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var typ, status string
	var cancelledAt, completedAt *time.Time
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.LeadID, &a.LeadName, &a.LeadEmail, &a.LeadPhone, &a.Title, &a.Description, &a.Location,
		&a.StartTime, &a.EndTime, &typ, &status, &a.ReminderSent, &a.Reminder24hSent,
		&a.ExternalCalendarID, &a.ExternalProvider, &a.CancelReason, &cancelledAt, &completedAt,
		&a.CreatedAt, &a.UpdatedAt, &a.CreatedBy,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Type = model.Type(typ)
	a.Status = model.Status(status)
	a.CancelledAt = cancelledAt
	a.CompletedAt = completedAt
	return a, nil
}

func mapPgError(err error, id string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23P01":
			return errors.Wrapf(ErrOverlap, "id %s: %s", id, pgErr.ConstraintName)
		case "23505":
			return errors.Wrapf(ErrExists, "id %s", id)
		}
	}
	return errors.Wrapf(err, "write appointment %s", id)
}
