// Package infrastructure provides patient record storage. The Postgres
// store is the production backend; the memory store backs tests and the
// database-less development mode.
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/database"
	"github.com/trimwell/portal/internal/shared/errors"
	"github.com/trimwell/portal/internal/shared/metrics"
	"github.com/trimwell/portal/internal/shared/types"
)

// sectionColumns whitelists the JSONB column each persistable section maps
// to. Section names arrive from the reducer, never from request input, but
// the whitelist keeps column names out of string formatting entirely.
var sectionColumns = map[string]string{
	domain.PersistTracking:   "tracking",
	domain.PersistLoop:       "current_loop",
	domain.PersistClinic:     "clinic",
	domain.PersistVitals:     "vitals",
	domain.PersistReports:    "reports",
	domain.PersistWeeklyLogs: "weekly_logs",
	domain.PersistDailyLogs:  "daily_logs",
	domain.PersistPsych:      "psych",
	domain.PersistMedical:    "medical",
	domain.PersistCareTeam:   "care_team",
	domain.PersistCarePlan:   "care_plan",
}

// PostgresStore persists patient records in the care schema.
type PostgresStore struct {
	db  *database.DB
	log zerolog.Logger
}

// NewPostgresStore wires the store to a connection pool.
func NewPostgresStore(db *database.DB, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

// Create inserts a new patient record, including its seeded history events.
func (s *PostgresStore) Create(ctx context.Context, rec *domain.PatientRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("patient_create", time.Since(start)) }()

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO care.patients (
			id, status, current_cycle, first_name, last_name, email, phone,
			shipping_address, tracking, current_loop, clinic,
			vitals, reports, weekly_logs, daily_logs, psych, medical,
			care_team, care_plan, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		rec.ID, string(rec.Status), rec.CurrentCycle,
		rec.FirstName, rec.LastName, rec.Email, rec.Phone,
		mustJSON(rec.ShippingAddress), mustJSON(rec.Tracking), mustJSON(rec.CurrentLoop),
		mustJSON(rec.Clinic), mustJSON(rec.Vitals), mustJSON(rec.Reports),
		mustJSON(rec.WeeklyLogs), mustJSON(rec.DailyLogs), mustJSON(rec.Psych),
		mustJSON(rec.Medical), mustJSON(rec.CareTeam), mustJSON(rec.CarePlan),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "inserting patient")
	}

	for _, log := range []string{"patient_history", "timeline"} {
		events := rec.PatientHistory
		if log == "timeline" {
			events = rec.Timeline
		}
		for _, event := range events {
			if err := s.AppendEvent(ctx, rec.ID, log, event); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get loads a full patient record, history logs included.
func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*domain.PatientRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("patient_get", time.Since(start)) }()

	row := s.db.Pool.QueryRow(ctx, `
		SELECT id, status, current_cycle, first_name, last_name, email, phone,
		       shipping_address, tracking, current_loop, clinic,
		       vitals, reports, weekly_logs, daily_logs, psych, medical,
		       care_team, care_plan, created_at, updated_at
		FROM care.patients WHERE id = $1`, id)

	rec, err := scanPatient(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.NotFound("patient", id.String())
		}
		return nil, errors.Wrap(err, "loading patient")
	}

	if err := s.loadHistory(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the whole patient population for queue derivation.
func (s *PostgresStore) List(ctx context.Context) ([]*domain.PatientRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("patient_list", time.Since(start)) }()

	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, status, current_cycle, first_name, last_name, email, phone,
		       shipping_address, tracking, current_loop, clinic,
		       vitals, reports, weekly_logs, daily_logs, psych, medical,
		       care_team, care_plan, created_at, updated_at
		FROM care.patients ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "listing patients")
	}
	defer rows.Close()

	var records []*domain.PatientRecord
	for rows.Next() {
		rec, err := scanPatient(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning patient")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "listing patients")
	}

	for _, rec := range records {
		if err := s.loadHistory(ctx, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Put is a no-op. Get materializes records from the database on every call,
// so durability flows entirely through the per-section writes.
func (s *PostgresStore) Put(context.Context, *domain.PatientRecord) error {
	return nil
}

// SaveSection writes one section independently of all others. Profile
// updates touch the typed columns; everything else is a single JSONB column
// write.
func (s *PostgresStore) SaveSection(ctx context.Context, patientID types.ID, section string, payload any) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("section_save", time.Since(start)) }()

	if section == domain.PersistProfile {
		return s.saveProfile(ctx, patientID, payload)
	}

	column, ok := sectionColumns[section]
	if !ok {
		return errors.Validation(fmt.Sprintf("unknown section %q", section), nil)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Persistence(section, err)
	}

	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE care.patients SET `+column+` = $2, updated_at = now() WHERE id = $1`,
		patientID, data)
	if err != nil {
		return errors.Persistence(section, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("patient", patientID.String())
	}
	return nil
}

type profilePayload struct {
	Status          domain.Status   `json:"status"`
	CurrentCycle    int             `json:"current_cycle"`
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone"`
	ShippingAddress *domain.Address `json:"shipping_address"`
}

func (s *PostgresStore) saveProfile(ctx context.Context, patientID types.ID, payload any) error {
	// The reducer hands profile payloads as a struct; round-trip through
	// JSON keeps the store independent of its concrete type.
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Persistence(domain.PersistProfile, err)
	}
	var p profilePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return errors.Persistence(domain.PersistProfile, err)
	}

	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE care.patients
		SET status = $2, current_cycle = $3, first_name = $4, last_name = $5,
		    email = $6, phone = $7, shipping_address = $8, updated_at = now()
		WHERE id = $1`,
		patientID, string(p.Status), p.CurrentCycle, p.FirstName, p.LastName,
		p.Email, p.Phone, mustJSON(p.ShippingAddress))
	if err != nil {
		return errors.Persistence(domain.PersistProfile, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("patient", patientID.String())
	}
	return nil
}

// AppendEvent inserts one history event. Events are insert-only; nothing
// ever updates or deletes a row.
func (s *PostgresStore) AppendEvent(ctx context.Context, patientID types.ID, log string, event domain.TimelineEvent) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("event_append", time.Since(start)) }()

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO care.timeline_events (
			id, patient_id, log, type, title, description, doctor, document_id, context, event_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		event.ID, patientID, log, string(event.Type), event.Title,
		event.Description, event.Doctor, event.DocumentID,
		mustJSON(event.Context), event.Date)
	if err != nil {
		return errors.Persistence(domain.PersistHistory, err)
	}
	return nil
}

func (s *PostgresStore) loadHistory(ctx context.Context, rec *domain.PatientRecord) error {
	// seq breaks ties between events sharing a timestamp so the append order
	// survives reloads.
	rows, err := s.db.Pool.Query(ctx, `
		SELECT id, log, type, title, description, doctor, document_id, context, event_date
		FROM care.timeline_events
		WHERE patient_id = $1
		ORDER BY event_date DESC, seq DESC`, rec.ID)
	if err != nil {
		return errors.Wrap(err, "loading history")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			event   domain.TimelineEvent
			log     string
			evtType string
			doctor  *string
			docID   *string
			rawCtx  []byte
		)
		if err := rows.Scan(&event.ID, &log, &evtType, &event.Title,
			&event.Description, &doctor, &docID, &rawCtx, &event.Date); err != nil {
			return errors.Wrap(err, "scanning event")
		}
		event.Type = domain.EventType(evtType)
		if doctor != nil {
			event.Doctor = *doctor
		}
		if docID != nil {
			event.DocumentID = *docID
		}
		if len(rawCtx) > 0 {
			var ec domain.EventContext
			if err := json.Unmarshal(rawCtx, &ec); err == nil {
				event.Context = &ec
			}
		}

		if log == "patient_history" {
			rec.PatientHistory = append(rec.PatientHistory, event)
		} else {
			rec.Timeline = append(rec.Timeline, event)
		}
	}
	return rows.Err()
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPatient(row rowScanner) (*domain.PatientRecord, error) {
	var (
		rec      domain.PatientRecord
		status   string
		phone    *string
		rawAddr  []byte
		rawTrack []byte
		rawLoop  []byte
		rawClin  []byte
		rawJSON  = make([][]byte, 8)
	)

	err := row.Scan(&rec.ID, &status, &rec.CurrentCycle,
		&rec.FirstName, &rec.LastName, &rec.Email, &phone,
		&rawAddr, &rawTrack, &rawLoop, &rawClin,
		&rawJSON[0], &rawJSON[1], &rawJSON[2], &rawJSON[3],
		&rawJSON[4], &rawJSON[5], &rawJSON[6], &rawJSON[7],
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	parsed, perr := domain.ParseStatus(status)
	if perr != nil {
		return nil, perr
	}
	rec.Status = parsed
	if phone != nil {
		rec.Phone = *phone
	}

	unmarshalInto(rawAddr, &rec.ShippingAddress)
	unmarshalInto(rawTrack, &rec.Tracking)
	unmarshalInto(rawLoop, &rec.CurrentLoop)
	unmarshalInto(rawClin, &rec.Clinic)
	unmarshalInto(rawJSON[0], &rec.Vitals)
	unmarshalInto(rawJSON[1], &rec.Reports)
	unmarshalInto(rawJSON[2], &rec.WeeklyLogs)
	unmarshalInto(rawJSON[3], &rec.DailyLogs)
	unmarshalInto(rawJSON[4], &rec.Psych)
	unmarshalInto(rawJSON[5], &rec.Medical)
	unmarshalInto(rawJSON[6], &rec.CareTeam)
	unmarshalInto(rawJSON[7], &rec.CarePlan)

	return &rec, nil
}

func unmarshalInto(raw []byte, dest any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dest)
}

func mustJSON(v any) []byte {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
