package care

import (
	"context"
	goerrors "errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/config"
	"github.com/trimwell/portal/internal/shared/errors"
	"github.com/trimwell/portal/internal/shared/events"
	"github.com/trimwell/portal/internal/shared/metrics"
	"github.com/trimwell/portal/internal/shared/types"
)

// RecordSource loads patient records for mutation and publishes the merged
// result back to the read path. Stores whose Get materializes from durable
// storage implement Put as a no-op.
type RecordSource interface {
	Get(ctx context.Context, id types.ID) (*domain.PatientRecord, error)
	Put(ctx context.Context, rec *domain.PatientRecord) error
}

// SectionPersister writes one section of a patient record at a time. Writes
// for different sections are independent; there is no cross-section
// transaction.
type SectionPersister interface {
	SaveSection(ctx context.Context, patientID types.ID, section string, payload any) error
	AppendEvent(ctx context.Context, patientID types.ID, log string, event domain.TimelineEvent) error
}

// ProfileSection is the payload shape for profile persistence.
type ProfileSection struct {
	Status          domain.Status   `json:"status"`
	CurrentCycle    int             `json:"current_cycle"`
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone,omitempty"`
	ShippingAddress *domain.Address `json:"shipping_address,omitempty"`
}

// Reducer is the single point of mutation for patient records. It applies a
// (new event, partial update) pair synchronously in memory, then fans out
// one persistence call per modified section. Section writes are optimistic:
// a failed write is logged and retried per configuration but never reverts
// the in-memory merge or blocks sibling sections.
type Reducer struct {
	source  RecordSource
	persist SectionPersister
	archive events.Archiver
	cfg     config.PersistConfig
	log     zerolog.Logger

	mu       sync.Mutex
	inflight sync.WaitGroup
	now      func() time.Time
}

// NewReducer wires the reducer to its collaborators.
func NewReducer(source RecordSource, persist SectionPersister, archive events.Archiver, cfg config.PersistConfig, log zerolog.Logger) *Reducer {
	if archive == nil {
		archive = events.NopArchiver{}
	}
	return &Reducer{
		source:  source,
		persist: persist,
		archive: archive,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// ApplyUpdate locates the patient, merges the partial update, appends the
// event (when given) to the record's active history log with a fresh id and
// timestamp, publishes the merged record, and triggers per-section
// persistence. The merge is validated before anything lands on the record:
// a rejected update leaves no event behind and publishes nothing. The
// returned record reflects the full merge; no partially-merged state is ever
// observable. An unknown patient id yields a typed not-found error.
func (r *Reducer) ApplyUpdate(ctx context.Context, patientID types.ID, event *domain.TimelineEvent, update *domain.PartialUpdate) (*domain.PatientRecord, error) {
	start := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.source.Get(ctx, patientID)
	if err != nil {
		if goerrors.Is(err, errors.ErrNotFound) {
			r.log.Warn().Str("patient_id", patientID.String()).
				Msg("update targeted unknown patient")
			return nil, errors.NotFound("patient", patientID.String())
		}
		return nil, errors.Wrap(err, "loading patient")
	}

	prevStatus := rec.Status

	if err := rec.Apply(update, r.now().UTC()); err != nil {
		return nil, errors.Validation(err.Error(), nil)
	}

	var appended *domain.TimelineEvent
	var historyLog string
	if event != nil {
		e := *event
		e.ID = types.NewID()
		e.Date = r.now().UTC()
		historyLog = rec.HistoryLog()
		rec.AppendEvent(e)
		appended = &e
		metrics.RecordTimelineEvent(string(e.Type))
	}

	if update != nil && update.Status != nil && prevStatus != rec.Status {
		metrics.RecordStatusTransition(string(prevStatus), string(rec.Status))
	}

	if err := r.source.Put(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "publishing patient")
	}

	r.dispatchPersistence(rec, appended, historyLog, update)
	metrics.RecordReducerApply(time.Since(start))
	return rec, nil
}

// dispatchPersistence launches one goroutine per modified section, plus the
// history append and the archival stream when an event was supplied. Payload
// snapshots are taken synchronously so later applies cannot race in-flight
// writes.
func (r *Reducer) dispatchPersistence(rec *domain.PatientRecord, event *domain.TimelineEvent, historyLog string, update *domain.PartialUpdate) {
	patientID := rec.ID

	sections := []string{domain.PersistProfile}
	if update != nil {
		sections = update.Modified()
		if !contains(sections, domain.PersistProfile) {
			sections = append([]string{domain.PersistProfile}, sections...)
		}
	}

	for _, section := range sections {
		payload := sectionPayload(rec, section)
		r.inflight.Add(1)
		go r.persistSection(patientID, section, payload)
	}

	if event != nil {
		e := *event
		r.inflight.Add(1)
		go r.persistEvent(patientID, historyLog, e)
	}
}

func (r *Reducer) persistSection(patientID types.ID, section string, payload any) {
	defer r.inflight.Done()

	attempts := r.cfg.RetryAttempts + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		metrics.RecordPersistAttempt(section)

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		err := r.persist.SaveSection(ctx, patientID, section, payload)
		cancel()

		if err == nil {
			return
		}

		metrics.RecordPersistFailure(section)
		r.log.Error().
			Str("patient_id", patientID.String()).
			Str("section", section).
			Int("attempt", attempt).
			Err(err).
			Msg("section persistence failed")

		if attempt < attempts {
			time.Sleep(r.cfg.RetryBackoff)
		}
	}
}

func (r *Reducer) persistEvent(patientID types.ID, historyLog string, event domain.TimelineEvent) {
	defer r.inflight.Done()

	metrics.RecordPersistAttempt(domain.PersistHistory)
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if err := r.persist.AppendEvent(ctx, patientID, historyLog, event); err != nil {
		metrics.RecordPersistFailure(domain.PersistHistory)
		r.log.Error().
			Str("patient_id", patientID.String()).
			Str("log", historyLog).
			Err(err).
			Msg("history persistence failed")
	}

	if err := r.archive.Archive(ctx, patientID, string(event.Type), event); err != nil {
		r.log.Warn().
			Str("patient_id", patientID.String()).
			Err(err).
			Msg("event archival failed")
	}
}

// Wait blocks until all in-flight section writes have finished. Used at
// shutdown and in tests; callers on the request path never wait.
func (r *Reducer) Wait() {
	r.inflight.Wait()
}

// sectionPayload snapshots one section of the record for persistence.
func sectionPayload(rec *domain.PatientRecord, section string) any {
	switch section {
	case domain.PersistProfile:
		return ProfileSection{
			Status:          rec.Status,
			CurrentCycle:    rec.CurrentCycle,
			FirstName:       rec.FirstName,
			LastName:        rec.LastName,
			Email:           rec.Email,
			Phone:           rec.Phone,
			ShippingAddress: rec.ShippingAddress,
		}
	case domain.PersistTracking:
		return cloneSections(rec.Tracking)
	case domain.PersistLoop:
		return cloneSections(rec.CurrentLoop)
	case domain.PersistClinic:
		return rec.Clinic
	case domain.PersistVitals:
		return rec.Vitals
	case domain.PersistReports:
		return rec.Reports
	case domain.PersistWeeklyLogs:
		return rec.WeeklyLogs
	case domain.PersistDailyLogs:
		return rec.DailyLogs
	case domain.PersistPsych:
		return rec.Psych
	case domain.PersistMedical:
		return rec.Medical
	case domain.PersistCareTeam:
		return rec.CareTeam
	case domain.PersistCarePlan:
		return rec.CarePlan
	default:
		return nil
	}
}

func cloneSections(m map[domain.Section]*domain.SectionState) map[domain.Section]*domain.SectionState {
	out := make(map[domain.Section]*domain.SectionState, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
