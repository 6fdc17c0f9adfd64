// Package labs integrates the partner laboratory information system. The LIS
// runs on a legacy SQL Server instance with no push interface, so the
// adapter polls its result table and feeds finalized panels into the care
// reducer as lab completions.
package labs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/rs/zerolog"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/config"
	"github.com/trimwell/portal/internal/shared/types"
)

// Applier applies a (event, partial update) pair to a patient record.
// Satisfied by the care reducer.
type Applier interface {
	ApplyUpdate(ctx context.Context, patientID types.ID, event *domain.TimelineEvent, update *domain.PartialUpdate) (*domain.PatientRecord, error)
}

// Result is one finalized lab panel read from the LIS.
type Result struct {
	ExternalID  string
	PatientID   types.ID
	PanelName   string
	Status      string
	ResultText  string
	CollectedAt time.Time
	ReportedAt  time.Time
}

// Adapter polls the LIS result table and applies completions to patient
// records.
type Adapter struct {
	cfg     config.LabsConfig
	applier Applier
	log     zerolog.Logger

	db       *sql.DB
	running  bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	lastPoll time.Time
	wg       sync.WaitGroup
}

// New creates the adapter. It does not connect until Start.
func New(cfg config.LabsConfig, applier Applier, log zerolog.Logger) *Adapter {
	return &Adapter{cfg: cfg, applier: applier, log: log}
}

// Start opens the LIS connection and begins polling.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("labs adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.cfg.Host, a.cfg.Port, a.cfg.Database, a.cfg.User, a.cfg.Password)
	if a.cfg.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open LIS database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping LIS database: %w", err)
	}

	a.db = db
	a.running = true
	a.lastPoll = time.Now().Add(-a.cfg.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	a.log.Info().
		Str("host", a.cfg.Host).
		Dur("interval", a.cfg.PollInterval).
		Msg("labs adapter started")
	return nil
}

// Stop halts polling and closes the connection.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if a.db != nil {
		a.db.Close()
	}

	a.running = false
	return nil
}

// Health checks LIS connectivity.
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("labs adapter not running")
	}
	return a.db.PingContext(ctx)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			since := a.lastPoll
			a.lastPoll = time.Now()
			a.mu.Unlock()

			if err := a.pollResults(ctx, since); err != nil {
				a.log.Error().Err(err).Msg("polling lab results failed")
			}
		}
	}
}

// pollResults reads finalized results reported since the last poll and
// applies each as a lab completion. A result that fails to apply is logged
// and retried implicitly on the next poll window overlap, never blocking
// its siblings.
func (a *Adapter) pollResults(ctx context.Context, since time.Time) error {
	query := fmt.Sprintf(`
		SELECT ResultID, PortalPatientID, PanelName, Status, ResultText, CollectedAt, ReportedAt
		FROM %s
		WHERE ReportedAt > @since AND Status = 'Final'
		ORDER BY ReportedAt`, a.cfg.ResultTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return fmt.Errorf("querying lab results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r          Result
			patientRaw string
			resultText sql.NullString
		)
		if err := rows.Scan(&r.ExternalID, &patientRaw, &r.PanelName,
			&r.Status, &resultText, &r.CollectedAt, &r.ReportedAt); err != nil {
			return fmt.Errorf("scanning lab result: %w", err)
		}
		id, err := types.ParseID(strings.TrimSpace(patientRaw))
		if err != nil {
			a.log.Warn().Str("result_id", r.ExternalID).
				Msg("lab result carries no valid portal patient id, skipping")
			continue
		}
		r.PatientID = id
		if resultText.Valid {
			r.ResultText = resultText.String
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range results {
		if err := a.applyResult(ctx, r); err != nil {
			a.log.Error().
				Str("result_id", r.ExternalID).
				Str("patient_id", r.PatientID.String()).
				Err(err).
				Msg("applying lab result failed")
		}
	}
	return nil
}

func (a *Adapter) applyResult(ctx context.Context, r Result) error {
	now := time.Now().UTC()
	state := &domain.SectionState{
		Status:    domain.SubStatusCompleted,
		Date:      r.CollectedAt.Format("2006-01-02"),
		UpdatedAt: &now,
	}

	event := &domain.TimelineEvent{
		Title:       fmt.Sprintf("Lab results received: %s", r.PanelName),
		Description: r.ResultText,
		Type:        domain.EventTypeLabs,
		DocumentID:  r.ExternalID,
		Context: &domain.EventContext{
			LabOrder: &domain.LabOrder{Panels: []string{r.PanelName}},
		},
	}
	update := &domain.PartialUpdate{
		Tracking:    map[domain.Section]*domain.SectionState{domain.SectionLabs: state},
		CurrentLoop: map[domain.Section]*domain.SectionState{domain.SectionLabs: state.Clone()},
	}

	_, err := a.applier.ApplyUpdate(ctx, r.PatientID, event, update)
	return err
}
