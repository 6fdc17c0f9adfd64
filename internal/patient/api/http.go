// Package api exposes the patient care HTTP surface.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/trimwell/portal/internal/care"
	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/auth"
	"github.com/trimwell/portal/internal/shared/errors"
	"github.com/trimwell/portal/internal/shared/types"
)

// Handler provides HTTP handlers for patient records and derived care views.
type Handler struct {
	repo     domain.Repository
	reducer  *care.Reducer
	actions  *care.ActionHandler
	protocol *care.ProtocolEngine
	tasks    *care.TaskEngine
	log      zerolog.Logger
}

// NewHandler creates a new patient handler.
func NewHandler(repo domain.Repository, reducer *care.Reducer, actions *care.ActionHandler, log zerolog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		reducer:  reducer,
		actions:  actions,
		protocol: care.NewProtocolEngine(),
		tasks:    care.NewTaskEngine(),
		log:      log,
	}
}

// Routes registers the patient routes. Staff-only surfaces are gated by
// role; patients can read their own record and derived protocol.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	staff := []auth.Role{auth.RolePhysician, auth.RoleCoordinator, auth.RoleAdmin}

	r.With(auth.RequireRole(staff...)).Get("/", h.ListPatients)
	r.With(auth.RequireRole(staff...)).Post("/", h.RegisterPatient)

	r.Route("/{patientID}", func(r chi.Router) {
		r.Get("/", h.GetPatient)
		r.Get("/protocol", h.GetProtocol)
		r.Get("/timeline", h.GetTimeline)

		r.With(auth.RequireRole(staff...)).Post("/updates", h.ApplyPatientUpdate)
		r.With(auth.RequireRole(staff...)).Post("/actions", h.ApplyStepAction)
		r.With(auth.RequireRole(staff...)).Post("/cycles", h.StartNewCycle)
	})

	return r
}

// TaskRoutes registers the coordinator queue routes.
func (h *Handler) TaskRoutes() chi.Router {
	r := chi.NewRouter()
	r.With(auth.RequireRole(auth.RolePhysician, auth.RoleCoordinator, auth.RoleAdmin)).
		Get("/", h.ListTasks)
	return r
}

// --- Request/Response types ---

type RegisterPatientRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type EventPayload struct {
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Type        domain.EventType     `json:"type"`
	Doctor      string               `json:"doctor,omitempty"`
	DocumentID  string               `json:"document_id,omitempty"`
	Context     *domain.EventContext `json:"context,omitempty"`
}

type ApplyUpdateRequest struct {
	Event   *EventPayload         `json:"event,omitempty"`
	Updates *domain.PartialUpdate `json:"updates,omitempty"`
}

type StepActionRequest struct {
	ID           string            `json:"id"`
	Label        string            `json:"label"`
	Target       care.ActionTarget `json:"target"`
	TargetStatus string            `json:"target_status"`
}

// --- Handlers ---

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patients": records,
		"total":    len(records),
	})
}

func (h *Handler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req RegisterPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	rec, err := domain.NewPatientRecord(req.FirstName, req.LastName, req.Email)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}
	rec.Phone = req.Phone

	if err := h.repo.Create(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}

	h.log.Info().Str("patient_id", rec.ID.String()).Msg("patient registered")
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) GetProtocol(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.protocol.Derive(rec))
}

func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"log":    rec.HistoryLog(),
		"events": rec.History(),
	})
}

func (h *Handler) ApplyPatientUpdate(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	var req ApplyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Event == nil && req.Updates.IsEmpty() {
		writeError(w, errors.BadRequest("update carries no event and no changes"))
		return
	}

	var event *domain.TimelineEvent
	if req.Event != nil {
		if req.Event.Title == "" {
			writeError(w, errors.Validation("event title is required", nil))
			return
		}
		if req.Event.Type == "" {
			req.Event.Type = domain.EventTypeNote
		}
		event = &domain.TimelineEvent{
			Title:       req.Event.Title,
			Description: req.Event.Description,
			Type:        req.Event.Type,
			Doctor:      req.Event.Doctor,
			DocumentID:  req.Event.DocumentID,
			Context:     req.Event.Context,
		}
	}

	rec, err := h.reducer.ApplyUpdate(r.Context(), patientID, event, req.Updates)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ApplyStepAction(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	var req StepActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	user := auth.GetUser(r.Context())
	actor := ""
	if user != nil {
		actor = user.Name
	}

	rec, err := h.actions.Apply(r.Context(), patientID, care.StepAction{
		ID:           req.ID,
		Label:        req.Label,
		Target:       req.Target,
		TargetStatus: req.TargetStatus,
	}, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) StartNewCycle(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	user := auth.GetUser(r.Context())
	actor := ""
	if user != nil {
		actor = user.Name
	}

	rec, err := h.actions.StartNewCycle(r.Context(), patientID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	queue := h.tasks.DeriveQueue(records)
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": queue,
		"total": len(queue),
	})
}

// loadAuthorized resolves the patient id, loads the record and enforces
// self-or-staff access.
func (h *Handler) loadAuthorized(w http.ResponseWriter, r *http.Request) (*domain.PatientRecord, bool) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return nil, false
	}

	user := auth.GetUser(r.Context())
	if user != nil && !user.IsStaff() && user.ID != patientID {
		writeError(w, errors.Forbidden("no access to this patient"))
		return nil, false
	}

	rec, err := h.repo.Get(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return rec, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
