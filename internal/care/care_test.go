package care

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/patient/infrastructure"
	"github.com/trimwell/portal/internal/shared/config"
	"github.com/trimwell/portal/internal/shared/types"
)

// recordingPersister captures section writes for assertions and can be told
// to fail specific sections.
type recordingPersister struct {
	mu       sync.Mutex
	sections map[string]int
	events   []domain.TimelineEvent
	logs     []string
	fail     map[string]error
}

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{
		sections: make(map[string]int),
		fail:     make(map[string]error),
	}
}

func (p *recordingPersister) SaveSection(_ context.Context, _ types.ID, section string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sections[section]++
	if err, ok := p.fail[section]; ok {
		return err
	}
	return nil
}

func (p *recordingPersister) AppendEvent(_ context.Context, _ types.ID, log string, event domain.TimelineEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	p.logs = append(p.logs, log)
	return nil
}

func (p *recordingPersister) sectionWrites(section string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sections[section]
}

func (p *recordingPersister) persistedEvents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// testHarness bundles a memory store with a wired reducer and handler.
type testHarness struct {
	store     *infrastructure.MemoryStore
	persister *recordingPersister
	reducer   *Reducer
	handler   *ActionHandler
}

func newHarness() *testHarness {
	store := infrastructure.NewMemoryStore()
	persister := newRecordingPersister()
	reducer := NewReducer(store, persister, nil,
		config.PersistConfig{Timeout: time.Second}, zerolog.Nop())
	return &testHarness{
		store:     store,
		persister: persister,
		reducer:   reducer,
		handler:   NewActionHandler(reducer, store, zerolog.Nop()),
	}
}

func (h *testHarness) addPatient(rec *domain.PatientRecord) *domain.PatientRecord {
	if err := h.store.Create(context.Background(), rec); err != nil {
		panic(err)
	}
	return rec
}

// testPatient builds a registered patient in the given protocol position.
func testPatient(status domain.Status, cycle int) *domain.PatientRecord {
	rec, err := domain.NewPatientRecord("Jonas", "Berg", "jonas@example.com")
	if err != nil {
		panic(err)
	}
	rec.Status = status
	rec.CurrentCycle = cycle
	return rec
}

// withPsych marks the intake assessment as captured.
func withPsych(rec *domain.PatientRecord) *domain.PatientRecord {
	rec.Psych = map[string]any{"phq9": 4}
	return rec
}
