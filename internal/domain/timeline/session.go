package timeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// ErrRecordNotFound is returned when a control names a record the session does not hold
var ErrRecordNotFound = errors.New("record not found")

// Session holds the state of one timeline page: the normalized records, the
// working selection, which category panels are open and the last computed
// view. Each control applies one change and recomputes the view once.
type Session struct {
	mu      sync.Mutex
	cfg     Config
	records record.Set
	sel     *Selection
	open    map[record.Category]bool
	view    View
	version int
}

// NewSession creates a session over set
func NewSession(cfg Config, set record.Set) *Session {
	s := &Session{
		cfg:     cfg,
		records: set,
		sel:     NewSelection(),
		open:    initialOpen(cfg),
	}
	s.recompute()
	return s
}

func initialOpen(cfg Config) map[record.Category]bool {
	open := make(map[record.Category]bool, len(cfg.OpenCategories))
	for _, c := range cfg.OpenCategories {
		open[c] = true
	}
	return open
}

// View returns the last computed view
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Version increases by one each time the view is recomputed
func (s *Session) Version() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Records returns the record set the session currently holds
func (s *Session) Records() record.Set {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// Snapshot returns a copy of the current selection
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// ToggleOpen opens or closes the panel of cat
func (s *Session) ToggleOpen(cat record.Category) (View, error) {
	if !cat.Valid() {
		return View{}, fmt.Errorf("%w: %q", record.ErrUnknownCategory, cat)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[cat] = !s.open[cat]
	return s.recompute(), nil
}

// Toggle flips the selection of one record
func (s *Session) Toggle(cat record.Category, id record.ID) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records.Find(cat, id)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrRecordNotFound, record.KeyOf(cat, id))
	}
	s.sel.Toggle(r)
	return s.recompute(), nil
}

// ToggleDiagnosis flips a diagnosis chip, updating both the working set and
// the diagnosis filter
func (s *Session) ToggleDiagnosis(id record.ID) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records.Find(record.CategoryDiagnosis, id)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrRecordNotFound, record.KeyOf(record.CategoryDiagnosis, id))
	}
	s.sel.ToggleDiagnosis(r)
	return s.recompute(), nil
}

// ToggleAll selects every currently visible record of cat, or deselects all of them
func (s *Session) ToggleAll(cat record.Category, selected bool) (View, error) {
	if !cat.Valid() {
		return View{}, fmt.Errorf("%w: %q", record.ErrUnknownCategory, cat)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	visible := record.FilterByDiagnosis(s.records.Records(cat), s.sel.Snapshot().Diagnoses)
	s.sel.ToggleAll(cat, visible, selected)
	return s.recompute(), nil
}

// IsAllSelected reports whether every visible record of cat is selected
func (s *Session) IsAllSelected(cat record.Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	visible := record.FilterByDiagnosis(s.records.Records(cat), s.sel.Snapshot().Diagnoses)
	return s.sel.IsAllSelected(visible)
}

// SetCollection replaces the records of one category after new data arrives.
// Selections of records that disappear stay in the working set but are no
// longer placed, except selected diagnoses, which leave the filter too.
func (s *Session) SetCollection(cat record.Category, recs []record.Record) (View, error) {
	if !cat.Valid() {
		return View{}, fmt.Errorf("%w: %q", record.ErrUnknownCategory, cat)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = s.records.With(cat, recs)
	if cat == record.CategoryDiagnosis {
		s.sel.RetainDiagnoses(s.records.Records(cat))
	}
	return s.recompute(), nil
}

// Reset clears the working set and restores the initial panel state
func (s *Session) Reset() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sel.Reset()
	s.open = initialOpen(s.cfg)
	return s.recompute()
}

func (s *Session) snapshot() Snapshot {
	snap := s.sel.Snapshot()
	snap.Open = make(map[record.Category]bool, len(s.open))
	for c, o := range s.open {
		snap.Open[c] = o
	}
	return snap
}

// recompute must be called with mu held
func (s *Session) recompute() View {
	s.version++
	s.view = Recompute(s.cfg, s.records, s.snapshot())
	s.view.Version = s.version
	return s.view
}
