package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

func TestSelection_ToggleIsKeyedByCategoryAndID(t *testing.T) {
	s := NewSelection()
	med := rec(record.CategoryMedication, "1", "2022-01-01", "")
	appt := rec(record.CategoryAppointment, "1", "2022-01-01", "")

	assert.True(t, s.Toggle(med))
	assert.True(t, s.Toggle(appt))
	assert.Equal(t, 2, s.Len())

	assert.False(t, s.Toggle(med))
	assert.False(t, s.IsSelected(med.Key()))
	assert.True(t, s.IsSelected(appt.Key()))
}

func TestSelection_ToggleDiagnosisUpdatesFilter(t *testing.T) {
	s := NewSelection()
	dx := rec(record.CategoryDiagnosis, "D1", "2020-01-01", "")

	s.ToggleDiagnosis(dx)
	snap := s.Snapshot()
	assert.True(t, snap.Has(dx.Key()))
	assert.True(t, snap.Diagnoses.Has("D1"))

	s.Toggle(dx)
	snap = s.Snapshot()
	assert.False(t, snap.Has(dx.Key()))
	assert.Empty(t, snap.Diagnoses)
}

func TestSelection_ToggleAllInverse(t *testing.T) {
	s := NewSelection()
	other := rec(record.CategoryAppointment, "a1", "2022-01-01", "")
	s.Toggle(other)
	before := s.Snapshot()

	meds := []record.Record{
		rec(record.CategoryMedication, "1", "2022-01-01", ""),
		rec(record.CategoryMedication, "2", "2022-02-01", ""),
		rec(record.CategoryMedication, "2", "2022-02-01", ""),
	}
	s.ToggleAll(record.CategoryMedication, meds, true)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.IsAllSelected(meds))

	s.ToggleAll(record.CategoryMedication, meds, false)
	assert.Equal(t, before, s.Snapshot())
}

func TestSelection_DeselectAllIsolatesCategories(t *testing.T) {
	s := NewSelection()
	meds := []record.Record{rec(record.CategoryMedication, "1", "2022-01-01", "")}
	imgs := []record.Record{rec(record.CategoryImaging, "1", "2022-01-01", "")}
	s.ToggleAll(record.CategoryMedication, meds, true)
	s.ToggleAll(record.CategoryImaging, imgs, true)

	s.ToggleAll(record.CategoryMedication, meds, false)

	assert.True(t, s.IsAllSelected(imgs))
	assert.False(t, s.IsAllSelected(meds))
}

func TestSelection_ToggleAllDiagnosesSyncsFilter(t *testing.T) {
	s := NewSelection()
	dxs := []record.Record{
		rec(record.CategoryDiagnosis, "D1", "2020-01-01", ""),
		rec(record.CategoryDiagnosis, "D2", "2020-01-01", ""),
	}

	s.ToggleAll(record.CategoryDiagnosis, dxs, true)
	assert.Len(t, s.Snapshot().Diagnoses, 2)

	s.ToggleAll(record.CategoryDiagnosis, dxs, false)
	assert.Empty(t, s.Snapshot().Diagnoses)
	assert.Zero(t, s.Len())
}

func TestSelection_IsAllSelectedEmptyList(t *testing.T) {
	assert.False(t, NewSelection().IsAllSelected(nil))
}

func TestSelection_Reset(t *testing.T) {
	s := NewSelection()
	s.Toggle(rec(record.CategoryDiagnosis, "D1", "2020-01-01", ""))
	s.Toggle(rec(record.CategoryMedication, "m", "2020-01-01", ""))

	s.Reset()

	assert.Zero(t, s.Len())
	assert.Empty(t, s.Snapshot().Diagnoses)
}

func TestSelection_RetainDiagnosesDropsMissing(t *testing.T) {
	s := NewSelection()
	d1 := rec(record.CategoryDiagnosis, "D1", "2020-01-01", "")
	d2 := rec(record.CategoryDiagnosis, "D2", "2020-02-01", "")
	s.ToggleDiagnosis(d1)
	s.ToggleDiagnosis(d2)

	assert.Equal(t, 1, s.RetainDiagnoses([]record.Record{d2}))

	snap := s.Snapshot()
	assert.False(t, snap.Has(d1.Key()))
	assert.False(t, snap.Diagnoses.Has("D1"))
	assert.True(t, snap.Has(d2.Key()))
	assert.True(t, snap.Diagnoses.Has("D2"))
	assert.Zero(t, s.RetainDiagnoses([]record.Record{d2}))
}
