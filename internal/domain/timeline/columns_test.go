package timeline

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

func scenario1Grid() Grid {
	return BuildGrid(Range{Min: day("2022-01-15"), Max: day("2022-03-01")}, 1, 3)
}

func TestPlace_SingleColumnRecords(t *testing.T) {
	g := scenario1Grid()

	p, ok := Place(g, rec(record.CategoryMedication, "1", "2022-01-15", ""))
	require.True(t, ok)
	assert.Equal(t, 2, p.StartColumn)
	assert.Equal(t, 3, p.EndColumn)

	p, ok = Place(g, rec(record.CategoryMedication, "2", "2022-03-01", "2022-03-01"))
	require.True(t, ok)
	assert.Equal(t, 4, p.StartColumn)
	assert.Equal(t, 1, p.Span())
}

func TestPlace_MultiMonthSpan(t *testing.T) {
	p, ok := Place(scenario1Grid(), rec(record.CategoryIntervention, "x", "2022-01-15", "2022-03-20"))

	require.True(t, ok)
	assert.Equal(t, 2, p.StartColumn)
	assert.Equal(t, 5, p.EndColumn)
}

func TestPlace_SameMonthEndIsOneColumn(t *testing.T) {
	p, ok := Place(scenario1Grid(), rec(record.CategoryImaging, "x", "2022-02-01", "2022-02-27"))

	require.True(t, ok)
	assert.Equal(t, 1, p.Span())
}

func TestPlace_EndBeforeStartIsOneColumn(t *testing.T) {
	p, ok := Place(scenario1Grid(), rec(record.CategoryImaging, "x", "2022-03-01", "2021-01-01"))

	require.True(t, ok)
	assert.Equal(t, 4, p.StartColumn)
	assert.Equal(t, 5, p.EndColumn)
}

func TestPlace_ClampsPastGridEnd(t *testing.T) {
	g := Grid{}
	for m := time.January; m <= time.May; m++ {
		g = append(g, bucket(2024, m))
	}

	p, ok := Place(g, rec(record.CategoryMedication, "x", "2024-02-01", "2030-01-01"))

	require.True(t, ok)
	assert.Equal(t, 2, p.StartColumn)
	assert.Equal(t, len(g)+1, p.EndColumn)
}

func TestPlace_DropsUnplaceableRecords(t *testing.T) {
	g := scenario1Grid()

	_, ok := Place(g, rec(record.CategoryMedication, "nostart", "", "2022-02-01"))
	assert.False(t, ok)

	_, ok = Place(g, rec(record.CategoryMedication, "early", "2020-01-01", ""))
	assert.False(t, ok)
}

func TestPlace_ValidityProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	base := day("2018-01-01")
	for i := 0; i < 100; i++ {
		var recs []record.Record
		for j := 0; j < 1+rnd.Intn(8); j++ {
			start := base.AddDate(0, 0, rnd.Intn(2000))
			r := record.Record{ID: record.ID(rune('a' + j)), Category: record.CategoryMedication, StartDate: start}
			switch rnd.Intn(3) {
			case 0:
				end := start.AddDate(0, 0, rnd.Intn(900))
				r.EndDate = &end
			case 1:
				end := start.AddDate(0, 0, -rnd.Intn(90))
				r.EndDate = &end
			}
			recs = append(recs, r)
		}
		rng, ok := ResolveRange(recs)
		require.True(t, ok)
		g := BuildGrid(rng, 1, 3)

		for _, r := range recs {
			p, ok := Place(g, r)
			require.True(t, ok)
			assert.GreaterOrEqual(t, p.StartColumn, 1)
			assert.Less(t, p.StartColumn, p.EndColumn)
			assert.LessOrEqual(t, p.EndColumn, len(g)+1)
		}
	}
}
