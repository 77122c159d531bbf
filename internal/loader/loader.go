// Package loader fetches the six record collections of a patient.
package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/pkg/workerpool"
)

// Source is a data-fetching collaborator that returns one category of
// records for a patient
type Source interface {
	Fetch(ctx context.Context, patientID string, cat record.Category) ([]record.Raw, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, patientID string, cat record.Category) ([]record.Raw, error)

// Fetch calls f
func (f SourceFunc) Fetch(ctx context.Context, patientID string, cat record.Category) ([]record.Raw, error) {
	return f(ctx, patientID, cat)
}

// Observer receives per-category load outcomes
type Observer interface {
	ObserveFetch(cat record.Category, d time.Duration, err error)
	ObserveNormalize(cat record.Category, stats record.NormalizeStats)
}

// Result is the outcome of loading one patient
type Result struct {
	PatientID string
	Set       record.Set
	Stats     map[record.Category]record.NormalizeStats
	// Failed lists categories that could not be fetched; they are empty in Set
	Failed map[record.Category]error
}

// Err joins the per-category failures, or returns nil
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, cat := range record.Categories {
		if err, ok := r.Failed[cat]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", cat.Plural(), err))
		}
	}
	return errors.Join(errs...)
}

// Loader fetches every category concurrently through a worker pool
type Loader struct {
	source   Source
	pool     *workerpool.Pool
	observer Observer
	logger   *zap.Logger
}

// New creates a loader
func New(source Source, pool *workerpool.Pool, observer Observer, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = workerpool.New(workerpool.DefaultConfig(), logger)
	}
	return &Loader{source: source, pool: pool, observer: observer, logger: logger}
}

// Load fetches and normalizes all categories. A failing category leaves
// the others intact; the error is returned only when every category failed.
func (l *Loader) Load(ctx context.Context, patientID string) (Result, error) {
	if patientID == "" {
		return Result{}, errors.New("patient id is required")
	}

	raws := make([][]record.Raw, len(record.Categories))
	tasks := make([]workerpool.Task, len(record.Categories))
	for i, cat := range record.Categories {
		i, cat := i, cat
		tasks[i] = workerpool.Task{
			ID: string(cat),
			Do: func(ctx context.Context) error {
				got, err := l.source.Fetch(ctx, patientID, cat)
				if err != nil {
					return err
				}
				raws[i] = got
				return nil
			},
		}
	}

	results := l.pool.Run(ctx, tasks)

	out := Result{
		PatientID: patientID,
		Set:       record.NewSet(),
		Stats:     make(map[record.Category]record.NormalizeStats, len(record.Categories)),
		Failed:    make(map[record.Category]error),
	}
	for i, cat := range record.Categories {
		res := results[i]
		if l.observer != nil {
			l.observer.ObserveFetch(cat, res.Duration, res.Err)
		}
		if res.Err != nil {
			out.Failed[cat] = res.Err
			l.logger.Warn("fetch failed",
				zap.String("patient_id", patientID),
				zap.String("category", string(cat)),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err))
			continue
		}

		recs, stats := record.Normalize(cat, raws[i])
		out.Set = out.Set.With(cat, recs)
		out.Stats[cat] = stats
		if l.observer != nil {
			l.observer.ObserveNormalize(cat, stats)
		}
		if stats.MissingID > 0 || stats.MissingStart > 0 {
			l.logger.Info("records dropped during normalization",
				zap.String("patient_id", patientID),
				zap.String("category", string(cat)),
				zap.Int("missing_id", stats.MissingID),
				zap.Int("duplicate", stats.Duplicate),
				zap.Int("missing_start", stats.MissingStart))
		}
	}

	if len(out.Failed) == len(record.Categories) {
		return out, fmt.Errorf("load patient %s: %w", patientID, out.Err())
	}
	return out, nil
}
