package timeline

import (
	"time"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

func day(s string) time.Time {
	t, ok := record.ParseDate(s)
	if !ok {
		panic("bad test date " + s)
	}
	return t
}

func dayPtr(s string) *time.Time {
	t := day(s)
	return &t
}

func rec(cat record.Category, id record.ID, start string, end string) record.Record {
	r := record.Record{ID: id, Category: cat, Title: string(id)}
	if start != "" {
		r.StartDate = day(start)
	}
	if end != "" {
		r.EndDate = dayPtr(end)
	}
	return r
}

func bucket(y int, m time.Month) MonthBucket {
	return MonthBucket{Year: y, Month: m}
}
