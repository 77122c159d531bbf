// Package timeline computes the month grid, column placements and selection
// state that drive the patient timeline view.
package timeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// MonthBucket is one column of the month grid
type MonthBucket struct {
	Year  int
	Month time.Month
}

// BucketOf returns the bucket containing t
func BucketOf(t time.Time) MonthBucket {
	return MonthBucket{Year: t.Year(), Month: t.Month()}
}

// index numbers months contiguously so bucket arithmetic needs no wraparound branches
func (b MonthBucket) index() int {
	return b.Year*12 + int(b.Month) - 1
}

func bucketAt(i int) MonthBucket {
	return MonthBucket{Year: floorDiv(i, 12), Month: time.Month(floorMod(i, 12) + 1)}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

// Add returns the bucket n months after b
func (b MonthBucket) Add(n int) MonthBucket {
	return bucketAt(b.index() + n)
}

// Before reports whether b is an earlier month than o
func (b MonthBucket) Before(o MonthBucket) bool {
	return b.index() < o.index()
}

// MonthsUntil returns the signed number of months from b to o
func (b MonthBucket) MonthsUntil(o MonthBucket) int {
	return o.index() - b.index()
}

// Start returns the first day of the month in UTC
func (b MonthBucket) Start() time.Time {
	return time.Date(b.Year, b.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Label is the axis label, e.g. "Jan 2022"
func (b MonthBucket) Label() string {
	return fmt.Sprintf("%s %d", b.Month.String()[:3], b.Year)
}

func (b MonthBucket) String() string {
	return fmt.Sprintf("%04d-%02d", b.Year, int(b.Month))
}

type bucketJSON struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Label string `json:"label"`
}

// MarshalJSON encodes the bucket with its axis label
func (b MonthBucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(bucketJSON{Year: b.Year, Month: int(b.Month), Label: b.Label()})
}

// UnmarshalJSON accepts the encoding produced by MarshalJSON
func (b *MonthBucket) UnmarshalJSON(data []byte) error {
	var v bucketJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.Month < 1 || v.Month > 12 {
		return fmt.Errorf("month bucket: month %d out of range", v.Month)
	}
	b.Year, b.Month = v.Year, time.Month(v.Month)
	return nil
}
