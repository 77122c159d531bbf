package timeline

// Grid is a contiguous, strictly increasing sequence of month buckets
type Grid []MonthBucket

// BuildGrid lays out the buckets from lead months before r.Min through the
// month of r.Max, followed by trail buffer months
func BuildGrid(r Range, lead, trail int) Grid {
	if lead < 0 {
		lead = 0
	}
	if trail < 0 {
		trail = 0
	}
	anchor := BucketOf(r.Min).Add(-lead)
	last := BucketOf(r.Max)
	if last.Before(anchor) {
		last = anchor
	}
	n := anchor.MonthsUntil(last) + 1 + trail

	g := make(Grid, n)
	for i := range g {
		g[i] = anchor.Add(i)
	}
	return g
}

// IndexOf returns the 0-based position of b, or -1 when b is outside the grid
func (g Grid) IndexOf(b MonthBucket) int {
	if len(g) == 0 {
		return -1
	}
	i := g[0].MonthsUntil(b)
	if i < 0 || i >= len(g) {
		return -1
	}
	return i
}
