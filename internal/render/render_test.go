package render

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sampleView is the view of one medication Jan..Mar 2022 on the default grid
func sampleView(t *testing.T) timeline.View {
	t.Helper()
	end := date(2022, time.March, 10)
	med := record.Record{
		ID: "m1", Category: record.CategoryMedication, Title: "Metformin <500mg>",
		StartDate: date(2022, time.January, 15), EndDate: &end,
	}
	set := record.Set{}.With(record.CategoryMedication, []record.Record{med})
	s := timeline.NewSession(timeline.DefaultConfig(), set)
	v, err := s.Toggle(record.CategoryMedication, "m1")
	require.NoError(t, err)
	require.Len(t, v.Placements, 1)
	return v
}

func TestParseConfigOverlaysDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("layout:\n  column_width: 100\ncolors:\n  categories:\n    imaging: \"#000000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Layout.ColumnWidth)
	assert.Equal(t, 28, cfg.Layout.RowHeight)
	assert.Equal(t, "#000000", cfg.CategoryColor(record.CategoryImaging))
	assert.Equal(t, "#9e9e9e", cfg.CategoryColor(record.Category("other")))
}

func TestParseConfigRejectsBadLayout(t *testing.T) {
	_, err := ParseConfig([]byte("layout:\n  row_height: 8\n  bar_padding: 4\n"))
	assert.Error(t, err)

	_, err = ParseConfig([]byte("layout: ["))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Layout, cfg.Layout)

	path := filepath.Join(t.TempDir(), "render.yaml")
	require.NoError(t, os.WriteFile(path, []byte("empty_message: nothing here\n"), 0o600))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "nothing here", cfg.EmptyMessage)
}

func TestSVG(t *testing.T) {
	cfg := DefaultConfig()
	out := SVG(sampleView(t), cfg)

	assert.True(t, strings.HasPrefix(out, "<?xml"))
	assert.True(t, strings.HasSuffix(out, "</svg>"))
	assert.Contains(t, out, ">Dec 2021<")
	assert.Contains(t, out, ">Jun 2022<")
	assert.Contains(t, out, "Metformin &lt;500mg&gt;")
	assert.Contains(t, out, `class="timeline-bar--medication"`)
	assert.Contains(t, out, `data-key="medication:m1"`)

	// bar covers columns 2..4 of the grid: x = margin + label + 1 column
	x := cfg.Layout.Margin + cfg.Layout.LabelWidth + cfg.Layout.ColumnWidth + 1
	w := 3*cfg.Layout.ColumnWidth - 2
	assert.Contains(t, out, `x="`+strconv.Itoa(x)+`"`)
	assert.Contains(t, out, `width="`+strconv.Itoa(w)+`"`)
}

func TestSVGEmptyView(t *testing.T) {
	s := timeline.NewSession(timeline.DefaultConfig(), record.Set{})
	out := SVG(s.View(), DefaultConfig())
	assert.Contains(t, out, "No records selected")
	assert.NotContains(t, out, "month-label")
}

func TestEscapeXML(t *testing.T) {
	assert.Equal(t, "a &amp; b &lt;c&gt; &quot;d&quot; &apos;e&apos;", escapeXML(`a & b <c> "d" 'e'`))
}

func TestTruncateLabel(t *testing.T) {
	assert.Equal(t, "short", truncateLabel("short", 220, 12))
	long := strings.Repeat("x", 100)
	got := truncateLabel(long, 72, 12)
	assert.Equal(t, 10, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, XLSX(sampleView(t), DefaultConfig(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetTimeline, SheetRecords}, f.GetSheetList())

	header, err := f.GetCellValue(SheetTimeline, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Dec 2021", header)
	title, err := f.GetCellValue(SheetTimeline, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Metformin <500mg>", title)

	rows, err := f.GetRows(SheetRecords)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"medication", "m1", "Metformin <500mg>", "2022-01-15", "2022-03-10", "2", "5"}, rows[1])
}

func TestXLSXEmptyView(t *testing.T) {
	s := timeline.NewSession(timeline.DefaultConfig(), record.Set{})
	var buf bytes.Buffer
	require.NoError(t, XLSX(s.View(), DefaultConfig(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	msg, err := f.GetCellValue(SheetTimeline, "A2")
	require.NoError(t, err)
	assert.Equal(t, "No records selected", msg)
}
