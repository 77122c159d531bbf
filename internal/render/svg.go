package render

import (
	"fmt"
	"strings"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
)

// SVG draws the view's month grid with one bar row per placement
func SVG(v timeline.View, cfg Config) string {
	l := cfg.Layout
	if v.Empty || len(v.Buckets) == 0 {
		return emptySVG(cfg)
	}

	gridX := l.Margin + l.LabelWidth
	gridY := l.Margin + l.HeaderHeight
	width := gridX + len(v.Buckets)*l.ColumnWidth + l.Margin
	height := gridY + max(len(v.Placements), 1)*l.RowHeight + l.Margin

	var svg strings.Builder
	fmt.Fprintf(&svg, `<?xml version="1.0" encoding="UTF-8"?>
<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
<rect width="100%%" height="100%%" fill="%s"/>
<defs>
<style>
.month-label { font-family: %s; font-size: %dpx; fill: %s; }
.record-label { font-family: %s; font-size: %dpx; fill: %s; }
</style>
</defs>
`, width, height, cfg.Colors.Background,
		cfg.Font.Family, cfg.Font.Size-1, cfg.Colors.Text,
		cfg.Font.Family, cfg.Font.Size, cfg.Colors.Text)

	fmt.Fprintf(&svg, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`+"\n",
		gridX, l.Margin, len(v.Buckets)*l.ColumnWidth, l.HeaderHeight, cfg.Colors.Header)

	for i, b := range v.Buckets {
		x := gridX + i*l.ColumnWidth
		fmt.Fprintf(&svg, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-width="1"/>`+"\n",
			x, l.Margin, x, height-l.Margin, cfg.Colors.Grid)
		fmt.Fprintf(&svg, `<text class="month-label" x="%d" y="%d" text-anchor="middle">%s</text>`+"\n",
			x+l.ColumnWidth/2, l.Margin+l.HeaderHeight*2/3, escapeXML(b.Label()))
	}
	right := gridX + len(v.Buckets)*l.ColumnWidth
	fmt.Fprintf(&svg, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-width="1"/>`+"\n",
		right, l.Margin, right, height-l.Margin, cfg.Colors.Grid)

	for row, p := range v.Placements {
		drawPlacement(&svg, p, row, gridX, gridY, cfg)
	}

	svg.WriteString("</svg>")
	return svg.String()
}

func drawPlacement(svg *strings.Builder, p timeline.Placement, row, gridX, gridY int, cfg Config) {
	l := cfg.Layout
	y := gridY + row*l.RowHeight
	x := gridX + (p.StartColumn-1)*l.ColumnWidth
	w := p.Span() * l.ColumnWidth

	fmt.Fprintf(svg, `<text class="record-label" x="%d" y="%d">%s</text>`+"\n",
		l.Margin, y+l.RowHeight*2/3, escapeXML(truncateLabel(p.Record.Title, l.LabelWidth, cfg.Font.Size)))
	fmt.Fprintf(svg, `<rect class="%s" data-key="%s" x="%d" y="%d" width="%d" height="%d" rx="%d" fill="%s">`,
		escapeXML(p.ColorClass), escapeXML(string(p.Record.Key())),
		x+1, y+l.BarPadding, w-2, l.RowHeight-2*l.BarPadding, l.BarRadius,
		cfg.CategoryColor(p.Record.Category))
	fmt.Fprintf(svg, `<title>%s</title></rect>`+"\n", escapeXML(tooltip(p.Record)))
}

func emptySVG(cfg Config) string {
	l := cfg.Layout
	width := 2*l.Margin + l.LabelWidth + 4*l.ColumnWidth
	height := 2*l.Margin + l.HeaderHeight + l.RowHeight
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg">
<rect width="100%%" height="100%%" fill="%s"/>
<text x="%d" y="%d" text-anchor="middle" font-family="%s" font-size="%d" fill="%s">%s</text>
</svg>`, width, height, cfg.Colors.Background,
		width/2, height/2, cfg.Font.Family, cfg.Font.Size, cfg.Colors.Text, escapeXML(cfg.EmptyMessage))
}

func tooltip(r record.Record) string {
	s := r.Title + " (" + record.FormatDate(r.StartDate)
	if r.EndDate != nil {
		s += " to " + record.FormatDate(*r.EndDate)
	}
	return s + ")"
}

// truncateLabel shortens text to fit width, assuming glyphs of 0.6 em
func truncateLabel(text string, width, fontSize int) string {
	maxChars := int(float64(width) / (float64(fontSize) * 0.6))
	runes := []rune(text)
	if maxChars < 2 || len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars-1]) + "…"
}

// escapeXML escapes the characters that are special in SVG text and attributes
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
