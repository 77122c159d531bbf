// Package render draws a computed timeline view as SVG or as an XLSX workbook.
package render

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// Config controls the appearance of rendered timelines. It maps directly to
// a YAML file; fields left out keep their defaults.
type Config struct {
	Font struct {
		Family string `yaml:"family"`
		Size   int    `yaml:"size"`
	} `yaml:"font"`
	Colors struct {
		Background string `yaml:"background"`
		Grid       string `yaml:"grid"`
		Text       string `yaml:"text"`
		Header     string `yaml:"header"`
		// Categories maps a category name to its bar color
		Categories map[string]string `yaml:"categories"`
	} `yaml:"colors"`
	Layout struct {
		Margin       int `yaml:"margin"`
		LabelWidth   int `yaml:"label_width"`
		ColumnWidth  int `yaml:"column_width"`
		HeaderHeight int `yaml:"header_height"`
		RowHeight    int `yaml:"row_height"`
		BarPadding   int `yaml:"bar_padding"`
		BarRadius    int `yaml:"bar_radius"`
	} `yaml:"layout"`
	// EmptyMessage is shown when nothing is selected
	EmptyMessage string `yaml:"empty_message"`
}

// DefaultConfig returns the default render configuration
func DefaultConfig() Config {
	var c Config
	c.Font.Family = "Arial, sans-serif"
	c.Font.Size = 12
	c.Colors.Background = "#ffffff"
	c.Colors.Grid = "#e0e0e0"
	c.Colors.Text = "#333333"
	c.Colors.Header = "#f5f7fa"
	c.Colors.Categories = map[string]string{
		string(record.CategoryDiagnosis):    "#d93025",
		string(record.CategoryMedication):   "#4285f4",
		string(record.CategoryIntervention): "#f29900",
		string(record.CategoryImaging):      "#9334e6",
		string(record.CategoryAppointment):  "#188038",
		string(record.CategoryLifestyle):    "#12b5cb",
	}
	c.Layout.Margin = 20
	c.Layout.LabelWidth = 220
	c.Layout.ColumnWidth = 80
	c.Layout.HeaderHeight = 32
	c.Layout.RowHeight = 28
	c.Layout.BarPadding = 5
	c.Layout.BarRadius = 4
	c.EmptyMessage = "No records selected"
	return c
}

// ParseConfig overlays YAML data on the defaults
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse render config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML render configuration; an empty path yields the defaults
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read render config: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks that dimensions are usable
func (c Config) Validate() error {
	if c.Layout.ColumnWidth <= 0 || c.Layout.RowHeight <= 0 {
		return fmt.Errorf("render config: column_width and row_height must be positive")
	}
	if c.Layout.BarPadding*2 >= c.Layout.RowHeight {
		return fmt.Errorf("render config: bar_padding %d leaves no room in row_height %d",
			c.Layout.BarPadding, c.Layout.RowHeight)
	}
	return nil
}

// CategoryColor returns the bar color for cat
func (c Config) CategoryColor(cat record.Category) string {
	if col, ok := c.Colors.Categories[string(cat)]; ok && col != "" {
		return col
	}
	return "#9e9e9e"
}
