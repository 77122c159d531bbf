// Package main provides timeline-render, which lays out and renders patient
// record timelines from files.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
	"github.com/carebridge/portal-timeline/internal/observability/logging"
	"github.com/carebridge/portal-timeline/internal/recordfile"
	"github.com/carebridge/portal-timeline/internal/render"
)

type options struct {
	input        string
	format       string
	output       string
	renderConfig string
	selections   []string
	diagnoses    []string
	lead         int
	trail        int
	viewMode     string
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "timeline-render",
		Short:         "Lay out patient record timelines and render them as JSON, SVG or XLSX",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.input, "input", "i", "", "Record file: JSON or YAML collections, or a FHIR R5 Bundle")
	pf.StringVar(&opts.format, "format", recordfile.FormatAuto, "Input format: auto, json, yaml or fhir")
	pf.StringVarP(&opts.output, "output", "o", "", "Output file (default stdout)")
	pf.StringVar(&opts.renderConfig, "render-config", "", "YAML render configuration")
	pf.StringSliceVar(&opts.selections, "select", []string{"all"}, `Records to select: "all", a category, or "category:id"`)
	pf.StringSliceVar(&opts.diagnoses, "diagnosis", nil, "Diagnosis ids to filter by")
	pf.IntVar(&opts.lead, "lead", timeline.DefaultConfig().LeadMonths, "Empty months before the first record")
	pf.IntVar(&opts.trail, "trail", timeline.DefaultConfig().TrailMonths, "Empty months after the last record")
	pf.StringVar(&opts.viewMode, "view-mode", string(timeline.ViewTimeline), "View mode: timeline or table")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level")
	_ = rootCmd.MarkPersistentFlagRequired("input")

	rootCmd.AddCommand(layoutCmd(opts))
	rootCmd.AddCommand(svgCmd(opts))
	rootCmd.AddCommand(xlsxCmd(opts))
	return rootCmd
}

func layoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the computed view as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := buildView(opts)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetIndent("", "  ")
			if err := enc.Encode(v); err != nil {
				return err
			}
			return writeOutput(cmd, opts.output, buf.Bytes())
		},
	}
}

func svgCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "svg",
		Short: "Render the timeline as SVG",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := buildView(opts)
			if err != nil {
				return err
			}
			cfg, err := render.LoadConfig(opts.renderConfig)
			if err != nil {
				return err
			}
			return writeOutput(cmd, opts.output, []byte(render.SVG(v, cfg)))
		},
	}
}

func xlsxCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "xlsx",
		Short: "Export the timeline as an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := buildView(opts)
			if err != nil {
				return err
			}
			cfg, err := render.LoadConfig(opts.renderConfig)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := render.XLSX(v, cfg, &buf); err != nil {
				return err
			}
			return writeOutput(cmd, opts.output, buf.Bytes())
		},
	}
}

func buildView(opts *options) (timeline.View, error) {
	logger, err := logging.New(opts.logLevel, "console", "timeline-render")
	if err != nil {
		return timeline.View{}, err
	}
	defer logger.Sync()

	file, err := recordfile.Read(opts.input, opts.format)
	if err != nil {
		return timeline.View{}, err
	}
	set, stats := record.NormalizeAll(file.Collections)
	for _, cat := range record.Categories {
		st := stats[cat]
		if st.MissingID > 0 || st.Duplicate > 0 || st.MissingStart > 0 {
			logger.Warn("records dropped or unplaceable",
				zap.String("category", string(cat)),
				zap.Int("missing_id", st.MissingID),
				zap.Int("duplicate", st.Duplicate),
				zap.Int("missing_start", st.MissingStart))
		}
	}

	cfg := timeline.DefaultConfig()
	cfg.LeadMonths = opts.lead
	cfg.TrailMonths = opts.trail
	if cfg.ViewMode, err = timeline.ParseViewMode(opts.viewMode); err != nil {
		return timeline.View{}, err
	}
	if err := cfg.Validate(); err != nil {
		return timeline.View{}, err
	}

	s := timeline.NewSession(cfg, set)
	if err := applySelection(s, opts.diagnoses, opts.selections); err != nil {
		return timeline.View{}, err
	}
	v := s.View()
	logger.Info("view computed",
		zap.Int("records", set.Len()),
		zap.Int("buckets", len(v.Buckets)),
		zap.Int("placements", len(v.Placements)),
		zap.Int("unplaced", v.Unplaced))
	return v, nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	var w io.Writer = cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
