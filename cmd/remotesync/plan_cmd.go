package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/openmined/remotesync/internal/plan"
	"github.com/openmined/remotesync/internal/reconcile"
	"github.com/openmined/remotesync/internal/syncer"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	red    = color.New(color.FgHiRed).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

type planDelete struct {
	Path string    `json:"path" yaml:"path"`
	From plan.Side `json:"from" yaml:"from"`
}

type planOutput struct {
	RunID     string                 `json:"run_id" yaml:"run_id"`
	Watermark *time.Time             `json:"watermark,omitempty" yaml:"watermark,omitempty"`
	Diff      []*reconcile.DiffEntry `json:"diff" yaml:"diff"`
	Deletes   []planDelete           `json:"deletes" yaml:"deletes"`
	Batches   []plan.Batch           `json:"batches" yaml:"batches"`
	Bytes     int64                  `json:"bytes" yaml:"bytes"`
}

func init() {
	rootCmd.AddCommand(newPlanCmd())
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync would delete and copy without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output != "text" && output != "json" && output != "yaml" {
				return fmt.Errorf("unknown output format %q", output)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			closeLog, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			runner, closeRunner, err := newRunner(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeRunner()

			report, err := runner.Plan(cmd.Context())
			if err != nil {
				return err
			}
			return writePlan(cmd.OutOrStdout(), report, output)
		},
	}
	cmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newPlanOutput(report *syncer.Report) *planOutput {
	out := &planOutput{
		RunID:   report.RunID,
		Diff:    make([]*reconcile.DiffEntry, 0, len(report.Diff)),
		Deletes: []planDelete{},
		Batches: report.Plan.Batches,
		Bytes:   report.Diff.Bytes(),
	}
	if report.Watermark.Valid {
		t := report.Watermark.Time
		out.Watermark = &t
	}
	for _, p := range report.Diff.Paths() {
		out.Diff = append(out.Diff, report.Diff[p])
	}
	for _, p := range report.Plan.DeletePaths() {
		out.Deletes = append(out.Deletes, planDelete{Path: p, From: report.Plan.Deletes[p]})
	}
	if out.Batches == nil {
		out.Batches = []plan.Batch{}
	}
	return out
}

func writePlan(w io.Writer, report *syncer.Report, format string) error {
	out := newPlanOutput(report)
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	default:
		return writePlanText(w, report)
	}
}

func writePlanText(w io.Writer, report *syncer.Report) error {
	wm := gray("none")
	if report.Watermark.Valid {
		wm = report.Watermark.Time.Format(time.RFC3339)
	}
	fmt.Fprintf(w, "watermark: %s\n", wm)

	if report.Plan.Empty() {
		_, err := fmt.Fprintln(w, green("nothing to do, trees match"))
		return err
	}

	for _, p := range report.Plan.DeletePaths() {
		fmt.Fprintf(w, "%s %-6s %s\n", red("delete"), report.Plan.Deletes[p], p)
	}
	for _, b := range report.Plan.Batches {
		scope := b.Scope
		if scope == "" {
			scope = "/"
		}
		fmt.Fprintf(w, "%s %s (%d files)\n", yellow("batch"), scope, len(b.Paths))
		for _, p := range b.Paths {
			fmt.Fprintf(w, "  %s %s %s\n", green("copy"), p, gray(report.Diff[p].Type))
		}
	}

	_, err := fmt.Fprintf(w, "%d deletes, %d copies, %s\n",
		len(report.Plan.Deletes), report.Plan.CopySet().Cardinality(), humanize.Bytes(uint64(report.Diff.Bytes())))
	return err
}
