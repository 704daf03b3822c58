package cli

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ayusman/bsort/internal/store"
)

func newRunsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded train, export and infer runs",
	}
	cmd.AddCommand(newRunsListCmd(s))
	cmd.AddCommand(newRunsShowCmd(s))
	cmd.AddCommand(newRunsDeleteCmd(s))
	return cmd
}

// ledger opens the run ledger, failing when tracking is disabled.
func (s *session) ledger() (*store.Store, error) {
	st, err := s.openStore()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, usageError{errors.New("run tracking is disabled (tracking.db_path is empty)")}
	}
	return st, nil
}

func newRunsListCmd(s *session) *cobra.Command {
	var (
		kind  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.ListOptions{Kind: store.RunKind(kind), Limit: limit}
			switch opts.Kind {
			case "", store.RunKindTrain, store.RunKindExport, store.RunKindInfer:
			default:
				return usageError{fmt.Errorf("unknown run kind %q (want train, export or infer)", kind)}
			}
			if limit < 0 {
				return usageError{errors.New("--limit must not be negative")}
			}

			st, err := s.ledger()
			if err != nil {
				return err
			}
			runs, err := st.Runs().List(opts)
			if err != nil {
				return err
			}

			if s.flags.jsonMode {
				if runs == nil {
					runs = []*store.Run{}
				}
				return printJSON(cmd, runs)
			}
			if len(runs) == 0 {
				printf(cmd, "No runs recorded\n")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tSTARTED\tDURATION\tARTIFACT")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Kind, r.Status, humanize.Time(r.StartedAt), runDuration(r), r.Artifact)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only list runs of this kind (train, export, infer)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list (0 for all)")
	return cmd
}

func newRunsShowCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a run and its detections",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.ledger()
			if err != nil {
				return err
			}
			run, err := st.Runs().GetByID(args[0])
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			detections, err := st.Detections().ListByRun(run.ID)
			if err != nil {
				return err
			}
			counts, err := st.Detections().CountByColor(run.ID)
			if err != nil {
				return err
			}

			if s.flags.jsonMode {
				return printJSON(cmd, struct {
					*store.Run
					Detections []store.Detection `json:"detections"`
					Counts     map[string]int    `json:"counts"`
				}{run, detections, counts})
			}

			printf(cmd, "Run %s\n", run.ID)
			printf(cmd, "  kind:       %s\n", run.Kind)
			printf(cmd, "  status:     %s\n", run.Status)
			printf(cmd, "  experiment: %s\n", run.Experiment)
			printf(cmd, "  started:    %s (%s)\n", run.StartedAt.Local().Format(time.DateTime), humanize.Time(run.StartedAt))
			printf(cmd, "  duration:   %s\n", runDuration(run))
			if run.Artifact != "" {
				printf(cmd, "  artifact:   %s\n", run.Artifact)
			}
			if run.Source != "" {
				printf(cmd, "  source:     %s\n", run.Source)
			}
			if run.LatencyMS != nil {
				printf(cmd, "  latency:    %.2f ms\n", *run.LatencyMS)
			}
			if run.Error != "" {
				printf(cmd, "  error:      %s\n", run.Error)
			}
			if len(run.Params) > 0 && string(run.Params) != "{}" {
				printf(cmd, "  params:     %s\n", run.Params)
			}

			if len(detections) > 0 {
				printf(cmd, "  detections: %s\n", humanize.Comma(int64(len(detections))))
				names := make([]string, 0, len(counts))
				for name := range counts {
					names = append(names, name)
				}
				sort.Slice(names, func(i, j int) bool { return classOrder(names[i]) < classOrder(names[j]) })
				for _, name := range names {
					printf(cmd, "    %-10s %d\n", name+":", counts[name])
				}
			}
			return nil
		},
	}
}

func newRunsDeleteCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a run and its detections",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.ledger()
			if err != nil {
				return err
			}
			if err := st.Runs().Delete(args[0]); err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			printf(cmd, "Deleted run %s\n", args[0])
			return nil
		},
	}
}

func runDuration(r *store.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return r.Duration().Round(time.Millisecond).String()
}
