package cli

import (
	"github.com/spf13/cobra"

	"github.com/ayusman/bsort/internal/app"
)

func newTrainCmd(s *session) *cobra.Command {
	var noExport bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the detector, then export it for fast inference",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.newApp(true)
			if err != nil {
				return err
			}

			result, err := a.Train(cmd.Context(), app.TrainOptions{SkipExport: noExport})
			if err != nil {
				return err
			}

			if s.flags.jsonMode {
				return printJSON(cmd, result)
			}
			printf(cmd, "Checkpoint: %s\n", result.Checkpoint)
			if result.Exported != "" {
				printf(cmd, "Exported:   %s\n", result.Exported)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noExport, "no-export", false, "skip exporting the trained checkpoint")
	return cmd
}

func newExportCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export the latest checkpoint to the configured format",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.newApp(true)
			if err != nil {
				return err
			}

			out, err := a.Export(cmd.Context())
			if err != nil {
				return err
			}

			if s.flags.jsonMode {
				return printJSON(cmd, map[string]string{"exported": out})
			}
			printf(cmd, "Exported: %s\n", out)
			return nil
		},
	}
}
