package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ayusman/bsort/internal/config"
)

func newInitCmd(s *session) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default settings file and create the run ledger",
		Args:        noArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := s.flags.configPath
			if err := config.WriteDefault(path, force); err != nil {
				if errors.Is(err, config.ErrConfigExists) {
					return usageError{fmt.Errorf("%w (use --force to overwrite)", err)}
				}
				return err
			}

			st, err := s.openStore()
			if err != nil {
				return err
			}

			printf(cmd, "Wrote %s\n", path)
			if st != nil {
				printf(cmd, "Run ledger at %s\n", st.Path())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")
	return cmd
}
