package cli

import (
	"github.com/spf13/cobra"
)

const modulePath = "github.com/ayusman/bsort"

// Version is overridden at build time with -ldflags "-X".
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the bsort version",
		Args:        noArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			printf(cmd, "bsort v%s\nmodule: %s\n", Version, modulePath)
			return nil
		},
	}
}
