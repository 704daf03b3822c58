package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/ayusman/bsort/internal/app"
)

func newClassifyCmd(s *session) *cobra.Command {
	var image string

	cmd := &cobra.Command{
		Use:         "classify",
		Short:       "Label the colour of a single cropped cap image",
		Args:        noArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if image == "" {
				return usageError{errors.New("--image is required")}
			}

			result, err := app.New(app.Config{Settings: s.settings, Logger: s.logger}).Classify(image)
			if err != nil {
				return err
			}

			if s.flags.jsonMode {
				return printJSON(cmd, result)
			}
			printf(cmd, "%s (class %d, mean hue %.1f, saturation %.1f, %dx%d)\n",
				result.Label, result.ClassID, result.MeanHue, result.MeanSaturation, result.Width, result.Height)
			return nil
		},
	}

	cmd.Flags().StringVarP(&image, "image", "i", "", "cropped cap image")
	return cmd
}
