package cli

import (
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ayusman/bsort/internal/app"
	"github.com/ayusman/bsort/internal/capture"
	"github.com/ayusman/bsort/internal/color"
)

func newInferCmd(s *session) *cobra.Command {
	var (
		image  string
		camera string
	)

	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Detect caps in an image or camera frame and label their colours",
		Example: "  bsort infer -i sample.jpg\n" +
			"  bsort infer --camera 0\n" +
			"  bsort infer --camera belt.mp4",
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			useCamera := cmd.Flags().Changed("camera")
			if (image == "") == !useCamera {
				return usageError{errors.New("exactly one of --image or --camera is required")}
			}
			var dev capture.Device
			if useCamera {
				d, err := capture.ParseDevice(camera)
				if err != nil {
					return usageError{err}
				}
				dev = d
			}

			a, err := s.newApp(false)
			if err != nil {
				return err
			}

			src := app.ImageSource(image)
			if useCamera {
				cc := s.settings.Camera
				cam := capture.NewCamera(dev, cc.Width, cc.Height)
				defer cam.Close()
				src = app.CameraSource(cam, dev.String(), capture.GrabOptions{
					Warmup:       cc.WarmupFrames,
					MaxFrames:    cc.MaxFrames,
					StillPercent: cc.StillPercent,
				})
			}

			report, err := a.Infer(cmd.Context(), src)
			if err != nil {
				return err
			}

			if s.flags.jsonMode {
				return printJSON(cmd, report)
			}
			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringVarP(&image, "image", "i", "", "image file to run on")
	cmd.Flags().StringVar(&camera, "camera", "", "camera index, video file or stream URL to grab a still frame from")
	return cmd
}

func printReport(cmd *cobra.Command, r *app.InferenceReport) {
	printf(cmd, "Model:    %s (%s, %s)\n", r.Model, r.Tier, r.Backend)
	printf(cmd, "Latency:  %.2f ms\n", float64(r.Latency.Microseconds())/1000)

	if r.Backend == app.BackendDNN {
		printf(cmd, "Caps:     %d\n", len(r.Detections))
		for i, d := range r.Detections {
			printf(cmd, "  %2d  %-10s conf %.2f  hue %5.1f  box %v\n", i+1, d.ColorName, d.Confidence, d.MeanHue, d.Box)
		}

		names := make([]string, 0, len(r.Counts))
		for name := range r.Counts {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool { return classOrder(names[i]) < classOrder(names[j]) })
		for _, name := range names {
			printf(cmd, "  %-10s %d\n", name+":", r.Counts[name])
		}
	}

	if r.OutputPath != "" {
		printf(cmd, "Output:   %s\n", r.OutputPath)
	}
}

// classOrder sorts colour names by class id.
func classOrder(name string) int {
	for _, c := range []color.Class{color.LightBlue, color.DarkBlue, color.Other} {
		if c.String() == name {
			return int(c)
		}
	}
	return len(name) + 100
}
