package cli

import (
	"github.com/spf13/cobra"

	"github.com/ayusman/bsort/internal/capture"
	"github.com/ayusman/bsort/internal/config"
	"github.com/ayusman/bsort/internal/server"
)

func newServeCmd(s *session) *cobra.Command {
	var (
		addr      string
		staticDir string
		camera    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger and classification over HTTP",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.newApp(false)
			if err != nil {
				return err
			}

			watcher, err := config.NewWatcher(s.flags.configPath, func(settings *config.Settings, err error) {
				if err != nil {
					s.logger.Warn("Ignoring invalid settings change", "path", s.flags.configPath, "error", err)
					return
				}
				a.SetSettings(settings)
				s.logger.Info("Settings reloaded", "path", s.flags.configPath)
			})
			if err != nil {
				s.logger.Warn("Settings hot reload disabled", "error", err)
			} else {
				defer watcher.Close()
			}

			cfg := server.Config{
				StaticDir: staticDir,
				App:       a,
				Store:     a.Store(),
			}
			if cfg.Store != nil {
				cfg.Feed = server.NewRunFeed()
				a.OnRun(cfg.Feed.Publish)
			}
			if cmd.Flags().Changed("camera") {
				dev, err := capture.ParseDevice(camera)
				if err != nil {
					return usageError{err}
				}
				cc := s.settings.Camera
				cam := capture.NewCamera(dev, cc.Width, cc.Height)
				defer cam.Close()
				cfg.Camera = cam
			}

			if addr == "" {
				addr = s.settings.Server.Addr
			}
			s.logger.Info("Starting server", "addr", addr)
			return server.New(cfg).ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from settings)")
	cmd.Flags().StringVar(&staticDir, "static", "", "directory of static files to serve at /")
	cmd.Flags().StringVar(&camera, "camera", "", "camera index, video file or stream URL for the /api/stream preview")
	return cmd
}
