package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ayusman/bsort/internal/app"
)

type resolveOutput struct {
	Found      bool       `json:"found"`
	Path       string     `json:"path,omitempty"`
	Tier       string     `json:"tier,omitempty"`
	SizeBytes  int64      `json:"size_bytes,omitempty"`
	ModTime    *time.Time `json:"mod_time,omitempty"`
	Candidates []string   `json:"candidates"`
}

func newResolveCmd(s *session) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which trained model inference would load",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.New(app.Config{Settings: s.settings, Logger: s.logger})

			out := resolveOutput{Candidates: a.Candidates()}
			cand, ok := a.Resolve()
			if ok {
				out.Found = true
				out.Path = cand.Path
				out.Tier = string(cand.Tier)
				size, modTime := diskUsage(cand.Path)
				out.SizeBytes = size
				if !modTime.IsZero() {
					out.ModTime = &modTime
				}
			}

			if s.flags.jsonMode {
				if err := printJSON(cmd, out); err != nil {
					return err
				}
			} else {
				printResolve(cmd, out, verbose)
			}

			if !ok {
				return fmt.Errorf("%w in %d search directories", app.ErrNoArtifact, len(out.Candidates))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every search directory")
	return cmd
}

func printResolve(cmd *cobra.Command, out resolveOutput, verbose bool) {
	if out.Found {
		printf(cmd, "%s\n", out.Path)
		if verbose {
			printf(cmd, "  tier:     %s\n", out.Tier)
			printf(cmd, "  size:     %s\n", humanize.Bytes(uint64(out.SizeBytes)))
			if out.ModTime != nil {
				printf(cmd, "  modified: %s\n", humanize.Time(*out.ModTime))
			}
		}
	}
	if !verbose && out.Found {
		return
	}

	printf(cmd, "Searched:\n")
	for _, dir := range out.Candidates {
		mark := "missing"
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			mark = "present"
		}
		printf(cmd, "  %-8s %s\n", mark, dir)
	}
}

// diskUsage returns the total size of path, which may be a directory, and
// its newest modification time.
func diskUsage(path string) (int64, time.Time) {
	var (
		size   int64
		newest time.Time
	)
	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			size += info.Size()
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return size, newest
}
