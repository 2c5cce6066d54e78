package main

import (
	"fmt"
	"io"
	"os"

	"github.com/databike/replay/internal/session"
	"github.com/spf13/cobra"
)

type trailOptions struct {
	sps int
	gps bool
	out string
}

func newTrailCmd() *cobra.Command {
	opts := &trailOptions{}
	cmd := &cobra.Command{
		Use:   "trail <timeline.gpx>",
		Short: "Export the trail of a timeline as WKT",
		Long: "Export the interpolated trail in scene units as a WKT LineString Z, " +
			"or with --gps the recorded fixes projected to EPSG:3857.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if opts.out != "" {
				f, err := os.Create(opts.out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return runTrail(cmd, w, args[0], opts)
		},
	}
	cmd.Flags().IntVar(&opts.sps, "sps", 10, "trail samples per second of timeline")
	cmd.Flags().BoolVar(&opts.gps, "gps", false, "export the projected GPS track instead of the trail")
	cmd.Flags().StringVarP(&opts.out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func runTrail(cmd *cobra.Command, w io.Writer, path string, opts *trailOptions) error {
	sess, err := session.Open(cmd.Context(), path, sessionOptions())
	if err != nil {
		return err
	}

	var wkt string
	if opts.gps {
		wkt, err = sess.TrackWKT()
	} else {
		wkt, err = sess.TrailWKT(opts.sps)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, wkt)
	return err
}
