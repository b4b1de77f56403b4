package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/trackrec/trackrec/internal/routefile"
	"github.com/trackrec/trackrec/internal/track"
)

func newInspectCmd() *cobra.Command {
	var (
		gpx bool
		out string
	)

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Summarize a route file",
		Long: `Print the segments, point counts, distance and duration of a saved or
exported route document. With --gpx the route is converted to GPX instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			route, err := routefile.Unmarshal(data)
			if err != nil {
				return err
			}

			if gpx {
				doc, err := routefile.Export(route, routefile.FormatGPX)
				if err != nil {
					return err
				}
				return writeOutput(cmd, out, doc)
			}
			return printSummary(cmd.OutOrStdout(), route)
		},
	}

	cmd.Flags().BoolVar(&gpx, "gpx", false, "convert the route to GPX")
	cmd.Flags().StringVarP(&out, "out", "o", "", "GPX output file (default stdout)")
	return cmd
}

func printSummary(w io.Writer, r *track.Route) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	name := r.Name
	if name == "" {
		name = "(unnamed)"
	}
	duration := "-"
	if r.Duration != nil {
		duration = track.FormatDuration(*r.Duration)
	}

	fmt.Fprintf(tw, "name\t%s\n", name)
	fmt.Fprintf(tw, "segments\t%d\n", len(r.Segments))
	fmt.Fprintf(tw, "points\t%d\n", r.PointCount())
	fmt.Fprintf(tw, "distance\t%.3f km\n", track.RouteDistance(r))
	fmt.Fprintf(tw, "duration\t%s\n", duration)
	if p := r.Start(); p != nil {
		fmt.Fprintf(tw, "start\t%.6f,%.6f\n", p.Lat, p.Lon)
	}
	if p := r.Finish(); p != nil {
		fmt.Fprintf(tw, "finish\t%.6f,%.6f\n", p.Lat, p.Lon)
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SEGMENT\tPOINTS\tDISTANCE KM\tWALK\tVEHICLE")
	for i, seg := range r.Segments {
		var walk, vehicle int
		for _, p := range seg {
			switch p.Motion {
			case track.MotionWalk:
				walk++
			case track.MotionVehicle:
				vehicle++
			}
		}
		fmt.Fprintf(tw, "%d\t%d\t%.3f\t%d\t%d\n", i, len(seg), track.PathLength(seg), walk, vehicle)
	}
	return tw.Flush()
}
