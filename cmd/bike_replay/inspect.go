package main

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/databike/replay/internal/session"
	"github.com/databike/replay/internal/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <timeline.gpx>",
		Short: "Print a summary of a timeline and its bike",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := session.Open(cmd.Context(), args[0], sessionOptions())
			if err != nil {
				return err
			}
			return renderInspect(cmd.OutOrStdout(), sess)
		},
	}
}

func renderInspect(w io.Writer, sess *session.Session) error {
	info := sess.Info()
	tl := sess.Timeline
	pterm.Fprintln(w, pterm.DefaultHeader.WithFullWidth().Sprint(info.TimelineName))

	summary, err := pterm.DefaultTable.WithHasHeader().WithData(timelineTable(sess)).Srender()
	if err != nil {
		return err
	}
	pterm.Fprintln(w, summary)

	bike := info.Bike
	bikeTable, err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"Bike", "Front gears", "Rear gears", "Front travel", "Rear travel", "Seat travel", "Front brake"},
		{
			bike.Name,
			fmt.Sprint(bike.FrontGears),
			fmt.Sprint(bike.RearGears),
			fmt.Sprintf("%g mm", bike.MaxFrontSus),
			fmt.Sprintf("%g mm", bike.MaxRearSus),
			fmt.Sprintf("%g mm", bike.MaxSeatPos),
			bike.FrontBrake.String(),
		},
	}).Srender()
	if err != nil {
		return err
	}
	pterm.Fprintln(w, bikeTable)

	if gap := tl.MinGearChangeGap(); sess.Scheduler.CurrentStepSize() > gap {
		pterm.Fprintln(w, pterm.Warning.Sprintf("step size %gs exceeds the minimum gear change gap %gs",
			sess.Scheduler.CurrentStepSize(), gap))
	}
	return nil
}

// timelineTable holds the summary rows of inspect.
func timelineTable(sess *session.Session) pterm.TableData {
	info := sess.Info()
	tl := sess.Timeline

	gap := "-"
	if g := tl.MinGearChangeGap(); !math.IsInf(g, 1) {
		gap = fmt.Sprintf("%.3fs", g)
	}
	return pterm.TableData{
		{"Field", "Value"},
		{"Source", info.SourcePath},
		{"Recorded", info.TimelineStart.Format(time.RFC3339)},
		{"Length", util.FormatPlaybackTime(info.Length)},
		{"Samples", fmt.Sprint(sess.Raw.Len())},
		{"Pedal offset", fmt.Sprintf("%g°", sess.Scheduler.PedalOffset())},
		{"Front gear changes", fmt.Sprint(max(len(tl.GearFront)-1, 0))},
		{"Rear gear changes", fmt.Sprint(max(len(tl.GearRear)-1, 0))},
		{"Min gear change gap", gap},
	}
}
