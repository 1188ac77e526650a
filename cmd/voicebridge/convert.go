package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soypete/voicebridge/pkg/timeconv"
)

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert between UTC instants and local wall time",
	}

	cmd.AddCommand(utcToLocalCmd())
	cmd.AddCommand(localToUTCCmd())

	return cmd
}

func utcToLocalCmd() *cobra.Command {
	var instant, tz string

	cmd := &cobra.Command{
		Use:   "utc-to-local",
		Short: "Print the wall date, time and offset of a UTC instant",
		Long: `Print the wall date, time and offset of a UTC instant.

Example:
  voicebridge convert utc-to-local --instant 2025-12-10T19:00:00Z --tz America/New_York`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := timeconv.ParseInstant(instant)
			if err != nil {
				return err
			}
			local, err := timeconv.UTCToLocal(t, tz)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", local.Date, local.Clock, local.Offset)
			return nil
		},
	}

	cmd.Flags().StringVar(&instant, "instant", "", "UTC instant, YYYY-MM-DDTHH:MM:SSZ")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone")
	_ = cmd.MarkFlagRequired("instant")
	_ = cmd.MarkFlagRequired("tz")

	return cmd
}

func localToUTCCmd() *cobra.Command {
	var date, clock, tz, offset string

	cmd := &cobra.Command{
		Use:   "local-to-utc",
		Short: "Print the UTC instant of a wall date and time",
		Long: `Print the UTC instant of a wall date and time.

--offset picks the occurrence of an ambiguous fall-back time.

Example:
  voicebridge convert local-to-utc --date 2025-11-02 --time 01:30 --tz America/New_York --offset -04:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := timeconv.Local{Date: date, Clock: clock, Offset: offset}.UTC(tz)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), timeconv.FormatInstant(t))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Wall date, YYYY-MM-DD")
	cmd.Flags().StringVar(&clock, "time", "", "Wall time, HH:MM")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone")
	cmd.Flags().StringVar(&offset, "offset", "", "UTC offset (+HH:MM) of the intended occurrence")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
	_ = cmd.MarkFlagRequired("tz")

	return cmd
}
