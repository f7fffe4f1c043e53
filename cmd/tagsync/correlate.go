package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/tagsync/correlate"
)

func newCorrelateCmd(flags *rootFlags) *cobra.Command {
	var (
		tolerance    time.Duration
		syncFraction float64
		sessionID    string
	)

	cmd := &cobra.Command{
		Use:   "correlate <master.bin> <slave.bin>",
		Short: "Correlate two recorded timestamp files offline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := flags.logger()
			if err != nil {
				return err
			}

			engine := correlate.New(correlate.Config{
				SyncFraction: syncFraction,
				Tolerance:    tolerance,
			}, l)

			report, err := engine.CorrelateFiles(args[0], args[1], flags.outputDir, sessionID)
			if err != nil {
				return err
			}

			fmt.Printf("%d samples, offset %.1f ns (min %d, max %d, stddev %.1f ns, quality %.3f)\n",
				report.Samples, report.MeanNs, report.MinNs, report.MaxNs, report.StdDevNs, report.Quality)
			if report.InsufficientData {
				fmt.Println("insufficient matched samples, offset statistics are not meaningful")
			}

			return nil
		},
	}

	f := cmd.Flags()
	f.DurationVar(&tolerance, "tolerance", time.Millisecond, "nearest-neighbor match window")
	f.Float64Var(&syncFraction, "sync-fraction", 0.1, "leading stream fraction used for correlation")
	f.StringVar(&sessionID, "session", "", "session ID to stamp into the report")

	return cmd
}
