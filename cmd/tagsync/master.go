package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/tagsync/channel"
	"github.com/arloliu/tagsync/device"
	"github.com/arloliu/tagsync/node"
)

func newMasterCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "master",
		Short: "Run the master node and one synchronized acquisition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMaster(cmd.Context(), flags)
		},
	}
	nodeFlags(cmd, flags)

	return cmd
}

func runMaster(parent context.Context, flags *rootFlags) error {
	l, err := flags.logger()
	if err != nil {
		return err
	}

	cfg, err := flags.nodeConfig(channel.MasterRole, l)
	if err != nil {
		return err
	}

	recorder := &device.SimRecorder{Period: flags.simPeriod, ClockOffset: flags.simOffset}
	master, err := node.NewMaster(cfg, recorder)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := master.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = master.Close() }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report, err := master.StartAcquisition(ctx, 0, nil)
		if err != nil {
			return err
		}

		fmt.Printf("session %s: %d samples, offset %.1f ns (stddev %.1f ns, quality %.3f)\n",
			report.SessionID, report.Samples, report.MeanNs, report.StdDevNs, report.Quality)

		return nil
	})

	return g.Wait()
}
