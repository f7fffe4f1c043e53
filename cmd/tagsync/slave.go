package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/arloliu/tagsync/channel"
	"github.com/arloliu/tagsync/device"
	"github.com/arloliu/tagsync/node"
)

func newSlaveCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slave",
		Short: "Run the slave node until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSlave(cmd.Context(), flags)
		},
	}
	nodeFlags(cmd, flags)

	return cmd
}

func runSlave(parent context.Context, flags *rootFlags) error {
	l, err := flags.logger()
	if err != nil {
		return err
	}

	cfg, err := flags.nodeConfig(channel.SlaveRole, l)
	if err != nil {
		return err
	}

	recorder := &device.SimRecorder{Period: flags.simPeriod, ClockOffset: flags.simOffset}
	slave, err := node.NewSlave(cfg, recorder)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := slave.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = slave.Close() }()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	return g.Wait()
}
