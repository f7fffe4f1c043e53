package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arloliu/tagsync/device"
)

func newSimCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a time-tagging device simulator until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := flags.logger()
			if err != nil {
				return err
			}

			sim, err := device.StartSimulator(addr, l)
			if err != nil {
				return err
			}
			defer func() { _ = sim.Close() }()

			l.Info("device simulator listening", "addr", sim.Addr())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5025", "listen address of the simulated device")

	return cmd
}
