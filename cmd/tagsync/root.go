package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/tagsync/channel"
	"github.com/arloliu/tagsync/logger"
	"github.com/arloliu/tagsync/node"
)

// rootFlags holds the options shared by the master and slave commands.
type rootFlags struct {
	logLevel   string
	outputDir  string
	textOutput bool

	device   string
	peer     string
	portBase int

	duration     time.Duration
	channels     []uint
	streaming    bool
	subDuration  time.Duration
	maxFiles     int
	syncFraction float64

	heartbeat time.Duration
	lookahead time.Duration

	simPeriod time.Duration
	simOffset time.Duration
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "tagsync",
		Short:         "Synchronized time-tag acquisition across two nodes",
		Long:          "tagsync coordinates near-simultaneous acquisitions on two time-tagging devices and correlates the residual clock offset between their timestamp streams.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVarP(&flags.outputDir, "output-dir", "o", ".", "directory for acquisition files and reports")
	pf.BoolVar(&flags.textOutput, "text", false, "write a text mirror next to every binary timestamp file")

	root.AddCommand(newMasterCmd(flags))
	root.AddCommand(newSlaveCmd(flags))
	root.AddCommand(newSimCmd(flags))
	root.AddCommand(newCorrelateCmd(flags))

	return root
}

// nodeFlags registers the options common to the master and slave commands.
func nodeFlags(cmd *cobra.Command, flags *rootFlags) {
	f := cmd.Flags()
	f.StringVar(&flags.device, "device", "127.0.0.1:5025", "TCP address of the local time-tagging device")
	f.StringVar(&flags.peer, "peer", "127.0.0.1", "host of the peer node")
	f.IntVar(&flags.portBase, "port-base", 0, "first port of the five-channel block (0 uses the defaults)")
	f.DurationVar(&flags.duration, "duration", 10*time.Second, "total acquisition window")
	f.UintSliceVar(&flags.channels, "channels", []uint{1, 2}, "device channels to acquire on")
	f.Float64Var(&flags.syncFraction, "sync-fraction", 0.1, "leading stream fraction used for correlation")
	f.DurationVar(&flags.lookahead, "lookahead", 200*time.Millisecond, "future margin of the shared trigger timestamp")
	f.DurationVar(&flags.heartbeat, "heartbeat-interval", time.Second, "heartbeat period")
	f.BoolVar(&flags.streaming, "streaming", false, "split the acquisition into sub-acquisitions")
	f.DurationVar(&flags.subDuration, "sub-duration", time.Second, "sub-acquisition duration in streaming mode")
	f.IntVar(&flags.maxFiles, "max-files", 0, "cap on streaming sub-acquisitions (0 means no cap)")
	f.DurationVar(&flags.simPeriod, "sim-period", time.Millisecond, "simulated event period per channel")
	f.DurationVar(&flags.simOffset, "sim-offset", 0, "simulated residual clock offset of the local device")
}

func (flags *rootFlags) logger() (logger.Logger, error) {
	var level logger.Level
	switch flags.logLevel {
	case "debug":
		level = logger.DebugLevel
	case "info":
		level = logger.InfoLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level %q", flags.logLevel)
	}

	return logger.NewSlog(level, false), nil
}

func (flags *rootFlags) ports() channel.Ports {
	if flags.portBase == 0 {
		return channel.DefaultPorts()
	}

	return channel.Ports{
		Trigger:   flags.portBase,
		Command:   flags.portBase + 1,
		Heartbeat: flags.portBase + 2,
		File:      flags.portBase + 3,
		Status:    flags.portBase + 4,
	}
}

func (flags *rootFlags) channelMask() []uint16 {
	if len(flags.channels) == 0 {
		return []uint16{1, 2}
	}

	mask := make([]uint16, 0, len(flags.channels))
	for _, ch := range flags.channels {
		mask = append(mask, uint16(ch))
	}

	return mask
}

func (flags *rootFlags) nodeConfig(role channel.Role, l logger.Logger) (*node.Config, error) {
	opts := []node.Option{
		node.WithPorts(flags.ports()),
		node.WithDuration(flags.duration),
		node.WithChannels(flags.channelMask()),
		node.WithSyncFraction(flags.syncFraction),
		node.WithOutputDir(flags.outputDir),
		node.WithHeartbeatInterval(flags.heartbeat, 3),
		node.WithTriggerLookahead(flags.lookahead),
		node.WithLogger(l),
	}
	if flags.textOutput {
		opts = append(opts, node.WithTextOutput())
	}
	if flags.streaming {
		opts = append(opts, node.WithStreaming(flags.subDuration, flags.maxFiles))
	}

	return node.NewConfig(role, flags.device, flags.peer, opts...)
}
